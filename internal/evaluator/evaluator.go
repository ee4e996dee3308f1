// Package evaluator defines the ground-truth oracle consumed by drivers.
// The pipeline core never calls it; drivers translate its verdict into the
// boolean humanApproved parameter.
package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
)

// Status is the oracle's verdict on a normalized document.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Verdict is the oracle's answer.
type Verdict struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

// Approved reports whether the verdict accepts the document.
func (v Verdict) Approved() bool {
	return v.Status == StatusApproved
}

// Evaluator judges a normalized document against ground truth.
type Evaluator interface {
	Evaluate(ctx context.Context, doc *invoice.Document) (Verdict, error)
}

// halfCent is the tolerance for money arithmetic checks.
var halfCent = decimal.NewFromFloat(0.005)

// Arithmetic is a deterministic evaluator: it approves a document when the
// required identity fields are present and net + tax reconciles with gross
// within half a cent.
type Arithmetic struct{}

// NewArithmetic creates the deterministic evaluator.
func NewArithmetic() *Arithmetic {
	return &Arithmetic{}
}

// Evaluate judges the document. It never returns an error; the error
// return exists for oracle implementations that call out externally.
func (a *Arithmetic) Evaluate(_ context.Context, doc *invoice.Document) (Verdict, error) {
	if doc.Fields.InvoiceNumber == "" {
		return Verdict{Status: StatusRejected, Reason: "invoice number missing"}, nil
	}
	if _, err := invoice.ParseDate(doc.Fields.IssueDate); err != nil {
		return Verdict{Status: StatusRejected, Reason: fmt.Sprintf("issue date invalid: %v", err)}, nil
	}

	net := decimal.NewFromFloat(doc.Fields.NetTotal)
	tax := decimal.NewFromFloat(doc.Fields.TaxTotal)
	gross := decimal.NewFromFloat(doc.Fields.GrossTotal)

	diff := net.Add(tax).Sub(gross).Abs()
	if diff.GreaterThan(halfCent) {
		return Verdict{
			Status: StatusRejected,
			Reason: fmt.Sprintf("totals do not reconcile: net %s + tax %s != gross %s", net.StringFixed(2), tax.StringFixed(2), gross.StringFixed(2)),
		}, nil
	}

	return Verdict{Status: StatusApproved, Reason: "totals reconcile"}, nil
}
