package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
)

func validDoc() *invoice.Document {
	return &invoice.Document{
		DocumentID: "doc-1",
		Vendor:     "acme",
		Fields: invoice.Fields{
			InvoiceNumber: "INV-100",
			IssueDate:     "2024-02-03",
			NetTotal:      100.00,
			TaxTotal:      19.00,
			GrossTotal:    119.00,
		},
	}
}

func TestArithmetic_Approves(t *testing.T) {
	v, err := NewArithmetic().Evaluate(context.Background(), validDoc())
	require.NoError(t, err)
	assert.True(t, v.Approved())
	assert.Equal(t, StatusApproved, v.Status)
}

func TestArithmetic_ToleratesHalfCent(t *testing.T) {
	doc := validDoc()
	doc.Fields.GrossTotal = 119.004

	v, err := NewArithmetic().Evaluate(context.Background(), doc)
	require.NoError(t, err)
	assert.True(t, v.Approved())
}

func TestArithmetic_RejectsMismatchedTotals(t *testing.T) {
	doc := validDoc()
	doc.Fields.TaxTotal = 7.00

	v, err := NewArithmetic().Evaluate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, v.Approved())
	assert.Contains(t, v.Reason, "reconcile")
}

func TestArithmetic_RejectsMissingIdentity(t *testing.T) {
	doc := validDoc()
	doc.Fields.InvoiceNumber = ""
	v, err := NewArithmetic().Evaluate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, v.Approved())

	doc = validDoc()
	doc.Fields.IssueDate = "03.02.2024"
	v, err = NewArithmetic().Evaluate(context.Background(), doc)
	require.NoError(t, err)
	assert.False(t, v.Approved())
	assert.Contains(t, v.Reason, "issue date")
}
