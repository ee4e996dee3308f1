// Package invoice defines the structured document model the correction
// pipeline operates on. Documents are immutable as received: the pipeline
// never mutates an input, it works on deep copies.
package invoice

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Document-related errors.
var (
	ErrUnknownField  = errors.New("unknown field path")
	ErrMalformedDate = errors.New("malformed date")
)

// DateLayout is the canonical wire format for document dates (ISO 8601).
const DateLayout = "2006-01-02"

// LineItem is a single billed position on an invoice.
type LineItem struct {
	Description string  `json:"description"`
	SKU         string  `json:"sku"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

// Fields holds the structured business fields of an invoice.
type Fields struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	IssueDate     string     `json:"issueDate"`
	ServiceDate   string     `json:"serviceDate"`
	Currency      string     `json:"currency"`
	NetTotal      float64    `json:"netTotal"`
	GrossTotal    float64    `json:"grossTotal"`
	TaxTotal      float64    `json:"taxTotal"`
	LineItems     []LineItem `json:"lineItems"`
}

// Document is an invoice as received from extraction, together with the
// raw text it was extracted from and the extractor's own confidence.
type Document struct {
	DocumentID string  `json:"documentId"`
	Vendor     string  `json:"vendor"`
	Fields     Fields  `json:"fields"`
	RawText    string  `json:"rawText"`
	Confidence float64 `json:"confidence"`
}

// Clone returns a deep copy of the document. Corrections are applied to
// clones only, so callers keep the original untouched.
func (d *Document) Clone() Document {
	out := *d
	if d.Fields.LineItems != nil {
		items := make([]LineItem, len(d.Fields.LineItems))
		copy(items, d.Fields.LineItems)
		out.Fields.LineItems = items
	}
	return out
}

// lineItemPath matches indexed line-item field paths like "lineItems[2].sku".
var lineItemPath = regexp.MustCompile(`^lineItems\[(\d+)\]\.sku$`)

// Get returns the string rendering of the field at the given path.
// Money fields render with two decimal places.
func (f *Fields) Get(path string) (string, error) {
	switch path {
	case "invoiceNumber":
		return f.InvoiceNumber, nil
	case "issueDate":
		return f.IssueDate, nil
	case "serviceDate":
		return f.ServiceDate, nil
	case "currency":
		return f.Currency, nil
	case "netTotal":
		return decimal.NewFromFloat(f.NetTotal).StringFixed(2), nil
	case "grossTotal":
		return decimal.NewFromFloat(f.GrossTotal).StringFixed(2), nil
	case "taxTotal":
		return decimal.NewFromFloat(f.TaxTotal).StringFixed(2), nil
	}
	if m := lineItemPath.FindStringSubmatch(path); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(f.LineItems) {
			return "", fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		return f.LineItems[idx].SKU, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownField, path)
}

// Set writes a string value into the field at the given path, parsing
// numeric fields as needed.
func (f *Fields) Set(path, value string) error {
	switch path {
	case "invoiceNumber":
		f.InvoiceNumber = value
		return nil
	case "issueDate":
		f.IssueDate = value
		return nil
	case "serviceDate":
		f.ServiceDate = value
		return nil
	case "currency":
		f.Currency = value
		return nil
	case "netTotal", "grossTotal", "taxTotal":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("parsing %s value %q: %w", path, value, err)
		}
		switch path {
		case "netTotal":
			f.NetTotal = v
		case "grossTotal":
			f.GrossTotal = v
		case "taxTotal":
			f.TaxTotal = v
		}
		return nil
	}
	if m := lineItemPath.FindStringSubmatch(path); m != nil {
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 0 || idx >= len(f.LineItems) {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
		f.LineItems[idx].SKU = value
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, path)
}

// ParseDate parses an ISO 8601 document date (issue date, service date).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}
	return t, nil
}
