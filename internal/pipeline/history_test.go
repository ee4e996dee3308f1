package pipeline

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
)

func historyDoc(id, vendor, number, issueDate string) *invoice.Document {
	return &invoice.Document{
		DocumentID: id,
		Vendor:     vendor,
		Fields: invoice.Fields{
			InvoiceNumber: number,
			IssueDate:     issueDate,
		},
	}
}

func TestHistory_MatchWindow(t *testing.T) {
	tests := []struct {
		name      string
		issueDate string
		want      bool
	}{
		{"same day", "2024-02-03", true},
		{"one day apart", "2024-02-04", true},
		{"two days apart", "2024-02-05", true},
		{"two days before", "2024-02-01", true},
		{"three days apart", "2024-02-06", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHistory(8)
			h.Add(historyDoc("doc-1", "acme", "INV-100", "2024-02-03"))

			got, _ := h.Match(historyDoc("doc-2", "acme", "INV-100", tt.issueDate))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHistory_RequiresSameVendorAndNumber(t *testing.T) {
	h := NewHistory(8)
	h.Add(historyDoc("doc-1", "acme", "INV-100", "2024-02-03"))

	got, _ := h.Match(historyDoc("doc-2", "globex", "INV-100", "2024-02-03"))
	assert.False(t, got)

	got, _ = h.Match(historyDoc("doc-3", "acme", "INV-200", "2024-02-03"))
	assert.False(t, got)
}

func TestHistory_EmptyInvoiceNumberNeverMatches(t *testing.T) {
	h := NewHistory(8)
	h.Add(historyDoc("doc-1", "acme", "", "2024-02-03"))

	got, _ := h.Match(historyDoc("doc-2", "acme", "", "2024-02-03"))
	assert.False(t, got)
}

func TestHistory_MalformedDateIsReportedNotMatched(t *testing.T) {
	h := NewHistory(8)
	h.Add(historyDoc("doc-1", "acme", "INV-100", "2024-02-03"))

	got, detail := h.Match(historyDoc("doc-2", "acme", "INV-100", "03.02.2024"))
	assert.False(t, got)
	assert.Contains(t, detail, "malformed")
}

func TestHistory_RingEviction(t *testing.T) {
	h := NewHistory(4)
	for i := 0; i < 6; i++ {
		h.Add(historyDoc(fmt.Sprintf("doc-%d", i), "acme", fmt.Sprintf("INV-%d", i), "2024-02-03"))
	}

	assert.Equal(t, 4, h.Len())

	// The two oldest entries were evicted.
	got, _ := h.Match(historyDoc("x", "acme", "INV-0", "2024-02-03"))
	assert.False(t, got)
	got, _ = h.Match(historyDoc("x", "acme", "INV-1", "2024-02-03"))
	assert.False(t, got)
	got, _ = h.Match(historyDoc("x", "acme", "INV-5", "2024-02-03"))
	assert.True(t, got)
}
