package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
)

// DefaultHistoryCapacity bounds the duplicate-detection window.
const DefaultHistoryCapacity = 1024

// duplicateWindowDays is the inclusive issue-date distance that still
// counts as the same submission.
const duplicateWindowDays = 2

// History is a bounded ring buffer of previously processed documents used
// by the duplicate guard. Once full, the oldest entries are evicted.
type History struct {
	mu      sync.Mutex
	entries []historyEntry
	next    int
	full    bool
}

type historyEntry struct {
	documentID    string
	vendor        string
	invoiceNumber string
	issueDate     string
}

// NewHistory creates a history retaining up to capacity documents.
// Non-positive capacities fall back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{entries: make([]historyEntry, capacity)}
}

// Add appends a processed document to the retained window.
func (h *History) Add(doc *invoice.Document) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = historyEntry{
		documentID:    doc.DocumentID,
		vendor:        doc.Vendor,
		invoiceNumber: doc.Fields.InvoiceNumber,
		issueDate:     doc.Fields.IssueDate,
	}
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of retained documents.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Match scans for a near-duplicate of doc: same vendor, same non-empty
// invoice number, issue dates at most two days apart (inclusive). It
// returns a human-readable detail for the audit trail. Unparseable issue
// dates never match; the malformed date is called out in the detail so the
// gap is visible instead of silently swallowed.
func (h *History) Match(doc *invoice.Document) (bool, string) {
	if doc.Fields.InvoiceNumber == "" {
		return false, ""
	}

	docDate, docErr := invoice.ParseDate(doc.Fields.IssueDate)

	h.mu.Lock()
	defer h.mu.Unlock()

	count := h.next
	if h.full {
		count = len(h.entries)
	}
	for i := 0; i < count; i++ {
		e := h.entries[i]
		if e.vendor != doc.Vendor || e.invoiceNumber != doc.Fields.InvoiceNumber {
			continue
		}
		if docErr != nil {
			return false, fmt.Sprintf("possible duplicate of %s but issue date %q is malformed", e.documentID, doc.Fields.IssueDate)
		}
		entryDate, err := invoice.ParseDate(e.issueDate)
		if err != nil {
			return false, fmt.Sprintf("possible duplicate of %s but its issue date %q is malformed", e.documentID, e.issueDate)
		}

		days := math.Abs(docDate.Sub(entryDate).Hours() / 24)
		if days <= duplicateWindowDays {
			return true, fmt.Sprintf("duplicate of %s (vendor %s, invoice %s, issue dates %d days apart)",
				e.documentID, e.vendor, e.invoiceNumber, int(days))
		}
	}
	return false, ""
}
