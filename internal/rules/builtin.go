package rules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
)

// Built-in pattern names. Memories reference these; the bootstrap loader
// seeds them from historical corrections.
const (
	PatternMissingServiceDate = "missing_service_date"
	PatternTaxRecalculation   = "tax_recalculation"
	PatternCurrencyRecovery   = "currency_recovery"
	PatternLineItemSKU        = "line_item_classification"
)

// Builtin returns a registry with the built-in correction rules registered
// for all vendors. Vendor-specific overrides can be registered on top.
func Builtin() *Registry {
	r := NewRegistry()

	// Registration only fails on duplicates; the built-in set has none.
	_ = r.Register("", PatternMissingServiceDate, "serviceDate", matchMissingServiceDate)
	_ = r.Register("", PatternTaxRecalculation, "taxTotal", matchTaxRecalculation)
	_ = r.Register("", PatternCurrencyRecovery, "currency", matchCurrencyRecovery)
	_ = r.Register("", PatternLineItemSKU, "lineItems[].sku", matchLineItemSKU)

	return r
}

// serviceDateLabel marks raw text that carries a labeled service date.
var serviceDateLabel = regexp.MustCompile(`(?i)\b(leistungsdatum|leistungszeitraum|service\s+date)\b`)

// dottedDate is the DD.MM.YYYY token shape used on German-style invoices.
var dottedDate = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`)

// matchMissingServiceDate recovers an empty service date from a labeled
// DD.MM.YYYY token in the raw text, re-emitted as YYYY-MM-DD.
func matchMissingServiceDate(doc *invoice.Document, m *memorybank.Memory) []Correction {
	if doc.Fields.ServiceDate != "" {
		return nil
	}
	if !serviceDateLabel.MatchString(doc.RawText) {
		return nil
	}

	token := dottedDate.FindString(doc.RawText)
	if token == "" {
		return nil
	}
	parsed, err := time.Parse("02.01.2006", token)
	if err != nil {
		// Shape matched but the token is not a real date (e.g. 99.99.2024).
		return nil
	}

	return []Correction{{
		Field:          "serviceDate",
		From:           "",
		To:             parsed.Format(invoice.DateLayout),
		SourceMemoryID: m.ID,
		Confidence:     m.Confidence,
	}}
}

// inclusivePricing marks raw text stating that prices already include tax.
var inclusivePricing = regexp.MustCompile(`(?i)(inkl\.?\s*mwst|inklusive\s+mehrwertsteuer|prices?\s+include|incl\.?\s*vat|tax\s+included)`)

// matchTaxRecalculation recomputes the tax field as gross minus net,
// rounded to two decimal places, when inclusive-pricing language is present.
func matchTaxRecalculation(doc *invoice.Document, m *memorybank.Memory) []Correction {
	if !inclusivePricing.MatchString(doc.RawText) {
		return nil
	}

	gross := decimal.NewFromFloat(doc.Fields.GrossTotal)
	net := decimal.NewFromFloat(doc.Fields.NetTotal)
	recomputed := gross.Sub(net).Round(2)

	current := decimal.NewFromFloat(doc.Fields.TaxTotal).Round(2)
	if recomputed.Equal(current) {
		return nil
	}

	return []Correction{{
		Field:          "taxTotal",
		From:           current.StringFixed(2),
		To:             recomputed.StringFixed(2),
		SourceMemoryID: m.ID,
		Confidence:     m.Confidence,
	}}
}

// currencyHints maps symbols and keywords to ISO 4217 codes, checked in
// order so the first hint present in the text wins.
var currencyHints = []struct {
	hint string
	code string
}{
	{"€", "EUR"},
	{"EUR", "EUR"},
	{"£", "GBP"},
	{"GBP", "GBP"},
	{"$", "USD"},
	{"USD", "USD"},
}

// matchCurrencyRecovery fills an empty currency field from a symbol or
// keyword in the raw text.
func matchCurrencyRecovery(doc *invoice.Document, m *memorybank.Memory) []Correction {
	if doc.Fields.Currency != "" {
		return nil
	}

	for _, h := range currencyHints {
		if strings.Contains(doc.RawText, h.hint) {
			return []Correction{{
				Field:          "currency",
				From:           "",
				To:             h.code,
				SourceMemoryID: m.ID,
				Confidence:     m.Confidence,
			}}
		}
	}
	return nil
}

// skuKeywords classifies line items by description keyword. Checked in
// order; the first keyword contained in the description decides the SKU.
var skuKeywords = []struct {
	keyword string
	sku     string
}{
	{"consulting", "SRV-CONSULTING"},
	{"beratung", "SRV-CONSULTING"},
	{"support", "SRV-SUPPORT"},
	{"wartung", "SRV-SUPPORT"},
	{"license", "LIC-SOFTWARE"},
	{"lizenz", "LIC-SOFTWARE"},
	{"shipping", "LOG-SHIPPING"},
	{"freight", "LOG-SHIPPING"},
	{"versand", "LOG-SHIPPING"},
}

// matchLineItemSKU proposes a SKU for every line item with an empty
// identifier and a classifiable description. Each proposal addresses its
// item by position.
func matchLineItemSKU(doc *invoice.Document, m *memorybank.Memory) []Correction {
	var out []Correction
	for i, item := range doc.Fields.LineItems {
		if item.SKU != "" {
			continue
		}
		desc := strings.ToLower(item.Description)
		for _, kw := range skuKeywords {
			if strings.Contains(desc, kw.keyword) {
				out = append(out, Correction{
					Field:          fmt.Sprintf("lineItems[%d].sku", i),
					From:           "",
					To:             kw.sku,
					SourceMemoryID: m.ID,
					Confidence:     m.Confidence,
				})
				break
			}
		}
	}
	return out
}
