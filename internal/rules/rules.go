// Package rules holds the correction rule registry. A rule is a pure
// matcher that tests one memory against one document and proposes field
// corrections. Rules never mutate the document and never invent their own
// confidence: proposals carry the triggering memory's id and confidence
// verbatim.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
)

// Registry errors.
var (
	ErrUnknownPattern = errors.New("no pattern registered for field")
	ErrDuplicateRule  = errors.New("rule already registered for (vendor, pattern)")
)

// Correction is a candidate field change, produced and consumed within a
// single pipeline run.
type Correction struct {
	// Field is the target field path, possibly indexed ("lineItems[2].sku").
	Field string `json:"field"`

	// From is the current value, To the proposed one.
	From string `json:"from"`
	To   string `json:"to"`

	// SourceMemoryID identifies the memory that triggered the proposal.
	SourceMemoryID string `json:"sourceMemoryId"`

	// Confidence is copied verbatim from the triggering memory.
	Confidence float64 `json:"confidence"`
}

// Matcher tests a memory against a document. It returns nil when the rule
// does not fire. Most rules emit at most one correction; the line-item
// classifier emits one per matching item, each on its own indexed path.
type Matcher func(doc *invoice.Document, m *memorybank.Memory) []Correction

type ruleKey struct {
	vendor  string // "" is the any-vendor wildcard
	pattern string
}

// Registry maps (vendor, pattern) to matchers, with an any-vendor wildcard
// fallback, and tracks the field<->pattern mapping used by the Learn stage.
// New behavior is added by registering rules, never by editing a dispatch
// function.
type Registry struct {
	mu             sync.RWMutex
	rules          map[ruleKey]Matcher
	patternByField map[string]string
	fieldByPattern map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rules:          make(map[ruleKey]Matcher),
		patternByField: make(map[string]string),
		fieldByPattern: make(map[string]string),
	}
}

// Register binds a matcher to (vendor, pattern) and records the pattern's
// target field for feedback resolution. An empty vendor registers the rule
// for all vendors. Indexed fields register their normalized form
// ("lineItems[].sku").
func (r *Registry) Register(vendor, pattern, field string, m Matcher) error {
	if pattern == "" {
		return memorybank.ErrEmptyPattern
	}
	if m == nil {
		return fmt.Errorf("matcher for pattern %s cannot be nil", pattern)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := ruleKey{vendor, pattern}
	if _, exists := r.rules[key]; exists {
		return fmt.Errorf("%w: (%q, %q)", ErrDuplicateRule, vendor, pattern)
	}
	r.rules[key] = m
	if field != "" {
		r.patternByField[field] = pattern
		r.fieldByPattern[pattern] = field
	}
	return nil
}

// Match runs the matcher registered for the memory's pattern against the
// document. The rule gate is conjunctive: vendor, pattern, and the
// matcher's own content predicate all have to hold.
func (r *Registry) Match(doc *invoice.Document, m *memorybank.Memory) []Correction {
	if doc == nil || m == nil || m.Vendor != doc.Vendor {
		return nil
	}

	r.mu.RLock()
	matcher, ok := r.rules[ruleKey{doc.Vendor, m.Pattern}]
	if !ok {
		matcher, ok = r.rules[ruleKey{"", m.Pattern}]
	}
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return matcher(doc, m)
}

// indexedPath collapses a line-item index so "lineItems[2].sku" resolves
// through the same registration as "lineItems[].sku".
var indexedPath = regexp.MustCompile(`\[\d+\]`)

// PatternForField resolves the pattern name to reinforce or penalize when
// feedback arrives for a correction on the given field.
func (r *Registry) PatternForField(field string) (string, error) {
	normalized := indexedPath.ReplaceAllString(field, "[]")

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.patternByField[normalized]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownPattern, field)
}

// FieldForPattern returns the field a pattern targets.
func (r *Registry) FieldForPattern(pattern string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fieldByPattern[pattern]
	return f, ok
}
