// Package memorybank stores vendor-scoped correction patterns ("memories")
// with a confidence score and an approval/rejection history. Confidence
// erodes over time when a memory is not reinforced and is adjusted by the
// pipeline's Learn stage based on human verdicts.
package memorybank

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory bank operations.
var (
	ErrEmptyVendor        = errors.New("vendor cannot be empty")
	ErrEmptyPattern       = errors.New("pattern cannot be empty")
	ErrInvalidType        = errors.New("type must be 'vendor', 'correction' or 'resolution'")
	ErrInvalidConfidence  = errors.New("confidence must be between 0.0 and 1.0")
	ErrMalformedTimestamp = errors.New("malformed last-updated timestamp")
	ErrStoreUnavailable   = errors.New("memory store unavailable")
)

// Confidence model constants.
const (
	// MinConfidence is the floor decay can never cross.
	MinConfidence = 0.2

	// DecayRatePerDay is the confidence lost per full day without reinforcement.
	DecayRatePerDay = 0.01

	// AutoCorrectThreshold is the confidence at or above which a proposed
	// correction is applied without human sign-off.
	AutoCorrectThreshold = 0.8

	// MaxConfidence is the ceiling reinforcement can never exceed.
	MaxConfidence = 0.95

	// RejectionPenalty is subtracted from confidence on a single rejection.
	// One rejection is catastrophic to trust on purpose.
	RejectionPenalty = 0.3

	// ColdStartLearningRate is the flat reinforcement increment used while
	// a memory's confidence is still below the automation threshold.
	ColdStartLearningRate = 0.05
)

// Type categorizes what a memory describes.
type Type string

const (
	// TypeVendor captures vendor-level knowledge (formats, quirks).
	TypeVendor Type = "vendor"

	// TypeCorrection captures a learned field correction pattern.
	TypeCorrection Type = "correction"

	// TypeResolution captures how an escalated case was resolved.
	TypeResolution Type = "resolution"
)

// Memory is a persisted belief about a correction pattern for one vendor.
//
// The store holds at most one memory per (vendor, pattern) pair. Memories
// are created when a pattern is first learned, mutated by every Learn step
// and decay evaluation, and never deleted.
type Memory struct {
	// ID is the unique memory identifier (UUID).
	ID string `json:"id"`

	// Type categorizes the memory.
	Type Type `json:"type"`

	// Vendor scopes this memory to one document issuer.
	Vendor string `json:"vendor"`

	// Pattern identifies the correction pattern (e.g. "missing_service_date").
	Pattern string `json:"pattern"`

	// Confidence is the current trust score in [0,1].
	Confidence float64 `json:"confidence"`

	// Approvals counts accepted corrections sourced from this memory.
	Approvals int `json:"approvals"`

	// Rejections counts rejected corrections sourced from this memory.
	Rejections int `json:"rejections"`

	// LastUpdated is when confidence or counters last changed.
	// Decay is measured from this instant.
	LastUpdated time.Time `json:"lastUpdated"`
}

// New creates a memory with a generated UUID and the current time.
func New(vendor, pattern string, typ Type, confidence float64) (*Memory, error) {
	m := &Memory{
		ID:          uuid.New().String(),
		Type:        typ,
		Vendor:      vendor,
		Pattern:     pattern,
		Confidence:  confidence,
		LastUpdated: time.Now(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the memory's invariants.
func (m *Memory) Validate() error {
	if m.ID == "" {
		return errors.New("memory ID cannot be empty")
	}
	if _, err := uuid.Parse(m.ID); err != nil {
		return fmt.Errorf("invalid memory ID %q: %w", m.ID, err)
	}
	if m.Vendor == "" {
		return ErrEmptyVendor
	}
	if m.Pattern == "" {
		return ErrEmptyPattern
	}
	if m.Type != TypeVendor && m.Type != TypeCorrection && m.Type != TypeResolution {
		return ErrInvalidType
	}
	if m.Confidence < 0.0 || m.Confidence > 1.0 {
		return ErrInvalidConfidence
	}
	if m.Approvals < 0 || m.Rejections < 0 {
		return errors.New("approval and rejection counters cannot be negative")
	}
	return nil
}
