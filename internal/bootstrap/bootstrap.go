// Package bootstrap seeds the memory bank from a history of manual
// corrections, so a fresh deployment does not start completely cold.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
)

const (
	// SeedBaseConfidence is the trust assigned to a pattern seen once in
	// the historical record.
	SeedBaseConfidence = 0.6

	// SeedOccurrenceBonus is added per extra historical occurrence.
	SeedOccurrenceBonus = 0.05

	// SeedMaxConfidence caps seeded trust below the automation threshold
	// so every seeded pattern must earn at least one live approval before
	// it auto-corrects.
	SeedMaxConfidence = 0.8
)

var (
	ErrEmptyHistory = errors.New("bootstrap: history contains no records")
)

// Record is one historical correction observed for a vendor.
type Record struct {
	Vendor      string `yaml:"vendor" json:"vendor"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	Field       string `yaml:"field" json:"field"`
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Occurrences int    `yaml:"occurrences" json:"occurrences"`
}

// History is the on-disk bootstrap document.
type History struct {
	Corrections []Record `yaml:"corrections" json:"corrections"`
}

// Summary reports what a seeding run did.
type Summary struct {
	Seeded  int `json:"seeded"`
	Skipped int `json:"skipped"`
}

// Parse decodes a YAML bootstrap document.
func Parse(data []byte) (*History, error) {
	var h History
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("parse bootstrap history: %w", err)
	}
	if len(h.Corrections) == 0 {
		return nil, ErrEmptyHistory
	}
	return &h, nil
}

// ParseFile reads and decodes a YAML bootstrap document from disk.
func ParseFile(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bootstrap history: %w", err)
	}
	return Parse(data)
}

// SeedConfidence computes the starting trust for a pattern with the given
// number of historical occurrences.
func SeedConfidence(occurrences int) float64 {
	if occurrences < 1 {
		occurrences = 1
	}
	conf := SeedBaseConfidence + SeedOccurrenceBonus*float64(occurrences-1)
	if conf > SeedMaxConfidence {
		conf = SeedMaxConfidence
	}
	return conf
}

// Seed writes one correction memory per record into the store. Records
// with a missing vendor or pattern are skipped and counted rather than
// aborting the run. Seeding goes through the store's merge path, so
// re-running bootstrap never lowers confidence earned since.
func Seed(ctx context.Context, store memorybank.Store, h *History, logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var sum Summary
	for _, rec := range h.Corrections {
		m, err := memorybank.New(rec.Vendor, rec.Pattern, memorybank.TypeCorrection, SeedConfidence(rec.Occurrences))
		if err != nil {
			logger.Warn("skipping bootstrap record",
				zap.String("vendor", rec.Vendor),
				zap.String("pattern", rec.Pattern),
				zap.Error(err))
			sum.Skipped++
			continue
		}
		if err := store.Save(ctx, m); err != nil {
			return sum, fmt.Errorf("seed memory for %s/%s: %w", rec.Vendor, rec.Pattern, err)
		}
		sum.Seeded++
	}

	logger.Info("bootstrap complete",
		zap.Int("seeded", sum.Seeded),
		zap.Int("skipped", sum.Skipped))
	return sum, nil
}
