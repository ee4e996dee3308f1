// Package pipeline implements the four-stage decision pipeline that
// normalizes documents with learned correction patterns: Recall memories,
// Apply rules, Decide automation vs. escalation, Learn from verdicts.
//
// One call processes one document start to finish, synchronously, with no
// backward transitions. The Learn stage's read-modify-write is serialized
// behind a mutex so concurrent callers cannot lose confidence updates.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/invoice"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/memorybank"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/rules"
	"github.com/Harsh-End-Dot/invoice-memory-agent/internal/telemetry"
)

// AuditEntry is one step of the per-run audit trail.
type AuditEntry struct {
	Step      string    `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// Result is the sole externally observable outcome of a pipeline run. It
// is fully reconstructible from the input document and the memory state at
// call time (deterministic given a fixed clock).
type Result struct {
	NormalizedDocument  invoice.Document   `json:"normalizedDocument"`
	ProposedCorrections []rules.Correction `json:"proposedCorrections"`
	RequiresHumanReview bool               `json:"requiresHumanReview"`
	Reasoning           string             `json:"reasoning"`
	ConfidenceScore     float64            `json:"confidenceScore"`
	MemoryUpdates       []string           `json:"memoryUpdates"`
	AuditTrail          []AuditEntry       `json:"auditTrail"`
}

// Engine orchestrates the decision pipeline.
type Engine struct {
	store    memorybank.Store
	registry *rules.Registry
	history  *History
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	nowFn    func() time.Time

	// learnMu serializes the Learn stage's read-modify-write on memory
	// records across concurrent callers.
	learnMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory replaces the default duplicate-detection history.
func WithHistory(h *History) Option {
	return func(e *Engine) { e.history = h }
}

// WithMetrics attaches pipeline metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the engine clock. Test use only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFn = now }
}

// NewEngine creates a pipeline engine.
func NewEngine(store memorybank.Store, registry *rules.Registry, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("rule registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		store:    store,
		registry: registry,
		history:  NewHistory(DefaultHistoryCapacity),
		logger:   logger,
		nowFn:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Process runs the pipeline for one document.
//
// humanApproved is the ternary verdict: nil means no feedback (Learn is
// skipped), true reinforces the originating memories, false penalizes
// them. The input document is never mutated; corrections are applied to
// the normalized copy in the result.
func (e *Engine) Process(ctx context.Context, doc *invoice.Document, humanApproved *bool) (*Result, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}
	start := time.Now()

	result := &Result{
		NormalizedDocument:  doc.Clone(),
		ProposedCorrections: []rules.Correction{},
		MemoryUpdates:       []string{},
	}
	audit := func(step, details string) {
		result.AuditTrail = append(result.AuditTrail, AuditEntry{Step: step, Timestamp: e.nowFn(), Details: details})
	}

	// Duplicate guard: reprocessing a near-duplicate submission would
	// feed contradictory evidence into Learn, so it short-circuits.
	if dup, detail := e.history.Match(doc); dup {
		result.RequiresHumanReview = true
		result.Reasoning = fmt.Sprintf("Duplicate submission: %s. Escalated without reprocessing.", detail)
		audit("duplicate_check", detail)
		e.observe("duplicate", start)
		e.logger.Info("duplicate document short-circuited",
			zap.String("document_id", doc.DocumentID),
			zap.String("vendor", doc.Vendor))
		return result, nil
	} else if detail != "" {
		audit("duplicate_check", detail)
	} else {
		audit("duplicate_check", "no duplicate in retained history")
	}

	// Recall.
	memories, err := e.store.MemoriesForVendor(ctx, doc.Vendor)
	if err != nil {
		return nil, fmt.Errorf("recalling memories for vendor %s: %w", doc.Vendor, err)
	}
	if len(memories) == 0 {
		audit("recall", fmt.Sprintf("cold start: no memories for vendor %s", doc.Vendor))
	} else {
		audit("recall", recallSummary(memories))
	}

	// Apply: every rule against every recalled memory, input untouched.
	var candidates []rules.Correction
	for i := range memories {
		candidates = append(candidates, e.registry.Match(doc, &memories[i])...)
	}
	audit("apply", fmt.Sprintf("%d candidate corrections from %d memories", len(candidates), len(memories)))

	// Deduplicate: at most one correction per field path.
	deduped := dedupe(candidates)
	result.ProposedCorrections = deduped
	audit("deduplicate", fmt.Sprintf("%d candidates after per-field dedup", len(deduped)))
	if e.metrics != nil {
		e.metrics.CorrectionsProposed.Add(float64(len(deduped)))
	}

	// Decide.
	aggregate := meanConfidence(deduped)
	result.ConfidenceScore = aggregate

	var applied []string
	for _, c := range deduped {
		if c.Confidence < memorybank.AutoCorrectThreshold {
			continue
		}
		if err := result.NormalizedDocument.Fields.Set(c.Field, c.To); err != nil {
			e.logger.Warn("could not apply correction",
				zap.String("field", c.Field),
				zap.Error(err))
			continue
		}
		applied = append(applied, c.Field)
	}
	if e.metrics != nil {
		e.metrics.CorrectionsApplied.Add(float64(len(applied)))
	}

	result.RequiresHumanReview = len(deduped) > 0 && aggregate < memorybank.AutoCorrectThreshold

	outcome := "no_candidates"
	switch {
	case len(deduped) == 0:
		result.Reasoning = fmt.Sprintf(
			"No corrections proposed: vendor %s has no applicable memories or insufficient confidence (cold start).",
			doc.Vendor)
		audit("decide", "no candidates; aggregate confidence 0.00")
	case result.RequiresHumanReview:
		outcome = "escalated"
		result.Reasoning = fmt.Sprintf(
			"Proposed corrections for %s but aggregate confidence %.2f is below the automation threshold %.2f; escalated for human review.",
			fieldList(deduped), aggregate, memorybank.AutoCorrectThreshold)
		audit("decide", fmt.Sprintf("escalated; aggregate confidence %.2f below threshold %.2f", aggregate, memorybank.AutoCorrectThreshold))
	default:
		outcome = "auto_applied"
		result.Reasoning = fmt.Sprintf(
			"Auto-applied corrections to %s (aggregate confidence %.2f at or above threshold %.2f).",
			strings.Join(applied, ", "), aggregate, memorybank.AutoCorrectThreshold)
		audit("decide", fmt.Sprintf("auto-applied %d corrections; aggregate confidence %.2f", len(applied), aggregate))
	}

	// Learn, only when the caller supplied a verdict.
	if humanApproved != nil && len(deduped) > 0 {
		if err := e.learn(ctx, doc, deduped, *humanApproved, result, audit); err != nil {
			return nil, err
		}
	}

	// Retain for future duplicate checks.
	e.history.Add(doc)

	e.observe(outcome, start)
	e.logger.Info("document processed",
		zap.String("document_id", doc.DocumentID),
		zap.String("vendor", doc.Vendor),
		zap.String("outcome", outcome),
		zap.Int("proposed", len(deduped)),
		zap.Int("applied", len(applied)),
		zap.Float64("aggregate_confidence", aggregate))

	return result, nil
}

// learn resolves each deduplicated candidate back to its pattern and
// reinforces or penalizes the live memory. Persisted through the absolute
// stat updater, not the merge path: the new counter values are already
// final here.
func (e *Engine) learn(ctx context.Context, doc *invoice.Document, candidates []rules.Correction, approved bool, result *Result, audit func(step, details string)) error {
	e.learnMu.Lock()
	defer e.learnMu.Unlock()

	verb := "rejected"
	if approved {
		verb = "approved"
	}

	for _, c := range candidates {
		pattern, err := e.registry.PatternForField(c.Field)
		if err != nil {
			audit("learn", fmt.Sprintf("skipped %s: %v", c.Field, err))
			e.logger.Warn("no pattern registered for corrected field",
				zap.String("field", c.Field))
			continue
		}

		mem, err := e.store.MemoryByPattern(ctx, doc.Vendor, pattern)
		if err != nil {
			return fmt.Errorf("looking up memory (%s, %s) for learning: %w", doc.Vendor, pattern, err)
		}
		if mem == nil {
			audit("learn", fmt.Sprintf("no live memory for pattern %s; skipped", pattern))
			continue
		}

		old := mem.Confidence
		if approved {
			mem.Approvals++
			// Reinforcement is slow while trust is unproven, then each
			// further approval contributes a diminishing increment.
			rate := memorybank.ColdStartLearningRate
			if old >= memorybank.AutoCorrectThreshold {
				rate = 1 / float64(mem.Approvals+1)
			}
			mem.Confidence = math.Min(memorybank.MaxConfidence, old+rate)
		} else {
			mem.Rejections++
			mem.Confidence = math.Max(0, old-memorybank.RejectionPenalty)
		}

		if err := e.store.UpdateStats(ctx, mem.ID, mem.Confidence, mem.Approvals, mem.Rejections); err != nil {
			return fmt.Errorf("persisting learned confidence for memory %s: %w", mem.ID, err)
		}

		line := fmt.Sprintf("%s (%s): confidence %.2f -> %.2f (%s)", pattern, mem.ID, old, mem.Confidence, verb)
		result.MemoryUpdates = append(result.MemoryUpdates, line)
		audit("learn", line)
		if e.metrics != nil {
			e.metrics.LearnEvents.WithLabelValues(verb).Inc()
		}
		e.logger.Info("memory confidence updated",
			zap.String("memory_id", mem.ID),
			zap.String("pattern", pattern),
			zap.Float64("old_confidence", old),
			zap.Float64("new_confidence", mem.Confidence),
			zap.String("verb", verb))
	}
	return nil
}

func (e *Engine) observe(outcome string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.DocumentsProcessed.WithLabelValues(outcome).Inc()
	e.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
}

// dedupe keeps the highest-confidence candidate per field path; ties keep
// the first seen. Output preserves first-seen field order.
func dedupe(candidates []rules.Correction) []rules.Correction {
	index := make(map[string]int, len(candidates))
	out := make([]rules.Correction, 0, len(candidates))
	for _, c := range candidates {
		if i, ok := index[c.Field]; ok {
			if c.Confidence > out[i].Confidence {
				out[i] = c
			}
			continue
		}
		index[c.Field] = len(out)
		out = append(out, c)
	}
	return out
}

func meanConfidence(candidates []rules.Correction) float64 {
	if len(candidates) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range candidates {
		sum += c.Confidence
	}
	return sum / float64(len(candidates))
}

func recallSummary(memories []memorybank.Memory) string {
	byType := map[memorybank.Type]int{}
	atThreshold := 0
	for _, m := range memories {
		byType[m.Type]++
		if m.Confidence >= memorybank.AutoCorrectThreshold {
			atThreshold++
		}
	}
	return fmt.Sprintf("recalled %d memories (vendor=%d correction=%d resolution=%d), %d at or above automation threshold",
		len(memories), byType[memorybank.TypeVendor], byType[memorybank.TypeCorrection], byType[memorybank.TypeResolution], atThreshold)
}

func fieldList(candidates []rules.Correction) string {
	fields := make([]string, len(candidates))
	for i, c := range candidates {
		fields[i] = c.Field
	}
	return strings.Join(fields, ", ")
}
