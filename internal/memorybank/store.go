package memorybank

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence contract the pipeline consumes.
//
// Read paths that surface memories to the pipeline (MemoriesForVendor,
// MemoryByPattern) apply Decay first and persist the decayed value, so
// erosion is observed lazily with no background sweep. RawMemory skips
// decay; it exists only for the merge path, which compares raw state.
//
// Save and UpdateStats are deliberately two different write contracts:
// Save merges (max confidence, counters added), UpdateStats overwrites
// (the Learn stage has already computed the full new values). They must
// not be unified.
type Store interface {
	// MemoriesForVendor returns all memories for a vendor, decayed.
	MemoriesForVendor(ctx context.Context, vendor string) ([]Memory, error)

	// MemoryByPattern returns the memory for (vendor, pattern), decayed,
	// or nil when absent.
	MemoryByPattern(ctx context.Context, vendor, pattern string) (*Memory, error)

	// RawMemory returns the memory for (vendor, pattern) without decay,
	// or nil when absent.
	RawMemory(ctx context.Context, vendor, pattern string) (*Memory, error)

	// Save inserts the memory, or merges it into the existing record for
	// the same (vendor, pattern): confidence becomes the max of both,
	// counters are added, LastUpdated is set to now. Saving the same
	// learning event twice double-counts approvals; callers own
	// at-most-once delivery.
	Save(ctx context.Context, m *Memory) error

	// UpdateStats overwrites confidence and both counters for the memory
	// with the given ID and refreshes LastUpdated. Learn-stage only.
	UpdateStats(ctx context.Context, id string, confidence float64, approvals, rejections int) error
}

// InMemoryStore is a map-backed Store, used in tests and for ephemeral runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[storeKey]Memory
	nowFn func() time.Time
}

type storeKey struct {
	vendor  string
	pattern string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byKey: make(map[storeKey]Memory),
		nowFn: time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.nowFn = now
}

// MemoriesForVendor returns the vendor's memories, decayed and sorted by
// pattern for deterministic output.
func (s *InMemoryStore) MemoriesForVendor(ctx context.Context, vendor string) ([]Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	out := []Memory{}
	for key, m := range s.byKey {
		if key.vendor != vendor {
			continue
		}
		decayed, changed, err := Decay(m, now)
		if err != nil {
			return nil, err
		}
		if changed {
			s.byKey[key] = decayed
		}
		out = append(out, decayed)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out, nil
}

// MemoryByPattern returns the decayed memory for (vendor, pattern), nil if absent.
func (s *InMemoryStore) MemoryByPattern(ctx context.Context, vendor, pattern string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{vendor, pattern}
	m, ok := s.byKey[key]
	if !ok {
		return nil, nil
	}

	decayed, changed, err := Decay(m, s.nowFn())
	if err != nil {
		return nil, err
	}
	if changed {
		s.byKey[key] = decayed
	}
	return &decayed, nil
}

// RawMemory returns the memory for (vendor, pattern) without decay, nil if absent.
func (s *InMemoryStore) RawMemory(ctx context.Context, vendor, pattern string) (*Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byKey[storeKey{vendor, pattern}]
	if !ok {
		return nil, nil
	}
	out := m
	return &out, nil
}

// Save inserts or merges per the Store contract.
func (s *InMemoryStore) Save(ctx context.Context, m *Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey{m.Vendor, m.Pattern}
	now := s.nowFn()

	existing, ok := s.byKey[key]
	if !ok {
		record := *m
		s.byKey[key] = record
		return nil
	}

	if m.Confidence > existing.Confidence {
		existing.Confidence = m.Confidence
	}
	existing.Approvals += m.Approvals
	existing.Rejections += m.Rejections
	existing.LastUpdated = now
	s.byKey[key] = existing
	return nil
}

// UpdateStats overwrites confidence and counters for the memory with the given ID.
func (s *InMemoryStore) UpdateStats(ctx context.Context, id string, confidence float64, approvals, rejections int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, m := range s.byKey {
		if m.ID != id {
			continue
		}
		m.Confidence = confidence
		m.Approvals = approvals
		m.Rejections = rejections
		m.LastUpdated = s.nowFn()
		s.byKey[key] = m
		return nil
	}
	return nil
}
