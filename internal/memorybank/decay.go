package memorybank

import "time"

// Decay applies lazy time-based confidence erosion to a memory.
//
// daysPassed = floor((now - LastUpdated) / 24h). When daysPassed <= 0 the
// memory is returned unchanged and changed is false (no store write).
// Otherwise confidence drops by DecayRatePerDay per day, floored at
// MinConfidence, and LastUpdated is refreshed to now so further reads the
// same day observe the same value (decay is idempotent within a day).
//
// Decay never touches the approval/rejection counters. A zero LastUpdated
// is a malformed timestamp and is surfaced instead of being decayed from
// the epoch.
func Decay(m Memory, now time.Time) (Memory, bool, error) {
	if m.LastUpdated.IsZero() {
		return m, false, ErrMalformedTimestamp
	}

	days := int(now.Sub(m.LastUpdated).Hours() / 24)
	if days <= 0 {
		return m, false, nil
	}

	// A memory already at or below the floor (a rejection can push it
	// under MinConfidence) does not decay further and is never raised.
	if m.Confidence <= MinConfidence {
		return m, false, nil
	}

	decayed := m.Confidence - float64(days)*DecayRatePerDay
	if decayed < MinConfidence {
		decayed = MinConfidence
	}

	m.Confidence = decayed
	m.LastUpdated = now
	return m, true, nil
}
