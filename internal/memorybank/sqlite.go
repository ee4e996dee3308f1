package memorybank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema holds at most one row per (vendor, pattern); last_updated is unix
// seconds. Decay math runs in Go, not SQL.
const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id           TEXT PRIMARY KEY,
	type         TEXT NOT NULL,
	vendor       TEXT NOT NULL,
	pattern      TEXT NOT NULL,
	confidence   REAL NOT NULL,
	approvals    INTEGER NOT NULL DEFAULT 0,
	rejections   INTEGER NOT NULL DEFAULT 0,
	last_updated INTEGER NOT NULL,
	UNIQUE (vendor, pattern)
);
CREATE INDEX IF NOT EXISTS idx_memories_vendor ON memories (vendor);
`

// SQLiteStore is the durable Store implementation, backed by an embedded
// SQLite database (no external services).
type SQLiteStore struct {
	db    *sql.DB
	nowFn func() time.Time
}

// NewSQLiteStore opens (and if needed initializes) the database at path.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// Single writer; the merge path is read-then-write in a transaction.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db, nowFn: time.Now}, nil
}

// SetClock overrides the store's clock. Test use only.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.nowFn = now
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = "id, type, vendor, pattern, confidence, approvals, rejections, last_updated"

func scanMemory(row interface{ Scan(...any) error }) (Memory, error) {
	var m Memory
	var updated int64
	err := row.Scan(&m.ID, &m.Type, &m.Vendor, &m.Pattern, &m.Confidence, &m.Approvals, &m.Rejections, &updated)
	if err != nil {
		return Memory{}, err
	}
	m.LastUpdated = time.Unix(updated, 0)
	return m, nil
}

// MemoriesForVendor returns the vendor's memories, decayed, ordered by pattern.
func (s *SQLiteStore) MemoriesForVendor(ctx context.Context, vendor string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+selectColumns+" FROM memories WHERE vendor = ? ORDER BY pattern", vendor)
	if err != nil {
		return nil, fmt.Errorf("querying memories for vendor %s: %w", vendor, err)
	}
	defer rows.Close()

	memories := []Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory rows: %w", err)
	}

	now := s.nowFn()
	for i := range memories {
		decayed, changed, err := Decay(memories[i], now)
		if err != nil {
			return nil, err
		}
		if changed {
			if err := s.persistDecay(ctx, decayed); err != nil {
				return nil, err
			}
		}
		memories[i] = decayed
	}
	return memories, nil
}

// MemoryByPattern returns the decayed memory for (vendor, pattern), nil if absent.
func (s *SQLiteStore) MemoryByPattern(ctx context.Context, vendor, pattern string) (*Memory, error) {
	m, err := s.RawMemory(ctx, vendor, pattern)
	if err != nil || m == nil {
		return m, err
	}

	decayed, changed, err := Decay(*m, s.nowFn())
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.persistDecay(ctx, decayed); err != nil {
			return nil, err
		}
	}
	return &decayed, nil
}

// RawMemory returns the memory for (vendor, pattern) without decay, nil if absent.
func (s *SQLiteStore) RawMemory(ctx context.Context, vendor, pattern string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM memories WHERE vendor = ? AND pattern = ?", vendor, pattern)

	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory (%s, %s): %w", vendor, pattern, err)
	}
	return &m, nil
}

// persistDecay writes back a decayed confidence and refreshed timestamp.
// Counters are untouched.
func (s *SQLiteStore) persistDecay(ctx context.Context, m Memory) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET confidence = ?, last_updated = ? WHERE id = ?",
		m.Confidence, m.LastUpdated.Unix(), m.ID)
	if err != nil {
		return fmt.Errorf("persisting decay for memory %s: %w", m.ID, err)
	}
	return nil
}

// Save inserts or merges per the Store contract.
func (s *SQLiteStore) Save(ctx context.Context, m *Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+selectColumns+" FROM memories WHERE vendor = ? AND pattern = ?", m.Vendor, m.Pattern)
	existing, err := scanMemory(row)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			"INSERT INTO memories ("+selectColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			m.ID, m.Type, m.Vendor, m.Pattern, m.Confidence, m.Approvals, m.Rejections, m.LastUpdated.Unix())
		if err != nil {
			return fmt.Errorf("inserting memory (%s, %s): %w", m.Vendor, m.Pattern, err)
		}
	case err != nil:
		return fmt.Errorf("reading memory for merge (%s, %s): %w", m.Vendor, m.Pattern, err)
	default:
		confidence := existing.Confidence
		if m.Confidence > confidence {
			confidence = m.Confidence
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE memories SET confidence = ?, approvals = approvals + ?, rejections = rejections + ?, last_updated = ? WHERE id = ?",
			confidence, m.Approvals, m.Rejections, s.nowFn().Unix(), existing.ID)
		if err != nil {
			return fmt.Errorf("merging memory (%s, %s): %w", m.Vendor, m.Pattern, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// UpdateStats overwrites confidence and counters for the memory with the given ID.
func (s *SQLiteStore) UpdateStats(ctx context.Context, id string, confidence float64, approvals, rejections int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE memories SET confidence = ?, approvals = ?, rejections = ?, last_updated = ? WHERE id = ?",
		confidence, approvals, rejections, s.nowFn().Unix(), id)
	if err != nil {
		return fmt.Errorf("updating stats for memory %s: %w", id, err)
	}
	return nil
}
