// Package ledger keeps an append-only SQLite record of wake cycles: when
// each ran, how it ended, and how much work it did. Conversation
// content is never stored; each cycle starts from the on-disk state
// files alone.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed-width so that text order in SQLite matches time
// order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record describes one finished cycle.
type Record struct {
	CycleID      string
	Loop         int
	StartedAt    time.Time
	EndedAt      time.Time
	Outcome      string // "terminated", "limit_reached", "model_error", "cancelled"
	Model        string
	Rounds       int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	Summary      string // done_for_now summary, if any
}

// Store is an append-only cycle ledger. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the ledger at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		cycle_id      TEXT PRIMARY KEY,
		loop          INTEGER NOT NULL,
		started_at    TEXT NOT NULL,
		ended_at      TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		model         TEXT NOT NULL,
		rounds        INTEGER NOT NULL,
		tool_calls    INTEGER NOT NULL,
		input_tokens  INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		summary       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends a cycle. A missing CycleID gets a UUIDv7 and a zero
// EndedAt becomes now.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.CycleID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate cycle ID: %w", err)
		}
		rec.CycleID = id.String()
	}
	if rec.EndedAt.IsZero() {
		rec.EndedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.EndedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycles
			(cycle_id, loop, started_at, ended_at, outcome, model,
			 rounds, tool_calls, input_tokens, output_tokens, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CycleID,
		rec.Loop,
		rec.StartedAt.UTC().Format(timeLayout),
		rec.EndedAt.UTC().Format(timeLayout),
		rec.Outcome,
		rec.Model,
		rec.Rounds,
		rec.ToolCalls,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Summary,
	)
	if err != nil {
		return fmt.Errorf("insert cycle %s: %w", rec.CycleID, err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, loop, started_at, ended_at, outcome, model,
		        rounds, tool_calls, input_tokens, output_tokens, COALESCE(summary, '')
		 FROM cycles
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent cycles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var started, ended string
		if err := rows.Scan(&rec.CycleID, &rec.Loop, &started, &ended, &rec.Outcome, &rec.Model,
			&rec.Rounds, &rec.ToolCalls, &rec.InputTokens, &rec.OutputTokens, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if rec.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		if rec.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
			return nil, fmt.Errorf("parse ended_at %q: %w", ended, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Outcomes returns the number of recorded cycles per outcome. The map
// is empty (non-nil) for a fresh ledger.
func (s *Store) Outcomes(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM cycles GROUP BY outcome`,
	)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
