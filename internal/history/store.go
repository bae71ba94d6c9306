// Package history is an optional execution-history provider. It
// lives strictly outside the engine boundary (spec Non-goals: the
// engine does not own durable storage) — callers load history records
// from here and hand them to the engine as TestInfo.ExecutionHistory,
// the engine itself never opens a database connection.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"testimpact/internal/types"
)

// Store wraps a SQLite database of past test runs.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
}

// Open creates or opens a history database at dbPath, creating parent
// directories and the schema if they don't already exist.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS test_runs (
		test_id     TEXT NOT NULL,
		ran_at      TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		passed      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_test_runs_test_id ON test_runs(test_id);
	CREATE INDEX IF NOT EXISTS idx_test_runs_ran_at ON test_runs(ran_at);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// RecordRun appends one test-run outcome.
func (s *Store) RecordRun(ctx context.Context, testId types.MethodId, ranAt time.Time, duration time.Duration, passed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO test_runs (test_id, ran_at, duration_ms, passed) VALUES (?, ?, ?, ?)`,
		string(testId), ranAt.UTC().Format(time.RFC3339Nano), duration.Milliseconds(), boolToInt(passed))
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	return nil
}

// LoadHistory returns every recorded run for each of testIds, newest
// first, keyed by MethodId. Tests with no recorded runs are omitted
// from the result rather than present with an empty slice, so callers
// can distinguish "no history" from "history load returned nothing".
func (s *Store) LoadHistory(ctx context.Context, testIds []types.MethodId) (map[types.MethodId][]types.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.MethodId][]types.ExecutionRecord)
	if len(testIds) == 0 {
		return out, nil
	}

	placeholders := make([]byte, 0, len(testIds)*2)
	args := make([]interface{}, len(testIds))
	for i, id := range testIds {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = string(id)
	}

	query := fmt.Sprintf(
		`SELECT test_id, ran_at, duration_ms, passed FROM test_runs WHERE test_id IN (%s) ORDER BY ran_at DESC`,
		string(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: load history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var testId, ranAtStr string
		var durationMs int64
		var passedInt int
		if err := rows.Scan(&testId, &ranAtStr, &durationMs, &passedInt); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		ranAt, err := time.Parse(time.RFC3339Nano, ranAtStr)
		if err != nil {
			continue
		}
		id := types.MethodId(testId)
		out[id] = append(out[id], types.ExecutionRecord{
			RanAt:      ranAt,
			DurationMs: durationMs,
			Passed:     passedInt != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: load history: %w", err)
	}
	return out, nil
}

// AverageDuration computes a test's mean run duration from its
// loaded history, for populating TestInfo.AverageExecutionTime.
func AverageDuration(records []types.ExecutionRecord) time.Duration {
	if len(records) == 0 {
		return 0
	}
	var total int64
	for _, r := range records {
		total += r.DurationMs
	}
	return time.Duration(total/int64(len(records))) * time.Millisecond
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
