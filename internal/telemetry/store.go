package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore persists daily aggregates.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteStore opens (or creates) a telemetry database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore uses an existing database, creating the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if err := InitSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the telemetry tables.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS query_outcome_stats (
		date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, outcome)
	);
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	CREATE TABLE IF NOT EXISTS source_state_stats (
		date TEXT NOT NULL,
		source TEXT NOT NULL,
		state TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, source, state)
	);
	`)
	if err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveDaily adds agg to the stored counters for date.
func (s *SQLiteStore) SaveDaily(ctx context.Context, date string, agg DailyAggregate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for outcome, n := range agg.Outcomes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_outcome_stats (date, outcome, count) VALUES (?, ?, ?)
			ON CONFLICT(date, outcome) DO UPDATE SET count = count + excluded.count`,
			date, outcome, n); err != nil {
			return fmt.Errorf("save outcome count: %w", err)
		}
	}
	for bucket, n := range agg.Latency {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO query_latency_stats (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`,
			date, string(bucket), n); err != nil {
			return fmt.Errorf("save latency count: %w", err)
		}
	}
	for key, n := range agg.SourceStates {
		src, state, _ := strings.Cut(key, "/")
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO source_state_stats (date, source, state, count) VALUES (?, ?, ?, ?)
			ON CONFLICT(date, source, state) DO UPDATE SET count = count + excluded.count`,
			date, src, state, n); err != nil {
			return fmt.Errorf("save source state count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// LoadDaily sums the counters for dates in [from, to] (YYYY-MM-DD).
func (s *SQLiteStore) LoadDaily(ctx context.Context, from, to string) (DailyAggregate, error) {
	agg := newAggregate()

	if err := s.sum(ctx, `SELECT outcome, SUM(count) FROM query_outcome_stats
		WHERE date >= ? AND date <= ? GROUP BY outcome`, from, to, func(k string, n int64) {
		agg.Outcomes[k] = n
	}); err != nil {
		return agg, err
	}
	if err := s.sum(ctx, `SELECT bucket, SUM(count) FROM query_latency_stats
		WHERE date >= ? AND date <= ? GROUP BY bucket`, from, to, func(k string, n int64) {
		agg.Latency[LatencyBucket(k)] = n
	}); err != nil {
		return agg, err
	}
	if err := s.sum(ctx, `SELECT source || '/' || state, SUM(count) FROM source_state_stats
		WHERE date >= ? AND date <= ? GROUP BY source, state`, from, to, func(k string, n int64) {
		agg.SourceStates[k] = n
	}); err != nil {
		return agg, err
	}
	return agg, nil
}

func (s *SQLiteStore) sum(ctx context.Context, query, from, to string, put func(string, int64)) error {
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return fmt.Errorf("load telemetry: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		put(k, n)
	}
	return rows.Err()
}

// Close closes the database if this store opened it.
func (s *SQLiteStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}
