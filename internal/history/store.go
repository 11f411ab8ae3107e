// Package history records one row per build in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one build.
type Record struct {
	BuildID   string
	Start     time.Time
	Duration  time.Duration
	Outcome   string
	Entry     string
	Modules   int
	Digest    string
	ErrorKind string
	Message   string
}

// Recorder accepts build records.
type Recorder interface {
	Add(ctx context.Context, r Record) error
}

// Noop discards records.
type Noop struct{}

func (Noop) Add(context.Context, Record) error { return nil }

// Store is a SQLite-backed build history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the database at path. Use ":memory:" in tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("ensure history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL UNIQUE,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		entry TEXT NOT NULL,
		modules INTEGER NOT NULL,
		digest TEXT,
		error_kind TEXT,
		message TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add inserts a record.
func (s *Store) Add(ctx context.Context, r Record) error {
	if r.BuildID == "" {
		return errors.New("history record requires a build id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (build_id, started_at, duration_ms, outcome, entry, modules, digest, error_kind, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.BuildID, r.Start.UnixMilli(), r.Duration.Milliseconds(), r.Outcome, r.Entry, r.Modules,
		r.Digest, r.ErrorKind, r.Message,
	)
	if err != nil {
		return fmt.Errorf("insert build: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT build_id, started_at, duration_ms, outcome, entry, modules, digest, error_kind, message
		 FROM builds ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var startMS, durMS int64
		var digest, kind, msg sql.NullString
		if err := rows.Scan(&r.BuildID, &startMS, &durMS, &r.Outcome, &r.Entry, &r.Modules, &digest, &kind, &msg); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		r.Start = time.UnixMilli(startMS).UTC()
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Digest, r.ErrorKind, r.Message = digest.String, kind.String, msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
