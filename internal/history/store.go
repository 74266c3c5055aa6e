// Package history persists one record per build run in a local SQLite
// database so later runs can detect unchanged content and operators can
// inspect recent outcomes.
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

	sgerrors "git.home.luguber.info/inful/sitegen/internal/errors"
)

// BuildRecord is one persisted build run.
type BuildRecord struct {
	BuildID     string
	Fingerprint string
	Outcome     string
	Documents   int
	Rendered    int
	Failed      int
	Started     time.Time
	Finished    time.Time
	ReportJSON  []byte
}

// Store is a SQLite-backed build history store.
// Use ":memory:" for an in-memory database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if necessary) the history database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, sgerrors.WrapFatal(err, sgerrors.CategoryHistory, "create history directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryHistory, "open history database")
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, sgerrors.WrapFatal(err, sgerrors.CategoryHistory, "initialize history schema")
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS builds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		outcome TEXT NOT NULL,
		documents INTEGER NOT NULL,
		rendered INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		report BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_builds_outcome ON builds(outcome);
	CREATE INDEX IF NOT EXISTS idx_builds_finished ON builds(finished);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append records a completed build.
func (s *Store) Append(ctx context.Context, rec BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO builds (build_id, fingerprint, outcome, documents, rendered, failed, started, finished, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BuildID, rec.Fingerprint, rec.Outcome, rec.Documents, rec.Rendered, rec.Failed,
		rec.Started.UnixNano(), rec.Finished.UnixNano(), rec.ReportJSON)
	if err != nil {
		return sgerrors.Wrap(err, sgerrors.CategoryHistory, sgerrors.SeverityWarning, "append build record")
	}
	return nil
}

// LastCommitted returns the most recent build that produced committed output
// (outcome success or warning), or nil when none exists.
func (s *Store) LastCommitted(ctx context.Context) (*BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT build_id, fingerprint, outcome, documents, rendered, failed, started, finished, report
		 FROM builds WHERE outcome IN ('success', 'warning') ORDER BY id DESC LIMIT 1`)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryHistory, sgerrors.SeverityWarning, "query last committed build")
	}
	return rec, nil
}

// Recent returns up to limit most recent builds, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]BuildRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT build_id, fingerprint, outcome, documents, rendered, failed, started, finished, report
		 FROM builds ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryHistory, sgerrors.SeverityWarning, "query recent builds")
	}
	defer func() { _ = rows.Close() }()

	var records []BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, sgerrors.Wrap(err, sgerrors.CategoryHistory, sgerrors.SeverityWarning, "scan build record")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, sgerrors.Wrap(err, sgerrors.CategoryHistory, sgerrors.SeverityWarning, "iterate build records")
	}
	return records, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*BuildRecord, error) {
	var rec BuildRecord
	var started, finished int64
	if err := row.Scan(&rec.BuildID, &rec.Fingerprint, &rec.Outcome, &rec.Documents,
		&rec.Rendered, &rec.Failed, &started, &finished, &rec.ReportJSON); err != nil {
		return nil, err
	}
	rec.Started = time.Unix(0, started)
	rec.Finished = time.Unix(0, finished)
	return &rec, nil
}

// Summary returns a single-line description of the record.
func (r BuildRecord) Summary() string {
	return fmt.Sprintf("%s  %-8s docs=%d rendered=%d failed=%d  %s",
		r.Finished.Format(time.RFC3339), r.Outcome, r.Documents, r.Rendered, r.Failed, r.BuildID)
}
