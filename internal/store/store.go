// Package store persists the orchestration state in SQLite. The database is
// the single source of truth: invariants are enforced here (foreign keys,
// unique keys) or inside single transactions, never in process memory.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// Store wraps the SQLite database.
type Store struct {
	dbPath string
	db     *sql.DB
}

// Open creates (or opens) the database at dbPath and applies pending
// migrations. WAL mode and immediate write transactions give the row-level
// serialisation the claim path relies on.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{dbPath: dbPath, db: db}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// OpenTemp opens a throwaway store for tests.
func OpenTemp(dir string) (*Store, error) {
	return Open(filepath.Join(dir, "djinnbot.db"))
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate applies pending migrations in order.
func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (1, ?)",
			time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("recording migration v1: %w", err)
		}
	}
	return nil
}

// WithTx runs fn inside a write transaction. The connection's immediate
// transaction lock serialises concurrent writers, which is what makes the
// claim path atomic across horizontally scaled API processes sharing one
// database.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// querier abstracts *sql.DB and *sql.Tx so repository functions can run
// inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nowMilli is the single clock used for persisted timestamps.
func nowMilli() int64 {
	return time.Now().UnixMilli()
}

// msToTime converts stored milliseconds into time.Time.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// nullMsToTime converts a nullable column into *time.Time.
func nullMsToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// timeToNullMs converts *time.Time into a nullable column value.
func timeToNullMs(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
