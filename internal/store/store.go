// Package store owns all persistent state: the primary database with every
// entity table, and the separate request-audit database. All reads and writes
// go through it; engines compose its methods inside transactions via WithTx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/btcmap/internal/model"
)

// ErrNotFound is returned by lookups that miss. Callers test with errors.Is.
var ErrNotFound = errors.New("not found")

// Store is the primary database handle. Safe for concurrent use; writers are
// serialized by SQLite with transactions taking the write lock up front.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the primary database at path and brings its
// schema up to date. The pool is sized for read concurrency; every pooled
// connection carries the same pragmas via the DSN.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, migrationFiles, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return &Store{db: db, path: path}, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := "file:" + url.PathEscape(path) +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	db.SetMaxOpenConns(2 * runtime.NumCPU())
	return db, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Tx exposes the repository operations that may run inside a transaction.
// Obtain one through WithTx; it is only valid until the closure returns.
type Tx struct {
	tx *sql.Tx
}

// WithTx runs fn inside a single transaction. The transaction takes the
// write lock on begin, so concurrent writers queue instead of failing late.
// fn returning an error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&Tx{tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so each query helper is
// written once and reused inside and outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// IsUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsBusy reports whether err is a lock-contention error that is worth a
// short retry.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// parseRowTime parses a NOT NULL timestamp column.
func parseRowTime(s string) (time.Time, error) {
	return model.ParseTime(s)
}

// parseNullTime parses a nullable timestamp column.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := model.ParseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// fmtNullTime renders an optional timestamp for storage.
func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return model.FormatTime(*t)
}
