package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

// RequestLog is the separate audit database. Request rows land here instead
// of the primary database so high request volume never contends with entity
// writes.
type RequestLog struct {
	db *sql.DB
}

// OpenRequestLog opens the audit database at path with the same discipline
// as the primary store.
func OpenRequestLog(ctx context.Context, path string) (*RequestLog, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db, logMigrationFiles, "logmigrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %s: %w", path, err)
	}
	return &RequestLog{db: db}, nil
}

func (l *RequestLog) Close() error {
	return l.db.Close()
}

// Request is one served HTTP request.
type Request struct {
	ID        int64
	IP        string
	Method    string
	Path      string
	Query     string
	Status    int
	Duration  time.Duration
	CreatedAt time.Time
}

// InsertRequest records a served request. Called after the response is
// written; failures are the caller's to log, not to propagate. A zero
// CreatedAt means now.
func (l *RequestLog) InsertRequest(ctx context.Context, r *Request) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = model.Now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO request (ip, method, path, query, status, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.IP, r.Method, r.Path, r.Query, r.Status, r.Duration.Nanoseconds(), model.FormatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

// CountRequestsSince returns the number of requests recorded after since.
func (l *RequestLog) CountRequestsSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT count(*) FROM request WHERE created_at > ?
	`, model.FormatTime(since)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return n, nil
}
