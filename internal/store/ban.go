package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const banCols = "id, ip, reason, start_at, end_at, created_at, updated_at, deleted_at"

func scanBan(sc scanner) (*model.Ban, error) {
	var (
		b         model.Ban
		startAt   string
		endAt     string
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&b.ID, &b.IP, &b.Reason, &startAt, &endAt, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if b.StartAt, err = parseRowTime(startAt); err != nil {
		return nil, err
	}
	if b.EndAt, err = parseRowTime(endAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if b.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// InsertBan blocks an IP for [startAt, endAt).
func (s *Store) InsertBan(ctx context.Context, ip, reason string, startAt, endAt time.Time) (*model.Ban, error) {
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ban (ip, reason, start_at, end_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ip, reason, model.FormatTime(startAt), model.FormatTime(endAt), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ban: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted ban id: %w", err)
	}
	return s.SelectBanByID(ctx, id)
}

// SelectBanByID returns one ban row.
func (s *Store) SelectBanByID(ctx context.Context, id int64) (*model.Ban, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+banCols+` FROM ban WHERE id = ?
	`, id)
	b, err := scanBan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ban %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select ban %d: %w", id, err)
	}
	return b, nil
}

// SelectActiveBanByIP returns a live ban covering ip at instant t, or
// NotFound.
func (s *Store) SelectActiveBanByIP(ctx context.Context, ip string, t time.Time) (*model.Ban, error) {
	ts := model.FormatTime(t)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+banCols+` FROM ban
		WHERE ip = ? AND deleted_at IS NULL AND start_at <= ? AND end_at > ?
		ORDER BY id
		LIMIT 1
	`, ip, ts, ts)
	b, err := scanBan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ban for %s: %w", ip, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select ban for %s: %w", ip, err)
	}
	return b, nil
}

// SelectLiveBans lists bans that have not been lifted, newest first.
func (s *Store) SelectLiveBans(ctx context.Context) ([]*model.Ban, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+banCols+` FROM ban WHERE deleted_at IS NULL ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select bans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Ban
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ban: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bans: %w", err)
	}
	return out, nil
}

// SetBanDeletedAt lifts (non-nil) or restores a ban row.
func (s *Store) SetBanDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.Ban, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ban SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set ban %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "ban", id); err != nil {
		return nil, err
	}
	return s.SelectBanByID(ctx, id)
}
