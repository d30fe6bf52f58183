package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const eventCols = "id, lat, lon, name, website, starts_at, ends_at, created_at, updated_at, deleted_at"

func scanEvent(sc scanner) (*model.Event, error) {
	var (
		ev        model.Event
		startsAt  string
		endsAt    sql.NullString
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&ev.ID, &ev.Lat, &ev.Lon, &ev.Name, &ev.Website, &startsAt, &endsAt, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if ev.StartsAt, err = parseRowTime(startsAt); err != nil {
		return nil, err
	}
	if ev.EndsAt, err = parseNullTime(endsAt); err != nil {
		return nil, err
	}
	if ev.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if ev.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if ev.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

// InsertEvent creates a calendar event.
func (s *Store) InsertEvent(ctx context.Context, lat, lon float64, name, website string, startsAt time.Time, endsAt *time.Time) (*model.Event, error) {
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO event (lat, lon, name, website, starts_at, ends_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, lat, lon, name, website, model.FormatTime(startsAt), fmtNullTime(endsAt), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted event id: %w", err)
	}
	return s.SelectEventByID(ctx, id)
}

// SelectEventByID returns one calendar event.
func (s *Store) SelectEventByID(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventCols+` FROM event WHERE id = ?
	`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select event %d: %w", id, err)
	}
	return ev, nil
}

// SelectLiveEvents returns upcoming and past events that are not tombstoned,
// soonest first.
func (s *Store) SelectLiveEvents(ctx context.Context) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventCols+` FROM event WHERE deleted_at IS NULL ORDER BY starts_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return out, nil
}

// SetEventDeletedAt tombstones or resurrects a calendar event.
func (s *Store) SetEventDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.Event, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE event SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set event %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "event", id); err != nil {
		return nil, err
	}
	return s.SelectEventByID(ctx, id)
}
