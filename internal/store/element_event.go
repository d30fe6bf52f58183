package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const elementEventCols = "id, user_id, element_id, type, tags, created_at, updated_at, deleted_at"

func scanElementEvent(sc scanner) (*model.ElementEvent, error) {
	var (
		ev        model.ElementEvent
		tags      []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&ev.ID, &ev.UserID, &ev.ElementID, &ev.Type, &tags, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if ev.Tags, err = model.DecodeTags(tags); err != nil {
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

func insertElementEvent(ctx context.Context, q dbtx, userID, elementID int64, typ string) (*model.ElementEvent, error) {
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO element_event (user_id, element_id, type, tags, created_at, updated_at)
		VALUES (?, ?, ?, '{}', ?, ?)
	`, userID, elementID, typ, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert element event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted event id: %w", err)
	}
	return selectElementEventByID(ctx, q, id)
}

func selectElementEventByID(ctx context.Context, q dbtx, id int64) (*model.ElementEvent, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+elementEventCols+` FROM element_event WHERE id = ?
	`, id)
	ev, err := scanElementEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element event %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select element event %d: %w", id, err)
	}
	return ev, nil
}

// InsertElementEvent appends a merge audit record.
func (s *Store) InsertElementEvent(ctx context.Context, userID, elementID int64, typ string) (*model.ElementEvent, error) {
	return insertElementEvent(ctx, s.db, userID, elementID, typ)
}

func (t *Tx) InsertElementEvent(ctx context.Context, userID, elementID int64, typ string) (*model.ElementEvent, error) {
	return insertElementEvent(ctx, t.tx, userID, elementID, typ)
}

// SelectElementEventByID returns one audit record.
func (s *Store) SelectElementEventByID(ctx context.Context, id int64) (*model.ElementEvent, error) {
	return selectElementEventByID(ctx, s.db, id)
}

// SelectElementEventsUpdatedSince is the element-event sync feed.
func (s *Store) SelectElementEventsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.ElementEvent, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementEventCols+` FROM element_event
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select element events feed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.ElementEvent
	for rows.Next() {
		ev, err := scanElementEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read element events: %w", err)
	}
	return out, nil
}
