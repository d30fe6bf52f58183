package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const areaElementCols = "id, area_id, element_id, created_at, updated_at, deleted_at"

func scanAreaElement(sc scanner) (*model.AreaElement, error) {
	var (
		ae        model.AreaElement
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&ae.ID, &ae.AreaID, &ae.ElementID, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if ae.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if ae.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if ae.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &ae, nil
}

func insertAreaElement(ctx context.Context, q dbtx, areaID, elementID int64) (*model.AreaElement, error) {
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO area_element (area_id, element_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, areaID, elementID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert area element: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted area element id: %w", err)
	}
	return selectAreaElementByID(ctx, q, id)
}

func selectAreaElementByID(ctx context.Context, q dbtx, id int64) (*model.AreaElement, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+areaElementCols+` FROM area_element WHERE id = ?
	`, id)
	ae, err := scanAreaElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("area element %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select area element %d: %w", id, err)
	}
	return ae, nil
}

func selectAreaElementsByElement(ctx context.Context, q dbtx, elementID int64) ([]*model.AreaElement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+areaElementCols+` FROM area_element WHERE element_id = ? ORDER BY id
	`, elementID)
	if err != nil {
		return nil, fmt.Errorf("failed to select area elements for element %d: %w", elementID, err)
	}
	return collectAreaElements(rows)
}

func setAreaElementDeletedAt(ctx context.Context, q dbtx, id int64, deletedAt *time.Time) (*model.AreaElement, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE area_element SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set area element %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "area element", id); err != nil {
		return nil, err
	}
	return selectAreaElementByID(ctx, q, id)
}

func collectAreaElements(rows *sql.Rows) ([]*model.AreaElement, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.AreaElement
	for rows.Next() {
		ae, err := scanAreaElement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area element: %w", err)
		}
		out = append(out, ae)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read area elements: %w", err)
	}
	return out, nil
}

// InsertAreaElement records that an element lies inside an area. The live
// unique index rejects a duplicate live pair.
func (s *Store) InsertAreaElement(ctx context.Context, areaID, elementID int64) (*model.AreaElement, error) {
	return insertAreaElement(ctx, s.db, areaID, elementID)
}

func (t *Tx) InsertAreaElement(ctx context.Context, areaID, elementID int64) (*model.AreaElement, error) {
	return insertAreaElement(ctx, t.tx, areaID, elementID)
}

// SelectAreaElementByID returns one mapping row.
func (s *Store) SelectAreaElementByID(ctx context.Context, id int64) (*model.AreaElement, error) {
	return selectAreaElementByID(ctx, s.db, id)
}

// SelectAreaElementsByElement returns every mapping row for an element,
// tombstoned ones included.
func (s *Store) SelectAreaElementsByElement(ctx context.Context, elementID int64) ([]*model.AreaElement, error) {
	return selectAreaElementsByElement(ctx, s.db, elementID)
}

func (t *Tx) SelectAreaElementsByElement(ctx context.Context, elementID int64) ([]*model.AreaElement, error) {
	return selectAreaElementsByElement(ctx, t.tx, elementID)
}

// SelectLiveAreaElementsByArea returns the live mappings for an area.
func (s *Store) SelectLiveAreaElementsByArea(ctx context.Context, areaID int64) ([]*model.AreaElement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+areaElementCols+` FROM area_element
		WHERE area_id = ? AND deleted_at IS NULL
		ORDER BY id
	`, areaID)
	if err != nil {
		return nil, fmt.Errorf("failed to select area elements for area %d: %w", areaID, err)
	}
	return collectAreaElements(rows)
}

// SelectAreaElementsUpdatedSince is the mapping sync feed.
func (s *Store) SelectAreaElementsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.AreaElement, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+areaElementCols+` FROM area_element
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select area elements feed: %w", err)
	}
	return collectAreaElements(rows)
}

// SetAreaElementDeletedAt tombstones or resurrects a mapping row.
func (s *Store) SetAreaElementDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.AreaElement, error) {
	return setAreaElementDeletedAt(ctx, s.db, id, deletedAt)
}

func (t *Tx) SetAreaElementDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.AreaElement, error) {
	return setAreaElementDeletedAt(ctx, t.tx, id, deletedAt)
}
