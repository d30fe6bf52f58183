package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

// Feed page bounds shared by every collection reader.
const (
	DefaultFeedLimit = 500
	MaxFeedLimit     = 5000
)

const elementCols = "id, overpass_data, tags, created_at, updated_at, deleted_at"

func scanElement(sc scanner) (*model.Element, error) {
	var (
		e         model.Element
		overpass  string
		tags      []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&e.ID, &overpass, &tags, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	e.OverpassData = json.RawMessage(overpass)
	var err error
	if e.Tags, err = model.DecodeTags(tags); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if e.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func insertElement(ctx context.Context, q dbtx, overpassData json.RawMessage) (*model.Element, error) {
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO element (overpass_data, tags, created_at, updated_at)
		VALUES (?, '{}', ?, ?)
	`, string(overpassData), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert element: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted element id: %w", err)
	}
	return selectElementByID(ctx, q, id)
}

func selectElementByID(ctx context.Context, q dbtx, id int64) (*model.Element, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+elementCols+` FROM element WHERE id = ?
	`, id)
	e, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select element %d: %w", id, err)
	}
	return e, nil
}

func selectElementByOsmKey(ctx context.Context, q dbtx, key model.OsmKey) (*model.Element, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+elementCols+` FROM element
		WHERE json_extract(overpass_data, '$.type') = ?
		  AND json_extract(overpass_data, '$.id') = ?
		  AND deleted_at IS NULL
	`, key.Type, key.ID)
	e, err := scanElement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("element %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select element %s: %w", key, err)
	}
	return e, nil
}

func setElementOverpassData(ctx context.Context, q dbtx, id int64, overpassData json.RawMessage) (*model.Element, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE element SET overpass_data = ?, updated_at = ? WHERE id = ?
	`, string(overpassData), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update element %d: %w", id, err)
	}
	if err := requireAffected(res, "element", id); err != nil {
		return nil, err
	}
	return selectElementByID(ctx, q, id)
}

func patchElementTags(ctx context.Context, q dbtx, id int64, patch model.Tags) (*model.Element, error) {
	e, err := selectElementByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	merged, err := model.MergePatch(e.Tags, patch).Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to patch element %d tags: %w", id, err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE element SET tags = ?, updated_at = ? WHERE id = ?
	`, merged, model.FormatTime(model.Now()), id); err != nil {
		return nil, fmt.Errorf("failed to patch element %d tags: %w", id, err)
	}
	return selectElementByID(ctx, q, id)
}

func setElementDeletedAt(ctx context.Context, q dbtx, id int64, deletedAt *time.Time) (*model.Element, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE element SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set element %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "element", id); err != nil {
		return nil, err
	}
	return selectElementByID(ctx, q, id)
}

// requireAffected turns a zero-row UPDATE into NotFound.
func requireAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
	}
	return nil
}

// InsertElement mirrors a fresh upstream record. Local tags start empty.
func (s *Store) InsertElement(ctx context.Context, overpassData json.RawMessage) (*model.Element, error) {
	return insertElement(ctx, s.db, overpassData)
}

func (t *Tx) InsertElement(ctx context.Context, overpassData json.RawMessage) (*model.Element, error) {
	return insertElement(ctx, t.tx, overpassData)
}

// SelectElementByID returns the element regardless of deletion state.
func (s *Store) SelectElementByID(ctx context.Context, id int64) (*model.Element, error) {
	return selectElementByID(ctx, s.db, id)
}

func (t *Tx) SelectElementByID(ctx context.Context, id int64) (*model.Element, error) {
	return selectElementByID(ctx, t.tx, id)
}

// SelectElementByOsmKey resolves a live element by its upstream identity.
func (s *Store) SelectElementByOsmKey(ctx context.Context, key model.OsmKey) (*model.Element, error) {
	return selectElementByOsmKey(ctx, s.db, key)
}

// SelectLiveElements returns every element that is not tombstoned, in id
// order.
func (s *Store) SelectLiveElements(ctx context.Context) ([]*model.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementCols+` FROM element WHERE deleted_at IS NULL ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select live elements: %w", err)
	}
	return collectElements(rows)
}

// SelectElementsUpdatedSince is the element sync feed: every row, tombstones
// included, changed strictly after since, ordered by (updated_at, id).
func (s *Store) SelectElementsUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.Element, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementCols+` FROM element
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select elements feed: %w", err)
	}
	return collectElements(rows)
}

// SearchElementsByName finds live elements whose upstream name contains the
// query, case-insensitively.
func (s *Store) SearchElementsByName(ctx context.Context, query string) ([]*model.Element, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+elementCols+` FROM element
		WHERE deleted_at IS NULL
		  AND json_extract(overpass_data, '$.tags.name') LIKE '%' || ? || '%'
		ORDER BY id
	`, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search elements: %w", err)
	}
	return collectElements(rows)
}

func collectElements(rows *sql.Rows) ([]*model.Element, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.Element
	for rows.Next() {
		e, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan element: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read elements: %w", err)
	}
	return out, nil
}

// SetElementOverpassData replaces the upstream document wholesale.
func (s *Store) SetElementOverpassData(ctx context.Context, id int64, overpassData json.RawMessage) (*model.Element, error) {
	return setElementOverpassData(ctx, s.db, id, overpassData)
}

func (t *Tx) SetElementOverpassData(ctx context.Context, id int64, overpassData json.RawMessage) (*model.Element, error) {
	return setElementOverpassData(ctx, t.tx, id, overpassData)
}

// PatchElementTags deep-merges patch into the element's tag bag. Null values
// remove keys; arrays and scalars replace.
func (s *Store) PatchElementTags(ctx context.Context, id int64, patch model.Tags) (*model.Element, error) {
	var e *model.Element
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		e, err = patchElementTags(ctx, tx, id, patch)
		return err
	})
	return e, err
}

func (t *Tx) PatchElementTags(ctx context.Context, id int64, patch model.Tags) (*model.Element, error) {
	return patchElementTags(ctx, t.tx, id, patch)
}

// SetElementTag sets a single tag key.
func (s *Store) SetElementTag(ctx context.Context, id int64, key string, value any) (*model.Element, error) {
	return s.PatchElementTags(ctx, id, model.Tags{key: value})
}

// RemoveElementTag removes a single tag key.
func (s *Store) RemoveElementTag(ctx context.Context, id int64, key string) (*model.Element, error) {
	return s.PatchElementTags(ctx, id, model.Tags{key: nil})
}

// SetElementDeletedAt tombstones (non-nil) or resurrects (nil) the element.
func (s *Store) SetElementDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.Element, error) {
	return setElementDeletedAt(ctx, s.db, id, deletedAt)
}

func (t *Tx) SetElementDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.Element, error) {
	return setElementDeletedAt(ctx, t.tx, id, deletedAt)
}
