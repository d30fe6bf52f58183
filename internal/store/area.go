package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const areaCols = "id, tags, created_at, updated_at, deleted_at"

func scanArea(sc scanner) (*model.Area, error) {
	var (
		a         model.Area
		tags      []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&a.ID, &tags, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Tags, err = model.DecodeTags(tags); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if a.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func selectAreaByID(ctx context.Context, q dbtx, id int64) (*model.Area, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+areaCols+` FROM area WHERE id = ?
	`, id)
	a, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("area %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select area %d: %w", id, err)
	}
	return a, nil
}

func patchAreaTags(ctx context.Context, q dbtx, id int64, patch model.Tags) (*model.Area, error) {
	a, err := selectAreaByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	merged, err := model.MergePatch(a.Tags, patch).Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to patch area %d tags: %w", id, err)
	}
	if _, err := q.ExecContext(ctx, `
		UPDATE area SET tags = ?, updated_at = ? WHERE id = ?
	`, merged, model.FormatTime(model.Now()), id); err != nil {
		return nil, fmt.Errorf("failed to patch area %d tags: %w", id, err)
	}
	return selectAreaByID(ctx, q, id)
}

// InsertArea creates an area from its tag bag. Callers validate that the
// bag carries url_alias, name and geo_json; the live-alias unique index
// rejects duplicates.
func (s *Store) InsertArea(ctx context.Context, tags model.Tags) (*model.Area, error) {
	raw, err := tags.Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to insert area: %w", err)
	}
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO area (tags, created_at, updated_at)
		VALUES (?, ?, ?)
	`, raw, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert area: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted area id: %w", err)
	}
	return selectAreaByID(ctx, s.db, id)
}

// SelectAreaByID returns the area regardless of deletion state.
func (s *Store) SelectAreaByID(ctx context.Context, id int64) (*model.Area, error) {
	return selectAreaByID(ctx, s.db, id)
}

func (t *Tx) SelectAreaByID(ctx context.Context, id int64) (*model.Area, error) {
	return selectAreaByID(ctx, t.tx, id)
}

// SelectAreaByAlias resolves a live area by url_alias.
func (s *Store) SelectAreaByAlias(ctx context.Context, alias string) (*model.Area, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+areaCols+` FROM area
		WHERE json_extract(tags, '$.url_alias') = ? AND deleted_at IS NULL
	`, alias)
	a, err := scanArea(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("area %q: %w", alias, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select area %q: %w", alias, err)
	}
	return a, nil
}

// SelectLiveAreas returns every non-tombstoned area in id order.
func (s *Store) SelectLiveAreas(ctx context.Context) ([]*model.Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+areaCols+` FROM area WHERE deleted_at IS NULL ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select live areas: %w", err)
	}
	return collectAreas(rows)
}

// SelectAreasUpdatedSince is the area sync feed.
func (s *Store) SelectAreasUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.Area, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+areaCols+` FROM area
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select areas feed: %w", err)
	}
	return collectAreas(rows)
}

// SearchAreasByName finds live areas whose name tag contains the query.
func (s *Store) SearchAreasByName(ctx context.Context, query string) ([]*model.Area, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+areaCols+` FROM area
		WHERE deleted_at IS NULL
		  AND json_extract(tags, '$.name') LIKE '%' || ? || '%'
		ORDER BY id
	`, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search areas: %w", err)
	}
	return collectAreas(rows)
}

func collectAreas(rows *sql.Rows) ([]*model.Area, error) {
	defer func() { _ = rows.Close() }()
	var out []*model.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan area: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read areas: %w", err)
	}
	return out, nil
}

// PatchAreaTags deep-merges patch into the area's tag bag.
func (s *Store) PatchAreaTags(ctx context.Context, id int64, patch model.Tags) (*model.Area, error) {
	var a *model.Area
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		a, err = patchAreaTags(ctx, tx, id, patch)
		return err
	})
	return a, err
}

// SetAreaTag sets a single tag key.
func (s *Store) SetAreaTag(ctx context.Context, id int64, key string, value any) (*model.Area, error) {
	return s.PatchAreaTags(ctx, id, model.Tags{key: value})
}

// RemoveAreaTag removes a single tag key.
func (s *Store) RemoveAreaTag(ctx context.Context, id int64, key string) (*model.Area, error) {
	return s.PatchAreaTags(ctx, id, model.Tags{key: nil})
}

// SetAreaDeletedAt tombstones or resurrects the area.
func (s *Store) SetAreaDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.Area, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE area SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set area %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "area", id); err != nil {
		return nil, err
	}
	return selectAreaByID(ctx, s.db, id)
}
