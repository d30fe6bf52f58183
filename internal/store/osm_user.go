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

const osmUserCols = "id, osm_data, tags, created_at, updated_at, deleted_at"

func scanOsmUser(sc scanner) (*model.OsmUser, error) {
	var (
		u         model.OsmUser
		osmData   string
		tags      []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&u.ID, &osmData, &tags, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	u.OsmData = json.RawMessage(osmData)
	var err error
	if u.Tags, err = model.DecodeTags(tags); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if u.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func selectOsmUserByID(ctx context.Context, q dbtx, id int64) (*model.OsmUser, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+osmUserCols+` FROM osm_user WHERE id = ?
	`, id)
	u, err := scanOsmUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("osm user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select osm user %d: %w", id, err)
	}
	return u, nil
}

func upsertOsmUser(ctx context.Context, q dbtx, id int64, osmData json.RawMessage) (*model.OsmUser, error) {
	now := model.FormatTime(model.Now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO osm_user (id, osm_data, tags, created_at, updated_at)
		VALUES (?, ?, '{}', ?, ?)
		ON CONFLICT (id) DO UPDATE SET osm_data = excluded.osm_data, updated_at = excluded.updated_at
	`, id, string(osmData), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert osm user %d: %w", id, err)
	}
	return selectOsmUserByID(ctx, q, id)
}

func ensureOsmUser(ctx context.Context, q dbtx, id int64, osmData json.RawMessage) error {
	now := model.FormatTime(model.Now())
	_, err := q.ExecContext(ctx, `
		INSERT INTO osm_user (id, osm_data, tags, created_at, updated_at)
		VALUES (?, ?, '{}', ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, id, string(osmData), now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure osm user %d: %w", id, err)
	}
	return nil
}

// UpsertOsmUser mirrors an upstream account: inserts the profile on first
// sight, replaces it afterwards. Local tags are preserved.
func (s *Store) UpsertOsmUser(ctx context.Context, id int64, osmData json.RawMessage) (*model.OsmUser, error) {
	return upsertOsmUser(ctx, s.db, id, osmData)
}

func (t *Tx) UpsertOsmUser(ctx context.Context, id int64, osmData json.RawMessage) (*model.OsmUser, error) {
	return upsertOsmUser(ctx, t.tx, id, osmData)
}

// EnsureOsmUser inserts a stub row for an account seen in upstream edits,
// leaving an already mirrored profile untouched.
func (s *Store) EnsureOsmUser(ctx context.Context, id int64, osmData json.RawMessage) error {
	return ensureOsmUser(ctx, s.db, id, osmData)
}

func (t *Tx) EnsureOsmUser(ctx context.Context, id int64, osmData json.RawMessage) error {
	return ensureOsmUser(ctx, t.tx, id, osmData)
}

// SelectOsmUserByID returns the mirrored account.
func (s *Store) SelectOsmUserByID(ctx context.Context, id int64) (*model.OsmUser, error) {
	return selectOsmUserByID(ctx, s.db, id)
}

func (t *Tx) SelectOsmUserByID(ctx context.Context, id int64) (*model.OsmUser, error) {
	return selectOsmUserByID(ctx, t.tx, id)
}

// SelectOsmUsersUpdatedSince is the user sync feed.
func (s *Store) SelectOsmUsersUpdatedSince(ctx context.Context, since time.Time, limit int64) ([]*model.OsmUser, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+osmUserCols+` FROM osm_user
		WHERE updated_at > ?
		ORDER BY updated_at, id
		LIMIT ?
	`, model.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select osm users feed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.OsmUser
	for rows.Next() {
		u, err := scanOsmUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan osm user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read osm users: %w", err)
	}
	return out, nil
}

// SelectLiveOsmUsers returns all mirrored accounts that are not tombstoned.
func (s *Store) SelectLiveOsmUsers(ctx context.Context) ([]*model.OsmUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+osmUserCols+` FROM osm_user WHERE deleted_at IS NULL ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select live osm users: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.OsmUser
	for rows.Next() {
		u, err := scanOsmUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan osm user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read osm users: %w", err)
	}
	return out, nil
}

// PatchOsmUserTags deep-merges patch into the mirrored account's tag bag.
func (s *Store) PatchOsmUserTags(ctx context.Context, id int64, patch model.Tags) (*model.OsmUser, error) {
	var u *model.OsmUser
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := selectOsmUserByID(ctx, tx, id)
		if err != nil {
			return err
		}
		merged, err := model.MergePatch(cur.Tags, patch).Encode()
		if err != nil {
			return fmt.Errorf("failed to patch osm user %d tags: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE osm_user SET tags = ?, updated_at = ? WHERE id = ?
		`, merged, model.FormatTime(model.Now()), id); err != nil {
			return fmt.Errorf("failed to patch osm user %d tags: %w", id, err)
		}
		u, err = selectOsmUserByID(ctx, tx, id)
		return err
	})
	return u, err
}

// SetOsmUserDeletedAt tombstones or resurrects the mirrored account.
func (s *Store) SetOsmUserDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.OsmUser, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE osm_user SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set osm user %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "osm user", id); err != nil {
		return nil, err
	}
	return selectOsmUserByID(ctx, s.db, id)
}
