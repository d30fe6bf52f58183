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

const userCols = "id, name, password, roles, created_at, updated_at, deleted_at"

func scanUser(sc scanner) (*model.User, error) {
	var (
		u         model.User
		roles     []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&u.ID, &u.Name, &u.Password, &roles, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(roles, &u.Roles); err != nil {
		return nil, fmt.Errorf("failed to decode roles: %w", err)
	}
	var err error
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

func insertUser(ctx context.Context, q dbtx, name, passwordHash string, roles []string) (*model.User, error) {
	if roles == nil {
		roles = []string{}
	}
	rolesRaw, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to encode roles: %w", err)
	}
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO user (name, password, roles, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, passwordHash, rolesRaw, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted user id: %w", err)
	}
	return selectUserByID(ctx, q, id)
}

func selectUserByID(ctx context.Context, q dbtx, id int64) (*model.User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+userCols+` FROM user WHERE id = ?
	`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select user %d: %w", id, err)
	}
	return u, nil
}

func selectUserByName(ctx context.Context, q dbtx, name string) (*model.User, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+userCols+` FROM user WHERE name = ? AND deleted_at IS NULL
	`, name)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select user %q: %w", name, err)
	}
	return u, nil
}

// InsertUser creates an operator account. Password must already be hashed.
func (s *Store) InsertUser(ctx context.Context, name, passwordHash string, roles []string) (*model.User, error) {
	return insertUser(ctx, s.db, name, passwordHash, roles)
}

func (t *Tx) InsertUser(ctx context.Context, name, passwordHash string, roles []string) (*model.User, error) {
	return insertUser(ctx, t.tx, name, passwordHash, roles)
}

// SelectUserByID returns the operator regardless of deletion state.
func (s *Store) SelectUserByID(ctx context.Context, id int64) (*model.User, error) {
	return selectUserByID(ctx, s.db, id)
}

// SelectUserByName resolves a live operator by name.
func (s *Store) SelectUserByName(ctx context.Context, name string) (*model.User, error) {
	return selectUserByName(ctx, s.db, name)
}

func (t *Tx) SelectUserByName(ctx context.Context, name string) (*model.User, error) {
	return selectUserByName(ctx, t.tx, name)
}

// SetUserRoles replaces the operator's role list.
func (s *Store) SetUserRoles(ctx context.Context, id int64, roles []string) (*model.User, error) {
	if roles == nil {
		roles = []string{}
	}
	rolesRaw, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("failed to encode roles: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE user SET roles = ?, updated_at = ? WHERE id = ?
	`, rolesRaw, model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set user %d roles: %w", id, err)
	}
	if err := requireAffected(res, "user", id); err != nil {
		return nil, err
	}
	return selectUserByID(ctx, s.db, id)
}

// SetUserDeletedAt tombstones or resurrects the operator.
func (s *Store) SetUserDeletedAt(ctx context.Context, id int64, deletedAt *time.Time) (*model.User, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user SET deleted_at = ?, updated_at = ? WHERE id = ?
	`, fmtNullTime(deletedAt), model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set user %d deleted_at: %w", id, err)
	}
	if err := requireAffected(res, "user", id); err != nil {
		return nil, err
	}
	return selectUserByID(ctx, s.db, id)
}
