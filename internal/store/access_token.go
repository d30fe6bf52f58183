package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/btcmap/internal/model"
)

const accessTokenCols = "id, user_id, name, secret, allowed_methods, created_at, updated_at, deleted_at"

func scanAccessToken(sc scanner) (*model.AccessToken, error) {
	var (
		t         model.AccessToken
		methods   []byte
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&t.ID, &t.UserID, &t.Name, &t.Secret, &methods, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(methods, &t.AllowedMethods); err != nil {
		return nil, fmt.Errorf("failed to decode allowed methods: %w", err)
	}
	var err error
	if t.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if t.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func insertAccessToken(ctx context.Context, q dbtx, userID int64, name, secret string, allowedMethods []string) (*model.AccessToken, error) {
	if allowedMethods == nil {
		allowedMethods = []string{}
	}
	methodsRaw, err := json.Marshal(allowedMethods)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allowed methods: %w", err)
	}
	now := model.FormatTime(model.Now())
	res, err := q.ExecContext(ctx, `
		INSERT INTO access_token (user_id, name, secret, allowed_methods, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, name, secret, methodsRaw, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert access token: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted token id: %w", err)
	}
	return selectAccessTokenByID(ctx, q, id)
}

func selectAccessTokenByID(ctx context.Context, q dbtx, id int64) (*model.AccessToken, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+accessTokenCols+` FROM access_token WHERE id = ?
	`, id)
	t, err := scanAccessToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("access token %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select access token %d: %w", id, err)
	}
	return t, nil
}

func selectAccessTokensByUser(ctx context.Context, q dbtx, userID int64) ([]*model.AccessToken, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+accessTokenCols+` FROM access_token
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens for user %d: %w", userID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read access tokens: %w", err)
	}
	return out, nil
}

func setAccessTokenAllowedMethods(ctx context.Context, q dbtx, id int64, allowedMethods []string) (*model.AccessToken, error) {
	if allowedMethods == nil {
		allowedMethods = []string{}
	}
	methodsRaw, err := json.Marshal(allowedMethods)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allowed methods: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE access_token SET allowed_methods = ?, updated_at = ? WHERE id = ?
	`, methodsRaw, model.FormatTime(model.Now()), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set token %d allowed methods: %w", id, err)
	}
	if err := requireAffected(res, "access token", id); err != nil {
		return nil, err
	}
	return selectAccessTokenByID(ctx, q, id)
}

// InsertAccessToken mints a bearer credential for an operator.
func (s *Store) InsertAccessToken(ctx context.Context, userID int64, name, secret string, allowedMethods []string) (*model.AccessToken, error) {
	return insertAccessToken(ctx, s.db, userID, name, secret, allowedMethods)
}

func (t *Tx) InsertAccessToken(ctx context.Context, userID int64, name, secret string, allowedMethods []string) (*model.AccessToken, error) {
	return insertAccessToken(ctx, t.tx, userID, name, secret, allowedMethods)
}

// SelectAccessTokenBySecret resolves a live token by its bearer secret.
func (s *Store) SelectAccessTokenBySecret(ctx context.Context, secret string) (*model.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accessTokenCols+` FROM access_token
		WHERE secret = ? AND deleted_at IS NULL
	`, secret)
	t, err := scanAccessToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("access token: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select access token by secret: %w", err)
	}
	return t, nil
}

// SelectAccessTokensByUser returns the live tokens owned by an operator.
func (s *Store) SelectAccessTokensByUser(ctx context.Context, userID int64) ([]*model.AccessToken, error) {
	return selectAccessTokensByUser(ctx, s.db, userID)
}

func (t *Tx) SelectAccessTokensByUser(ctx context.Context, userID int64) ([]*model.AccessToken, error) {
	return selectAccessTokensByUser(ctx, t.tx, userID)
}

// SetAccessTokenAllowedMethods replaces a token's method list.
func (s *Store) SetAccessTokenAllowedMethods(ctx context.Context, id int64, allowedMethods []string) (*model.AccessToken, error) {
	return setAccessTokenAllowedMethods(ctx, s.db, id, allowedMethods)
}

func (t *Tx) SetAccessTokenAllowedMethods(ctx context.Context, id int64, allowedMethods []string) (*model.AccessToken, error) {
	return setAccessTokenAllowedMethods(ctx, t.tx, id, allowedMethods)
}
