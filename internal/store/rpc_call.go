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

const rpcCallCols = "id, method, params, user_id, ip, created_at, processed_at, duration_ns"

func scanRpcCall(sc scanner) (*model.RpcCall, error) {
	var (
		c           model.RpcCall
		params      sql.NullString
		userID      sql.NullInt64
		createdAt   string
		processedAt sql.NullString
		durationNs  sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.Method, &params, &userID, &c.IP, &createdAt, &processedAt, &durationNs); err != nil {
		return nil, err
	}
	if params.Valid {
		c.Params = json.RawMessage(params.String)
	}
	if userID.Valid {
		c.UserID = &userID.Int64
	}
	var err error
	if c.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if c.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, err
	}
	if durationNs.Valid {
		c.Duration = time.Duration(durationNs.Int64)
	}
	return &c, nil
}

// InsertRpcCall opens the audit record for a dispatch. userID is nil for
// public methods.
func (s *Store) InsertRpcCall(ctx context.Context, method string, params json.RawMessage, userID *int64, ip string) (*model.RpcCall, error) {
	var paramsArg any
	if params != nil {
		paramsArg = string(params)
	}
	var userArg any
	if userID != nil {
		userArg = *userID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rpc_call (method, params, user_id, ip, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, method, paramsArg, userArg, ip, model.FormatTime(model.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to insert rpc call: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted rpc call id: %w", err)
	}
	return s.SelectRpcCallByID(ctx, id)
}

// SelectRpcCallByID returns one audit record.
func (s *Store) SelectRpcCallByID(ctx context.Context, id int64) (*model.RpcCall, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+rpcCallCols+` FROM rpc_call WHERE id = ?
	`, id)
	c, err := scanRpcCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rpc call %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select rpc call %d: %w", id, err)
	}
	return c, nil
}

// FinishRpcCall stamps completion time and handler duration.
func (s *Store) FinishRpcCall(ctx context.Context, id int64, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE rpc_call SET processed_at = ?, duration_ns = ? WHERE id = ?
	`, model.FormatTime(model.Now()), duration.Nanoseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to finish rpc call %d: %w", id, err)
	}
	return requireAffected(res, "rpc call", id)
}

// CountRpcCallsSince returns how many calls to method were made after since;
// method "" counts all.
func (s *Store) CountRpcCallsSince(ctx context.Context, method string, since time.Time) (int64, error) {
	var (
		n   int64
		err error
	)
	if method == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT count(*) FROM rpc_call WHERE created_at > ?
		`, model.FormatTime(since)).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT count(*) FROM rpc_call WHERE method = ? AND created_at > ?
		`, method, model.FormatTime(since)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count rpc calls: %w", err)
	}
	return n, nil
}
