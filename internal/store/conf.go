package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/untoldecay/btcmap/internal/model"
)

// Well-known conf keys. The conf table holds runtime secrets and prices so
// operators can change them without a redeploy.
const (
	ConfCommentPriceSat   = "paywall_add_element_comment_price_sat"
	ConfBoost30dPriceSat  = "paywall_boost_element_30d_price_sat"
	ConfBoost90dPriceSat  = "paywall_boost_element_90d_price_sat"
	ConfBoost365dPriceSat = "paywall_boost_element_365d_price_sat"
	ConfLnbitsInvoiceKey  = "lnbits_invoice_key"
	ConfLndMacaroon       = "lnd_invoices_macaroon"
	ConfGiteaAPIKey       = "gitea_api_key"
	ConfMatrixUsername    = "matrix_bot_username"
	ConfMatrixPassword    = "matrix_bot_password"
	ConfDiscordWebhook    = "discord_webhook_url"
	ConfMatrixRoomURL     = "matrix_room_url"
	ConfSnapshotFloor     = "osm_snapshot_floor"
)

// GetConf returns the value for key, or NotFound.
func (s *Store) GetConf(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM conf WHERE key = ?
	`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("conf %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get conf %q: %w", key, err)
	}
	return value, nil
}

// GetConfDefault returns the value for key, or def when unset.
func (s *Store) GetConfDefault(ctx context.Context, key, def string) (string, error) {
	v, err := s.GetConf(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// GetConfInt64 returns the integer value for key, or def when unset or not
// an integer.
func (s *Store) GetConfInt64(ctx context.Context, key string, def int64) (int64, error) {
	v, err := s.GetConf(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// SetConf creates or replaces a conf entry.
func (s *Store) SetConf(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conf (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, model.FormatTime(model.Now()))
	if err != nil {
		return fmt.Errorf("failed to set conf %q: %w", key, err)
	}
	return nil
}

// DeleteConf removes a conf entry. Deleting an absent key is a no-op.
func (s *Store) DeleteConf(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conf WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete conf %q: %w", key, err)
	}
	return nil
}

// ListConf returns every conf entry sorted by key.
func (s *Store) ListConf(ctx context.Context) (map[string]string, []string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM conf`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list conf: %w", err)
	}
	defer func() { _ = rows.Close() }()
	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, nil, fmt.Errorf("failed to scan conf: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read conf: %w", err)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return values, keys, nil
}
