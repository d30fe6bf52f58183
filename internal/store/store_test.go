package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestOpenAppliesMigrations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "btcmap.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	ms, err := loadMigrations(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	if version != len(ms) {
		t.Errorf("user_version = %d, want %d", version, len(ms))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopening an up-to-date database must be a no-op.
	s2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	s := newTestStore(t)
	_, err := s.db.ExecContext(context.Background(), `
		INSERT INTO element_comment (element_id, comment, created_at, updated_at)
		VALUES (999, 'orphan', '2025-01-01T00:00:00.000000000Z', '2025-01-01T00:00:00.000000000Z')
	`)
	if err == nil {
		t.Fatal("insert with dangling element_id succeeded, foreign keys are off")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.InsertElement(ctx, osmNode(1, 0, 0, nil)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx returned %v, want boom", err)
	}

	if _, err := s.SelectElementByID(ctx, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("element visible after rollback, err = %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.InsertElement(ctx, osmNode(1, 0, 0, nil)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	_, err := s.InsertElement(ctx, osmNode(1, 0, 0, nil))
	if err == nil {
		t.Fatal("duplicate live osm identity accepted")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false", err)
	}
	if IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
}
