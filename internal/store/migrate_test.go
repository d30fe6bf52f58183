package store

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsRejectsGaps(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/0003_c.sql": {Data: []byte("CREATE TABLE c (id INTEGER);")},
	}
	if _, err := loadMigrations(fsys, "m"); err == nil {
		t.Fatal("gap in migration sequence not detected")
	}
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	for _, name := range []string{"m/init.sql", "m/x001_a.sql", "m/0000_a.sql"} {
		fsys := fstest.MapFS{name: {Data: []byte("SELECT 1;")}}
		if _, err := loadMigrations(fsys, "m"); err == nil {
			t.Errorf("migration name %q accepted", name)
		}
	}
}

func TestLoadMigrationsOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.sql": {Data: []byte("2")},
		"m/0001_a.sql": {Data: []byte("1")},
		"m/0003_c.sql": {Data: []byte("3")},
	}
	ms, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("loadMigrations failed: %v", err)
	}
	for i, m := range ms {
		if m.version != i+1 {
			t.Errorf("position %d has version %d", i, m.version)
		}
	}
}

func TestMigrateStopsAtFailingStep(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0001_a.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/0002_b.sql": {Data: []byte("THIS IS NOT SQL;")},
	}
	db, err := openDB(t.TempDir() + "/m.db")
	if err != nil {
		t.Fatalf("openDB failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	err = migrate(ctx, db, fsys, "m")
	if err == nil {
		t.Fatal("broken migration applied without error")
	}
	if !strings.Contains(err.Error(), "0002_b") {
		t.Errorf("error does not name the failing migration: %v", err)
	}

	// The successful first step must stick so a fixed build resumes at 2.
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	if version != 1 {
		t.Errorf("user_version = %d after partial failure, want 1", version)
	}
}
