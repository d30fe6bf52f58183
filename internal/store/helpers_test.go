package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/untoldecay/btcmap/internal/model"
)

// newTestStore opens a file-backed store in a per-test temp dir. File-based
// databases behave like production under the connection pool, unlike shared
// in-memory ones.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed to close test store: %v", err)
		}
	})
	return s
}

// osmNode builds a minimal upstream node record.
func osmNode(id int64, lat, lon float64, tags map[string]string) json.RawMessage {
	doc := map[string]any{
		"type": "node",
		"id":   id,
		"lat":  lat,
		"lon":  lon,
		"uid":  int64(1),
		"user": "surveyor",
	}
	if len(tags) > 0 {
		doc["tags"] = tags
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("failed to build test node: %v", err))
	}
	return raw
}

func mustInsertElement(t *testing.T, s *Store, id int64) *model.Element {
	t.Helper()
	e, err := s.InsertElement(context.Background(), osmNode(id, 13.7, 100.5, map[string]string{
		"name":            fmt.Sprintf("Merchant %d", id),
		"currency:XBT":    "yes",
		"payment:onchain": "yes",
		"icon:android":    "local_cafe",
	}))
	if err != nil {
		t.Fatalf("failed to insert element: %v", err)
	}
	return e
}

func mustInsertArea(t *testing.T, s *Store, alias string, tags model.Tags) *model.Area {
	t.Helper()
	if tags == nil {
		tags = model.Tags{}
	}
	if !tags.Has("url_alias") {
		tags["url_alias"] = alias
	}
	if !tags.Has("name") {
		tags["name"] = alias
	}
	a, err := s.InsertArea(context.Background(), tags)
	if err != nil {
		t.Fatalf("failed to insert area %q: %v", alias, err)
	}
	return a
}
