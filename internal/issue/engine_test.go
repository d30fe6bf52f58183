package issue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed to close test store: %v", err)
		}
	})
	return New(s, logging.Discard()), s
}

func liveCodes(t *testing.T, s *store.Store, elementID int64) map[string]bool {
	t.Helper()
	rows, err := s.SelectElementIssuesByElement(context.Background(), elementID)
	if err != nil {
		t.Fatalf("failed to read issues: %v", err)
	}
	out := map[string]bool{}
	for _, row := range rows {
		if !row.Deleted() {
			out[row.Code] = true
		}
	}
	return out
}

func TestRunCreatesAndResolvesIssues(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	el, err := s.InsertElement(ctx, json.RawMessage(
		`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"name":"Shop","payment:lighting":"yes"}}`))
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}

	res, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Affected != 1 {
		t.Errorf("result = %+v", res)
	}

	live := liveCodes(t, s, el.ID)
	for _, code := range []string{CodeMisspelledTag, CodeMissingIcon, CodeNotVerified} {
		if !live[code] {
			t.Errorf("missing finding %s, have %v", code, live)
		}
	}

	got, err := s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}
	if got.Tags.GetInt64("issues") != 3 {
		t.Errorf("issues tag = %v", got.Tags["issues"])
	}

	// The merchant fixes everything: tag typo gone, fresh survey, icon set.
	today := model.FormatDate(model.Now())
	if _, err := s.SetElementOverpassData(ctx, el.ID, json.RawMessage(
		`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"name":"Shop","check_date":"`+today+`"}}`)); err != nil {
		t.Fatalf("SetElementOverpassData failed: %v", err)
	}
	if _, err := s.SetElementTag(ctx, el.ID, "icon:android", "local_cafe"); err != nil {
		t.Fatalf("SetElementTag failed: %v", err)
	}

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if live := liveCodes(t, s, el.ID); len(live) != 0 {
		t.Errorf("findings after fix = %v", live)
	}
	got, err = s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}
	if got.Tags.Has("issues") {
		t.Errorf("issues tag still present: %v", got.Tags["issues"])
	}
}

// A finding that reappears reinstates its tombstoned row instead of
// growing a duplicate.
func TestRunReinstatesRows(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	bad := json.RawMessage(`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"payment:lighting":"yes","check_date":"2099-01-01"}}`)
	good := json.RawMessage(`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"check_date":"2099-01-01"}}`)

	el, err := s.InsertElement(ctx, bad)
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}
	if _, err := s.SetElementTag(ctx, el.ID, "icon:android", "local_cafe"); err != nil {
		t.Fatalf("SetElementTag failed: %v", err)
	}

	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("run 1 failed: %v", err)
	}
	if _, err := s.SetElementOverpassData(ctx, el.ID, good); err != nil {
		t.Fatalf("SetElementOverpassData failed: %v", err)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("run 2 failed: %v", err)
	}
	if _, err := s.SetElementOverpassData(ctx, el.ID, bad); err != nil {
		t.Fatalf("SetElementOverpassData failed: %v", err)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("run 3 failed: %v", err)
	}

	rows, err := s.SelectElementIssuesByElement(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementIssuesByElement failed: %v", err)
	}
	var misspelled int
	for _, row := range rows {
		if row.Code == CodeMisspelledTag {
			misspelled++
			if row.Deleted() {
				t.Error("reappeared finding still tombstoned")
			}
		}
	}
	if misspelled != 1 {
		t.Errorf("misspelled_tag rows = %d, want 1 reinstated row", misspelled)
	}
}

func TestRunSweepsIssuesOfDeletedElements(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	el, err := s.InsertElement(ctx, json.RawMessage(`{"type":"node","id":1,"lat":1,"lon":2}`))
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}
	if _, err := e.Run(ctx); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if live := liveCodes(t, s, el.ID); len(live) == 0 {
		t.Fatal("fixture produced no findings")
	}

	now := model.Now()
	if _, err := s.SetElementDeletedAt(ctx, el.ID, &now); err != nil {
		t.Fatalf("SetElementDeletedAt failed: %v", err)
	}
	res, err := e.Run(ctx)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if res.Swept == 0 {
		t.Error("tombstoned element's findings not swept")
	}
	if live := liveCodes(t, s, el.ID); len(live) != 0 {
		t.Errorf("findings alive on tombstoned element: %v", live)
	}
}
