package store

import (
	"context"
	"testing"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

// Feed pagination contract: walking any feed with the last page's max
// updated_at as the next cursor must visit every row exactly once.
func TestElementFeedPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var want []int64
	for i := int64(1); i <= 5; i++ {
		e := mustInsertElement(t, s, i)
		want = append(want, e.ID)
		time.Sleep(2 * time.Millisecond) // distinct updated_at per row
	}

	var got []int64
	since := time.Time{}
	for {
		page, err := s.SelectElementsUpdatedSince(ctx, since, 3)
		if err != nil {
			t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, e := range page {
			got = append(got, e.ID)
		}
		since = page[len(page)-1].UpdatedAt
	}

	if len(got) != len(want) {
		t.Fatalf("paged feed returned %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: id = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestElementFeedOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustInsertElement(t, s, 1)
	time.Sleep(2 * time.Millisecond)
	b := mustInsertElement(t, s, 2)
	time.Sleep(2 * time.Millisecond)

	// Touching an old row moves it to the tail of the feed.
	if _, err := s.SetElementTag(ctx, a.ID, "boost:expires", "2030-01-01T00:00:00Z"); err != nil {
		t.Fatalf("SetElementTag failed: %v", err)
	}

	feed, err := s.SelectElementsUpdatedSince(ctx, time.Time{}, DefaultFeedLimit)
	if err != nil {
		t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("feed has %d rows, want 2", len(feed))
	}
	if feed[0].ID != b.ID || feed[1].ID != a.ID {
		t.Errorf("feed order = [%d %d], want [%d %d]", feed[0].ID, feed[1].ID, b.ID, a.ID)
	}
}

// Tombstones ride the same feed so mirrors learn about deletions.
func TestElementFeedIncludesTombstones(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := mustInsertElement(t, s, 1)

	cursor := e.UpdatedAt
	time.Sleep(2 * time.Millisecond)
	now := model.Now()
	if _, err := s.SetElementDeletedAt(ctx, e.ID, &now); err != nil {
		t.Fatalf("SetElementDeletedAt failed: %v", err)
	}

	feed, err := s.SelectElementsUpdatedSince(ctx, cursor, DefaultFeedLimit)
	if err != nil {
		t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("feed has %d rows, want the tombstone", len(feed))
	}
	if feed[0].DeletedAt == nil {
		t.Error("tombstone row has no deleted_at")
	}

	// A caller already past the deletion sees nothing.
	after, err := s.SelectElementsUpdatedSince(ctx, feed[0].UpdatedAt, DefaultFeedLimit)
	if err != nil {
		t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
	}
	if len(after) != 0 {
		t.Errorf("feed past the tombstone has %d rows", len(after))
	}
}

func TestFeedLimitClamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsertElement(t, s, 1)
	mustInsertElement(t, s, 2)

	one, err := s.SelectElementsUpdatedSince(ctx, time.Time{}, 1)
	if err != nil {
		t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("limit 1 returned %d rows", len(one))
	}

	// Zero and negative limits fall back to the default.
	all, err := s.SelectElementsUpdatedSince(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("SelectElementsUpdatedSince failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("limit 0 returned %d rows, want 2", len(all))
	}
}

func TestEntityFeedsShareCursorSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := mustInsertElement(t, s, 1)
	a := mustInsertArea(t, s, "th", nil)

	if _, err := s.InsertElementEvent(ctx, 1, e.ID, model.EventCreate); err != nil {
		t.Fatalf("InsertElementEvent failed: %v", err)
	}
	if _, err := s.InsertElementComment(ctx, e.ID, "great shop"); err != nil {
		t.Fatalf("InsertElementComment failed: %v", err)
	}
	if _, err := s.InsertAreaElement(ctx, a.ID, e.ID); err != nil {
		t.Fatalf("InsertAreaElement failed: %v", err)
	}

	if rows, err := s.SelectElementEventsUpdatedSince(ctx, time.Time{}, 10); err != nil || len(rows) != 1 {
		t.Errorf("element event feed: %d rows, err = %v", len(rows), err)
	}
	if rows, err := s.SelectElementCommentsUpdatedSince(ctx, time.Time{}, 10); err != nil || len(rows) != 1 {
		t.Errorf("element comment feed: %d rows, err = %v", len(rows), err)
	}
	if rows, err := s.SelectAreasUpdatedSince(ctx, time.Time{}, 10); err != nil || len(rows) != 1 {
		t.Errorf("area feed: %d rows, err = %v", len(rows), err)
	}
	if rows, err := s.SelectAreaElementsUpdatedSince(ctx, time.Time{}, 10); err != nil || len(rows) != 1 {
		t.Errorf("area element feed: %d rows, err = %v", len(rows), err)
	}
}
