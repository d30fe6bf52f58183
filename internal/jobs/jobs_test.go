package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/issue"
	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/merge"
	"github.com/untoldecay/btcmap/internal/overpass"
	"github.com/untoldecay/btcmap/internal/report"
	"github.com/untoldecay/btcmap/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewArmsOnlyConfiguredEngines(t *testing.T) {
	s := newTestStore(t)
	log := logging.Discard()

	none, err := New(log, Engines{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if none.Jobs() != 0 {
		t.Errorf("empty engines armed %d jobs, want 0", none.Jobs())
	}

	some, err := New(log, Engines{
		Overpass: overpass.NewClient(),
		Merge:    merge.New(s, log),
		Geo:      geo.New(s, log),
		Issue:    issue.New(s, log),
		Report:   report.New(s, log),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// element-sync, reports, element-issues, area-mapping.
	if some.Jobs() != 4 {
		t.Errorf("armed %d jobs, want 4", some.Jobs())
	}
}

func TestGuardSkipsOverlappingTicks(t *testing.T) {
	sched, err := New(logging.Discard(), Engines{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	if err := sched.add("@every 1h", "slow", func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		started <- struct{}{}
		<-release
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	job := sched.cron.Entries()[0].Job

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	<-started

	// A tick while the first run is still in flight must be a no-op.
	job.Run()
	mu.Lock()
	if calls != 1 {
		t.Errorf("overlapping tick ran the job, calls = %d", calls)
	}
	mu.Unlock()

	close(release)
	<-done

	// The guard reopens once the run returns.
	job.Run()
	mu.Lock()
	if calls != 2 {
		t.Errorf("post-run tick was skipped, calls = %d", calls)
	}
	mu.Unlock()
}

func TestJobErrorsDoNotPropagate(t *testing.T) {
	sched, err := New(logging.Discard(), Engines{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sched.add("@every 1h", "failing", func(ctx context.Context) error {
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Run the wrapped job directly; a failure only logs.
	sched.cron.Entries()[0].Job.Run()
}
