// Package jobs arms the recurring background work: upstream snapshot
// merges, invoice polling, report generation, issue sweeps, spatial
// mapping, and profile and ticket sync. Every schedule is also
// reachable on demand through the corresponding RPC method.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/gitea"
	"github.com/untoldecay/btcmap/internal/invoice"
	"github.com/untoldecay/btcmap/internal/issue"
	"github.com/untoldecay/btcmap/internal/merge"
	"github.com/untoldecay/btcmap/internal/osmuser"
	"github.com/untoldecay/btcmap/internal/overpass"
	"github.com/untoldecay/btcmap/internal/report"
)

// Engines holds the workers the scheduler drives. Nil fields are
// skipped, so a deployment without an invoicing backend simply never
// arms the invoice poll.
type Engines struct {
	Overpass *overpass.Client
	Merge    *merge.Engine
	Geo      *geo.Engine
	Issue    *issue.Engine
	Report   *report.Engine
	Invoice  *invoice.Engine
	OsmUsers *osmuser.Engine
	Gitea    *gitea.Engine
}

// Scheduler wraps a cron runner whose jobs never overlap themselves:
// a tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger
}

func New(log *slog.Logger, e Engines) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(), log: log}

	if e.Overpass != nil && e.Merge != nil {
		if err := s.add("@every 1h", "element-sync", func(ctx context.Context) error {
			snapshot, err := e.Overpass.Snapshot(ctx)
			if err != nil {
				return err
			}
			res, err := e.Merge.Run(ctx, snapshot)
			if err != nil {
				return err
			}
			log.Info("merged snapshot",
				"created", res.Created, "updated", res.Updated, "deleted", res.Deleted)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.Invoice != nil {
		if err := s.add("@every 1m", "invoice-poll", func(ctx context.Context) error {
			settled, err := e.Invoice.Poll(ctx)
			if err != nil {
				return err
			}
			if settled > 0 {
				log.Info("settled invoices", "count", settled)
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.Report != nil {
		if err := s.add("30 3 * * *", "reports", func(ctx context.Context) error {
			res, err := e.Report.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("generated reports", "areas", res.Areas, "created", res.Created)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.Issue != nil {
		if err := s.add("@every 12h", "element-issues", func(ctx context.Context) error {
			res, err := e.Issue.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("generated element issues",
				"elements", res.Elements, "affected", res.Affected, "swept", res.Swept)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.Geo != nil {
		if err := s.add("@every 12h", "area-mapping", func(ctx context.Context) error {
			res, err := e.Geo.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("mapped areas", "elements", res.Elements, "changed", res.Changed)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.OsmUsers != nil {
		if err := s.add("@every 6h", "osm-user-sync", func(ctx context.Context) error {
			res, err := e.OsmUsers.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("synced osm users",
				"users", res.Users, "updated", res.Updated, "failed", res.Failed)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if e.Gitea != nil {
		if err := s.add("@every 1h", "place-ticket-sync", func(ctx context.Context) error {
			res, err := e.Gitea.SyncTickets(ctx)
			if err != nil {
				return err
			}
			log.Info("synced place tickets",
				"tracked", res.Tracked, "closed", res.Closed, "failed", res.Failed)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Scheduler) add(spec, name string, run func(context.Context) error) error {
	var running atomic.Bool
	_, err := s.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn("job still running, skipping tick", "job", name)
			return
		}
		defer running.Store(false)
		start := time.Now()
		if err := run(context.Background()); err != nil {
			s.log.Error("job failed", "job", name, "error", err)
			return
		}
		s.log.Debug("job finished", "job", name, "duration", time.Since(start))
	})
	return err
}

// Jobs reports how many schedules are armed.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("background jobs armed", "count", s.Jobs())
}

// Stop halts scheduling and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
