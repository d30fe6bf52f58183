// Package report generates the daily per-area statistics rows.
package report

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// Retry policy for insert lock contention.
const (
	busyRetries = 10
	busyBackoff = 10 * time.Millisecond
)

// Result counts one generation run.
type Result struct {
	Areas   int
	Created int
	Skipped int
}

// Engine computes one report row per live area per day. The earth area
// aggregates over every live element; other areas aggregate over their
// mapped members.
type Engine struct {
	store *store.Store
	log   *slog.Logger
}

func New(s *store.Store, log *slog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

// Run generates today's reports. Areas that already have a row for today
// are skipped, so the run is safe to repeat.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	now := model.Now()
	date := model.FormatDate(now)

	elements, err := e.store.SelectLiveElements(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*model.Element, len(elements))
	for _, el := range elements {
		byID[el.ID] = el
	}
	areas, err := e.store.SelectLiveAreas(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, a := range areas {
		res.Areas++
		members := elements
		if a.Alias() != model.EarthAlias {
			links, err := e.store.SelectLiveAreaElementsByArea(ctx, a.ID)
			if err != nil {
				return nil, err
			}
			members = make([]*model.Element, 0, len(links))
			for _, l := range links {
				if el, ok := byID[l.ElementID]; ok {
					members = append(members, el)
				}
			}
		}
		created, err := e.insert(ctx, a.ID, date, Stats(members, now))
		if err != nil {
			return nil, err
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	e.log.Info("generated reports",
		"date", date,
		"areas", res.Areas,
		"created", res.Created,
		"skipped", res.Skipped)
	return res, nil
}

// insert writes one report row. Lock contention gets a short retry; a
// duplicate (area, date) means the row is already generated.
func (e *Engine) insert(ctx context.Context, areaID int64, date string, tags model.Tags) (bool, error) {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		_, err = e.store.InsertReport(ctx, areaID, date, tags)
		if err == nil {
			return true, nil
		}
		if store.IsUniqueViolation(err) {
			return false, nil
		}
		if !store.IsBusy(err) {
			return false, err
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(busyBackoff):
		}
	}
	return false, err
}

// Stats aggregates the report tags for one element set. Verification
// within the last year counts as up to date, older as outdated; elements
// that were never verified count toward neither.
func Stats(elements []*model.Element, now time.Time) model.Tags {
	var (
		atms     float64
		upToDate float64
		outdated float64
		legacy   float64
		sumUnix  int64
		verified int64
	)
	for _, el := range elements {
		if el.OsmTag("amenity") == "atm" {
			atms++
		}
		if el.HasOsmTag("payment:bitcoin") {
			legacy++
		}
		d := el.VerificationDate()
		if d == nil {
			continue
		}
		verified++
		sumUnix += d.Unix()
		if int(now.Sub(*d).Hours()/24) <= 365 {
			upToDate++
		} else {
			outdated++
		}
	}
	total := float64(len(elements))
	var percent float64
	if total > 0 {
		percent = math.Round(upToDate / total * 100)
	}
	tags := model.Tags{
		"total_elements":      total,
		"total_atms":          atms,
		"up_to_date_elements": upToDate,
		"outdated_elements":   outdated,
		"legacy_elements":     legacy,
		"up_to_date_percent":  percent,
	}
	if verified > 0 {
		avg := time.Unix(sumUnix/verified, 0).UTC()
		tags["avg_verification_date"] = avg.Format(time.RFC3339)
	}
	return tags
}
