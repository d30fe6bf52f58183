package rpc

import (
	"context"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

type addEventParams struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Name     string  `json:"name"`
	Website  string  `json:"website"`
	StartsAt string  `json:"starts_at"`
	EndsAt   string  `json:"ends_at"`
}

func (d *Dispatcher) addEvent(ctx context.Context, call *Call) (any, error) {
	var p addEventParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing name")
	}
	if !validCoords(p.Lat, p.Lon) {
		return nil, Errorf(CodeInvalidParams, "coordinates out of range")
	}
	startsAt, err := model.ParseTime(p.StartsAt)
	if err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid starts_at: %v", err)
	}
	var endsAt *time.Time
	if p.EndsAt != "" {
		t, err := model.ParseTime(p.EndsAt)
		if err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid ends_at: %v", err)
		}
		if !t.After(startsAt) {
			return nil, Errorf(CodeInvalidParams, "ends_at precedes starts_at")
		}
		endsAt = &t
	}
	ev, err := d.store.InsertEvent(ctx, p.Lat, p.Lon, p.Name, p.Website, startsAt, endsAt)
	if err != nil {
		return nil, err
	}
	return newEventView(ev), nil
}

type deleteEventParams struct {
	ID int64 `json:"id"`
}

func (d *Dispatcher) deleteEvent(ctx context.Context, call *Call) (any, error) {
	var p deleteEventParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.ID <= 0 {
		return nil, Errorf(CodeInvalidParams, "missing event id")
	}
	now := model.Now()
	ev, err := d.store.SetEventDeletedAt(ctx, p.ID, &now)
	if err != nil {
		return nil, err
	}
	return newEventView(ev), nil
}

func validCoords(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
