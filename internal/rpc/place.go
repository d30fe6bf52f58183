package rpc

import (
	"context"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

type submitPlaceParams struct {
	Origin     string     `json:"origin"`
	ExternalID string     `json:"external_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	Extra      model.Tags `json:"extra"`
}

// submitPlace records a candidate place from a third-party source. When an
// issue tracker is configured a review ticket is opened best-effort; ticket
// failures never fail the submission.
func (d *Dispatcher) submitPlace(ctx context.Context, call *Call) (any, error) {
	var p submitPlaceParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Origin == "" || p.ExternalID == "" {
		return nil, Errorf(CodeInvalidParams, "missing origin or external_id")
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing name")
	}
	if !validCoords(p.Lat, p.Lon) {
		return nil, Errorf(CodeInvalidParams, "coordinates out of range")
	}
	sub, err := d.store.InsertPlaceSubmission(ctx, &model.PlaceSubmission{
		Origin:     p.Origin,
		ExternalID: p.ExternalID,
		Lat:        p.Lat,
		Lon:        p.Lon,
		Category:   p.Category,
		Name:       p.Name,
		Extra:      p.Extra,
	})
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, Errorf(CodeInvalidParams, "place %s/%s is already submitted", p.Origin, p.ExternalID)
		}
		return nil, err
	}
	if d.deps.Gitea != nil {
		url, err := d.deps.Gitea.OpenTicket(ctx, sub)
		switch {
		case err != nil:
			d.log.Warn("failed to open review ticket",
				"origin", sub.Origin, "external_id", sub.ExternalID, "error", err)
		case url != "":
			sub, err = d.store.SetPlaceSubmissionTicketURL(ctx, sub.ID, url)
			if err != nil {
				return nil, err
			}
		}
	}
	return newSubmissionView(sub), nil
}

type placeRefParams struct {
	Origin     string `json:"origin"`
	ExternalID string `json:"external_id"`
}

func (d *Dispatcher) getSubmittedPlace(ctx context.Context, call *Call) (any, error) {
	sub, err := d.lookupSubmission(ctx, call)
	if err != nil {
		return nil, err
	}
	return newSubmissionView(sub), nil
}

func (d *Dispatcher) revokeSubmittedPlace(ctx context.Context, call *Call) (any, error) {
	sub, err := d.lookupSubmission(ctx, call)
	if err != nil {
		return nil, err
	}
	sub, err = d.store.SetPlaceSubmissionRevoked(ctx, sub.ID, true)
	if err != nil {
		return nil, err
	}
	return newSubmissionView(sub), nil
}

func (d *Dispatcher) lookupSubmission(ctx context.Context, call *Call) (*model.PlaceSubmission, error) {
	var p placeRefParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Origin == "" || p.ExternalID == "" {
		return nil, Errorf(CodeInvalidParams, "missing origin or external_id")
	}
	return d.store.SelectPlaceSubmissionByOrigin(ctx, p.Origin, p.ExternalID)
}

type ticketSyncResult struct {
	Tracked int `json:"tracked"`
	Closed  int `json:"closed"`
	Failed  int `json:"failed"`
}

func (d *Dispatcher) syncSubmittedPlaces(ctx context.Context, call *Call) (any, error) {
	if d.deps.Gitea == nil {
		return nil, Errorf(CodeInternal, "ticket sync is not configured")
	}
	res, err := d.deps.Gitea.SyncTickets(ctx)
	if err != nil {
		return nil, err
	}
	return &ticketSyncResult{Tracked: res.Tracked, Closed: res.Closed, Failed: res.Failed}, nil
}
