package rpc

import (
	"encoding/json"

	"github.com/untoldecay/btcmap/internal/model"
)

// Result views. Timestamps serialize in the canonical UTC layout; absent
// tombstones are omitted rather than null.

type elementView struct {
	ID           int64           `json:"id"`
	OverpassData json.RawMessage `json:"overpass_data"`
	Tags         model.Tags      `json:"tags"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	DeletedAt    string          `json:"deleted_at,omitempty"`
}

func newElementView(e *model.Element) *elementView {
	v := &elementView{
		ID:           e.ID,
		OverpassData: e.OverpassData,
		Tags:         e.Tags,
		CreatedAt:    model.FormatTime(e.CreatedAt),
		UpdatedAt:    model.FormatTime(e.UpdatedAt),
	}
	if e.DeletedAt != nil {
		v.DeletedAt = model.FormatTime(*e.DeletedAt)
	}
	return v
}

type areaView struct {
	ID        int64      `json:"id"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	DeletedAt string     `json:"deleted_at,omitempty"`
}

func newAreaView(a *model.Area) *areaView {
	v := &areaView{
		ID:        a.ID,
		Tags:      a.Tags,
		CreatedAt: model.FormatTime(a.CreatedAt),
		UpdatedAt: model.FormatTime(a.UpdatedAt),
	}
	if a.DeletedAt != nil {
		v.DeletedAt = model.FormatTime(*a.DeletedAt)
	}
	return v
}

type invoiceView struct {
	UUID           string `json:"uuid"`
	Description    string `json:"description"`
	AmountSats     int64  `json:"amount_sats"`
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func newInvoiceView(i *model.Invoice) *invoiceView {
	return &invoiceView{
		UUID:           i.UUID,
		Description:    i.Description,
		AmountSats:     i.AmountSats,
		PaymentHash:    i.PaymentHash,
		PaymentRequest: i.PaymentRequest,
		Status:         i.Status,
		CreatedAt:      model.FormatTime(i.CreatedAt),
	}
}

type commentView struct {
	ID        int64  `json:"id"`
	ElementID int64  `json:"element_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

func newCommentView(c *model.ElementComment) *commentView {
	return &commentView{
		ID:        c.ID,
		ElementID: c.ElementID,
		Comment:   c.Comment,
		CreatedAt: model.FormatTime(c.CreatedAt),
	}
}

type eventView struct {
	ID        int64   `json:"id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Name      string  `json:"name"`
	Website   string  `json:"website"`
	StartsAt  string  `json:"starts_at"`
	EndsAt    string  `json:"ends_at,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
	DeletedAt string  `json:"deleted_at,omitempty"`
}

func newEventView(e *model.Event) *eventView {
	v := &eventView{
		ID:        e.ID,
		Lat:       e.Lat,
		Lon:       e.Lon,
		Name:      e.Name,
		Website:   e.Website,
		StartsAt:  model.FormatTime(e.StartsAt),
		CreatedAt: model.FormatTime(e.CreatedAt),
		UpdatedAt: model.FormatTime(e.UpdatedAt),
	}
	if e.EndsAt != nil {
		v.EndsAt = model.FormatTime(*e.EndsAt)
	}
	if e.DeletedAt != nil {
		v.DeletedAt = model.FormatTime(*e.DeletedAt)
	}
	return v
}

type submissionView struct {
	ID         int64      `json:"id"`
	Origin     string     `json:"origin"`
	ExternalID string     `json:"external_id"`
	Lat        float64    `json:"lat"`
	Lon        float64    `json:"lon"`
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	Extra      model.Tags `json:"extra,omitempty"`
	TicketURL  string     `json:"ticket_url,omitempty"`
	Revoked    bool       `json:"revoked"`
	ClosedAt   string     `json:"closed_at,omitempty"`
	CreatedAt  string     `json:"created_at"`
	UpdatedAt  string     `json:"updated_at"`
}

func newSubmissionView(p *model.PlaceSubmission) *submissionView {
	v := &submissionView{
		ID:         p.ID,
		Origin:     p.Origin,
		ExternalID: p.ExternalID,
		Lat:        p.Lat,
		Lon:        p.Lon,
		Category:   p.Category,
		Name:       p.Name,
		Extra:      p.Extra,
		TicketURL:  p.TicketURL,
		Revoked:    p.Revoked,
		CreatedAt:  model.FormatTime(p.CreatedAt),
		UpdatedAt:  model.FormatTime(p.UpdatedAt),
	}
	if p.ClosedAt != nil {
		v.ClosedAt = model.FormatTime(*p.ClosedAt)
	}
	return v
}

type searchHit struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
