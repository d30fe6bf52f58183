package model

import "time"

// PlaceSubmission is a third-party-sourced candidate place awaiting review.
// (Origin, ExternalID) is unique; Revoked marks withdrawal by the source and
// ClosedAt marks the end of review.
type PlaceSubmission struct {
	ID         int64
	Origin     string
	ExternalID string
	Lat        float64
	Lon        float64
	Category   string
	Name       string
	Extra      Tags
	TicketURL  string
	Revoked    bool
	ClosedAt   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

func (p *PlaceSubmission) Deleted() bool {
	return p.DeletedAt != nil
}
