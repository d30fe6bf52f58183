package model

import "time"

// Event is a calendar entry for a bitcoin meetup or conference at a fixed
// location. Distinct from ElementEvent, which is a merge audit record.
type Event struct {
	ID        int64
	Lat       float64
	Lon       float64
	Name      string
	Website   string
	StartsAt  time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (e *Event) Deleted() bool {
	return e.DeletedAt != nil
}
