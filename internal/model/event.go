package model

import "time"

// Element event types emitted by the upstream merge.
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// ElementEvent is an append-only audit record of one merge outcome for one
// element. UserID is the upstream account that authored the change.
type ElementEvent struct {
	ID        int64
	UserID    int64
	ElementID int64
	Type      string
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (ev *ElementEvent) Deleted() bool {
	return ev.DeletedAt != nil
}
