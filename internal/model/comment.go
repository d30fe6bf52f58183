package model

import "time"

// ElementComment is a free-form review attached to an element. Paywalled
// comments are inserted tombstoned and undeleted when their invoice settles.
type ElementComment struct {
	ID        int64
	ElementID int64
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (c *ElementComment) Deleted() bool {
	return c.DeletedAt != nil
}
