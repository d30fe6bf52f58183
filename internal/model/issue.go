package model

import "time"

// ElementIssue is a structured data-quality finding on an element. Rows are
// soft-deleted when the condition clears and reinstated when it reappears.
type ElementIssue struct {
	ID        int64
	ElementID int64
	Code      string
	Severity  int64
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (i *ElementIssue) Deleted() bool {
	return i.DeletedAt != nil
}
