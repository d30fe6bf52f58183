package model

import "time"

// Ban blocks an IP address for the half-open interval [StartAt, EndAt).
type Ban struct {
	ID        int64
	IP        string
	Reason    string
	StartAt   time.Time
	EndAt     time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (b *Ban) Deleted() bool {
	return b.DeletedAt != nil
}

// ActiveAt reports whether the ban covers the given instant.
func (b *Ban) ActiveAt(t time.Time) bool {
	return !t.Before(b.StartAt) && t.Before(b.EndAt)
}
