package model

import "time"

// Report is a daily per-area aggregate snapshot. Date is a YYYY-MM-DD
// calendar date; (AreaID, Date) is unique.
type Report struct {
	ID        int64
	AreaID    int64
	Date      string
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (r *Report) Deleted() bool {
	return r.DeletedAt != nil
}
