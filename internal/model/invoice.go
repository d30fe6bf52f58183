package model

import "time"

// Invoice sources.
const (
	InvoiceSourceLnbits = "lnbits"
	InvoiceSourceLnd    = "lnd"
)

// Invoice statuses. Paid is terminal.
const (
	InvoiceUnpaid = "unpaid"
	InvoicePaid   = "paid"
)

// Invoice records a lightning payment request. Description encodes the
// deferred action applied when the invoice settles.
type Invoice struct {
	ID             int64
	UUID           string
	Source         string
	Description    string
	AmountSats     int64
	PaymentHash    string
	PaymentRequest string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

func (i *Invoice) Deleted() bool {
	return i.DeletedAt != nil
}
