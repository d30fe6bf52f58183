package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
)

const invoiceCols = "id, uuid, source, description, amount_sats, payment_hash, payment_request, status, created_at, updated_at, deleted_at"

func scanInvoice(sc scanner) (*model.Invoice, error) {
	var (
		inv       model.Invoice
		createdAt string
		updatedAt string
		deletedAt sql.NullString
	)
	if err := sc.Scan(&inv.ID, &inv.UUID, &inv.Source, &inv.Description, &inv.AmountSats,
		&inv.PaymentHash, &inv.PaymentRequest, &inv.Status, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if inv.CreatedAt, err = parseRowTime(createdAt); err != nil {
		return nil, err
	}
	if inv.UpdatedAt, err = parseRowTime(updatedAt); err != nil {
		return nil, err
	}
	if inv.DeletedAt, err = parseNullTime(deletedAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

func selectInvoiceByID(ctx context.Context, q dbtx, id int64) (*model.Invoice, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM invoice WHERE id = ?
	`, id)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select invoice %d: %w", id, err)
	}
	return inv, nil
}

// InsertInvoice records a fresh payment request in the unpaid state.
func (s *Store) InsertInvoice(ctx context.Context, uuid, source, description string, amountSats int64, paymentHash, paymentRequest string) (*model.Invoice, error) {
	now := model.FormatTime(model.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice (uuid, source, description, amount_sats, payment_hash, payment_request, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, uuid, source, description, amountSats, paymentHash, paymentRequest, model.InvoiceUnpaid, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted invoice id: %w", err)
	}
	return selectInvoiceByID(ctx, s.db, id)
}

// SelectInvoiceByID returns one invoice.
func (s *Store) SelectInvoiceByID(ctx context.Context, id int64) (*model.Invoice, error) {
	return selectInvoiceByID(ctx, s.db, id)
}

func (t *Tx) SelectInvoiceByID(ctx context.Context, id int64) (*model.Invoice, error) {
	return selectInvoiceByID(ctx, t.tx, id)
}

// SelectInvoiceByUUID resolves the public invoice identifier.
func (s *Store) SelectInvoiceByUUID(ctx context.Context, uuid string) (*model.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceCols+` FROM invoice WHERE uuid = ?
	`, uuid)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("invoice %q: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select invoice %q: %w", uuid, err)
	}
	return inv, nil
}

// SelectUnpaidInvoicesCreatedAfter returns the unpaid invoices still inside
// the polling window.
func (s *Store) SelectUnpaidInvoicesCreatedAfter(ctx context.Context, cutoff time.Time) ([]*model.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceCols+` FROM invoice
		WHERE status = ? AND deleted_at IS NULL AND created_at > ?
		ORDER BY id
	`, model.InvoiceUnpaid, model.FormatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to select unpaid invoices: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*model.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invoices: %w", err)
	}
	return out, nil
}

// MarkInvoicePaid flips the invoice to paid iff it is still unpaid, so
// repeated polling can never apply the transition twice. Returns whether
// this call performed the flip.
func (t *Tx) MarkInvoicePaid(ctx context.Context, id int64) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE invoice SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, model.InvoicePaid, model.FormatTime(model.Now()), id, model.InvoiceUnpaid)
	if err != nil {
		return false, fmt.Errorf("failed to mark invoice %d paid: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
