package rpc

import (
	"context"
	"encoding/json"
	"strings"
)

type createInvoiceParams struct {
	AmountSats  int64  `json:"amount_sats"`
	Description string `json:"description"`
}

func (d *Dispatcher) createInvoice(ctx context.Context, call *Call) (any, error) {
	if d.deps.Invoice == nil {
		return nil, Errorf(CodeInternal, "invoicing is not configured")
	}
	var p createInvoiceParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.AmountSats <= 0 {
		return nil, Errorf(CodeInvalidParams, "amount_sats must be positive")
	}
	inv, err := d.deps.Invoice.Create(ctx, p.AmountSats, p.Description)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(inv), nil
}

type getInvoiceParams struct {
	UUID string `json:"uuid"`
}

func (d *Dispatcher) getInvoice(ctx context.Context, call *Call) (any, error) {
	var p getInvoiceParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.UUID == "" {
		return nil, Errorf(CodeInvalidParams, "missing uuid")
	}
	inv, err := d.store.SelectInvoiceByUUID(ctx, p.UUID)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(inv), nil
}

type paywallCommentParams struct {
	ElementID json.RawMessage `json:"element_id"`
	Comment   string          `json:"comment"`
}

// paywallAddElementComment stores the comment hidden and returns the
// invoice that publishes it once paid.
func (d *Dispatcher) paywallAddElementComment(ctx context.Context, call *Call) (any, error) {
	if d.deps.Invoice == nil {
		return nil, Errorf(CodeInternal, "invoicing is not configured")
	}
	var p paywallCommentParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Comment) == "" {
		return nil, Errorf(CodeInvalidParams, "missing comment")
	}
	el, err := d.resolveElement(ctx, p.ElementID)
	if err != nil {
		return nil, err
	}
	inv, err := d.deps.Invoice.CreateComment(ctx, el.ID, p.Comment)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(inv), nil
}

type paywallBoostParams struct {
	ElementID json.RawMessage `json:"element_id"`
	Days      int64           `json:"days"`
}

func (d *Dispatcher) paywallBoostElement(ctx context.Context, call *Call) (any, error) {
	if d.deps.Invoice == nil {
		return nil, Errorf(CodeInternal, "invoicing is not configured")
	}
	var p paywallBoostParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	el, err := d.resolveElement(ctx, p.ElementID)
	if err != nil {
		return nil, err
	}
	inv, err := d.deps.Invoice.CreateBoost(ctx, el.ID, p.Days)
	if err != nil {
		return nil, err
	}
	return newInvoiceView(inv), nil
}
