package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/untoldecay/btcmap/internal/moderation"
)

type elementRefParams struct {
	ID json.RawMessage `json:"id"`
}

func (d *Dispatcher) getElement(ctx context.Context, call *Call) (any, error) {
	var p elementRefParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	el, err := d.resolveElement(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return newElementView(el), nil
}

type searchParams struct {
	Query string `json:"query"`
}

// search matches elements and areas by name, case-insensitive substring.
func (d *Dispatcher) search(ctx context.Context, call *Call) (any, error) {
	var p searchParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return nil, Errorf(CodeInvalidParams, "missing query")
	}
	hits := []searchHit{}
	elements, err := d.store.SearchElementsByName(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, el := range elements {
		hits = append(hits, searchHit{Type: "element", ID: el.ID, Name: el.Name()})
	}
	areas, err := d.store.SearchAreasByName(ctx, query)
	if err != nil {
		return nil, err
	}
	for _, a := range areas {
		hits = append(hits, searchHit{Type: "area", ID: a.ID, Name: a.Name()})
	}
	return hits, nil
}

type setElementTagParams struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (d *Dispatcher) setElementTag(ctx context.Context, call *Call) (any, error) {
	var p setElementTagParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing tag name")
	}
	if len(p.Value) == 0 {
		return nil, Errorf(CodeInvalidParams, "missing tag value")
	}
	el, err := d.resolveElement(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(p.Value, &value); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid tag value: %v", err)
	}
	el, err = d.store.SetElementTag(ctx, el.ID, p.Name, value)
	if err != nil {
		return nil, err
	}
	return newElementView(el), nil
}

type removeElementTagParams struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

func (d *Dispatcher) removeElementTag(ctx context.Context, call *Call) (any, error) {
	var p removeElementTagParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing tag name")
	}
	el, err := d.resolveElement(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	el, err = d.store.RemoveElementTag(ctx, el.ID, p.Name)
	if err != nil {
		return nil, err
	}
	return newElementView(el), nil
}

type boostElementParams struct {
	ID   json.RawMessage `json:"id"`
	Days int64           `json:"days"`
}

// boostElement extends a boost directly, without an invoice. Any positive
// period is allowed here; the paid path restricts periods to the priced
// ones.
func (d *Dispatcher) boostElement(ctx context.Context, call *Call) (any, error) {
	var p boostElementParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Days <= 0 {
		return nil, Errorf(CodeInvalidParams, "days must be positive")
	}
	el, err := d.resolveElement(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	el, err = moderation.BoostElement(ctx, d.store, el.ID, p.Days)
	if err != nil {
		return nil, err
	}
	return newElementView(el), nil
}

type addElementCommentParams struct {
	ID      json.RawMessage `json:"id"`
	Comment string          `json:"comment"`
}

func (d *Dispatcher) addElementComment(ctx context.Context, call *Call) (any, error) {
	var p addElementCommentParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Comment) == "" {
		return nil, Errorf(CodeInvalidParams, "missing comment")
	}
	el, err := d.resolveElement(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	c, err := d.store.InsertElementComment(ctx, el.ID, p.Comment)
	if err != nil {
		return nil, err
	}
	if _, err := moderation.RefreshCommentsCount(ctx, d.store, el.ID); err != nil {
		return nil, err
	}
	return newCommentView(c), nil
}
