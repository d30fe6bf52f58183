package rpc

import (
	"context"
	"encoding/json"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

type areaRefParams struct {
	ID json.RawMessage `json:"id"`
}

func (d *Dispatcher) getArea(ctx context.Context, call *Call) (any, error) {
	var p areaRefParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	a, err := d.resolveArea(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return newAreaView(a), nil
}

type setAreaTagParams struct {
	ID    json.RawMessage `json:"id"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (d *Dispatcher) setAreaTag(ctx context.Context, call *Call) (any, error) {
	var p setAreaTagParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing tag name")
	}
	if len(p.Value) == 0 {
		return nil, Errorf(CodeInvalidParams, "missing tag value")
	}
	a, err := d.resolveArea(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	var value any
	if err := json.Unmarshal(p.Value, &value); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid tag value: %v", err)
	}
	if p.Name == "geo_json" && value != nil {
		if err := checkBoundary(value); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid geo_json: %v", err)
		}
	}
	a, err = d.store.SetAreaTag(ctx, a.ID, p.Name, value)
	if err != nil {
		return nil, err
	}
	return newAreaView(a), nil
}

type removeAreaTagParams struct {
	ID   json.RawMessage `json:"id"`
	Name string          `json:"name"`
}

func (d *Dispatcher) removeAreaTag(ctx context.Context, call *Call) (any, error) {
	var p removeAreaTagParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, Errorf(CodeInvalidParams, "missing tag name")
	}
	if p.Name == "url_alias" {
		return nil, Errorf(CodeInvalidParams, "url_alias cannot be removed")
	}
	a, err := d.resolveArea(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	a, err = d.store.RemoveAreaTag(ctx, a.ID, p.Name)
	if err != nil {
		return nil, err
	}
	return newAreaView(a), nil
}

type addAreaParams struct {
	Tags model.Tags `json:"tags"`
}

func (d *Dispatcher) addArea(ctx context.Context, call *Call) (any, error) {
	var p addAreaParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	alias := p.Tags.GetString("url_alias")
	if alias == "" {
		return nil, Errorf(CodeInvalidParams, "missing url_alias tag")
	}
	if p.Tags.GetString("name") == "" {
		return nil, Errorf(CodeInvalidParams, "missing name tag")
	}
	if v, ok := p.Tags["geo_json"]; ok {
		if err := checkBoundary(v); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid geo_json: %v", err)
		}
	}
	a, err := d.store.InsertArea(ctx, p.Tags)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, Errorf(CodeInvalidParams, "url_alias %q is taken", alias)
		}
		return nil, err
	}
	return newAreaView(a), nil
}

// removeArea tombstones the area. Its area_element rows and the areas tag
// on member elements stay behind until the next mapping run reconciles
// them.
func (d *Dispatcher) removeArea(ctx context.Context, call *Call) (any, error) {
	var p areaRefParams
	if err := call.bind(&p); err != nil {
		return nil, err
	}
	a, err := d.resolveArea(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	now := model.Now()
	a, err = d.store.SetAreaDeletedAt(ctx, a.ID, &now)
	if err != nil {
		return nil, err
	}
	return newAreaView(a), nil
}

// checkBoundary rejects tag values the mapping engine could not parse.
func checkBoundary(value any) error {
	probe := &model.Area{Tags: model.Tags{"geo_json": value}}
	_, err := geo.AreaGeometries(probe)
	return err
}
