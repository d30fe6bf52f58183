package geo

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sort"

	"github.com/paulmach/orb"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// Result counts one mapping run.
type Result struct {
	Elements int // live elements examined
	Changed  int // elements whose memberships moved
}

// Engine recomputes area membership for every live element.
type Engine struct {
	store *store.Store
	log   *slog.Logger
}

func New(s *store.Store, log *slog.Logger) *Engine {
	return &Engine{store: s, log: log}
}

type boundary struct {
	area  *model.Area
	geoms []orb.Geometry
}

// Run diffs each live element's memberships against the current area
// boundaries. Removed memberships are tombstoned, new ones inserted, and
// the element's areas tag rewritten when the set moved. The earth sentinel
// never participates.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	areas, err := e.store.SelectLiveAreas(ctx)
	if err != nil {
		return nil, err
	}
	var boundaries []boundary
	for _, a := range areas {
		if a.Alias() == model.EarthAlias {
			continue
		}
		geoms, err := AreaGeometries(a)
		if err != nil {
			e.log.Warn("skipping area with broken boundary", "area", a.ID, "error", err)
			continue
		}
		if len(geoms) == 0 {
			continue
		}
		boundaries = append(boundaries, boundary{area: a, geoms: geoms})
	}

	elements, err := e.store.SelectLiveElements(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, el := range elements {
		changed, err := e.remap(ctx, el, boundaries)
		if err != nil {
			return nil, err
		}
		res.Elements++
		if changed {
			res.Changed++
		}
	}

	e.log.Info("area mapping finished", "elements", res.Elements, "changed", res.Changed)
	return res, nil
}

// remap reconciles one element. Returns whether any membership moved.
func (e *Engine) remap(ctx context.Context, el *model.Element, boundaries []boundary) (bool, error) {
	lat, lon := el.Coords()
	p := orb.Point{lon, lat}

	inside := make(map[int64]*model.Area)
	for _, b := range boundaries {
		for _, g := range b.geoms {
			if Contains(g, p) {
				inside[b.area.ID] = b.area
				break
			}
		}
	}

	changed := false
	err := e.store.WithTx(ctx, func(tx *store.Tx) error {
		rows, err := tx.SelectAreaElementsByElement(ctx, el.ID)
		if err != nil {
			return err
		}
		current := make(map[int64]*model.AreaElement)
		for _, row := range rows {
			if !row.Deleted() {
				current[row.AreaID] = row
			}
		}

		for areaID, row := range current {
			if _, keep := inside[areaID]; keep {
				continue
			}
			now := model.Now()
			if _, err := tx.SetAreaElementDeletedAt(ctx, row.ID, &now); err != nil {
				return err
			}
			changed = true
		}
		for areaID := range inside {
			if _, have := current[areaID]; have {
				continue
			}
			if _, err := tx.InsertAreaElement(ctx, areaID, el.ID); err != nil {
				return err
			}
			changed = true
		}

		return e.refreshAreasTag(ctx, tx, el, inside)
	})
	return changed, err
}

// refreshAreasTag rewrites the element's areas reverse-index tag, but only
// when the value actually moved, so untouched elements stay out of the feed.
func (e *Engine) refreshAreasTag(ctx context.Context, tx *store.Tx, el *model.Element, inside map[int64]*model.Area) error {
	ids := make([]int64, 0, len(inside))
	for id := range inside {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, map[string]any{
			"id":        float64(id),
			"url_alias": inside[id].Alias(),
		})
	}

	if len(entries) == 0 {
		if !el.Tags.Has("areas") {
			return nil
		}
		_, err := tx.PatchElementTags(ctx, el.ID, model.Tags{"areas": nil})
		return err
	}
	if cur, ok := el.Tags["areas"]; ok && sameValue(cur, entries) {
		return nil
	}
	_, err := tx.PatchElementTags(ctx, el.ID, model.Tags{"areas": entries})
	return err
}

// sameValue compares two tag values through a JSON round trip, which
// normalizes numeric types from the database decode.
func sameValue(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var av, bv any
	if err := json.Unmarshal(ab, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(bb, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
