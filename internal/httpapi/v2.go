package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/untoldecay/btcmap/internal/model"
)

// The v2 endpoints predate numeric row ids and are wire frozen: elements
// are keyed by "type:osmid", areas by url_alias, the upstream snapshot
// field is called osm_json, and deleted_at is an empty string on live
// rows instead of being omitted. Only the collections legacy clients
// consume are served here; area-elements, element-comments, and
// element-issues exist in v3 only.

type tombstoneV2 struct {
	ID        string `json:"id"`
	UpdatedAt string `json:"updated_at"`
	DeletedAt string `json:"deleted_at"`
}

type elementV2 struct {
	ID        string          `json:"id"`
	OsmJSON   json.RawMessage `json:"osm_json"`
	Tags      model.Tags      `json:"tags"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	DeletedAt string          `json:"deleted_at"`
}

func newElementV2(e *model.Element) any {
	if e.Deleted() {
		return tombstoneV2{
			ID:        e.OsmKey().String(),
			UpdatedAt: model.FormatTime(e.UpdatedAt),
			DeletedAt: model.FormatTime(*e.DeletedAt),
		}
	}
	return elementV2{
		ID:        e.OsmKey().String(),
		OsmJSON:   e.OverpassData,
		Tags:      e.Tags,
		CreatedAt: model.FormatTime(e.CreatedAt),
		UpdatedAt: model.FormatTime(e.UpdatedAt),
		DeletedAt: "",
	}
}

type areaV2 struct {
	ID        string     `json:"id"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	DeletedAt string     `json:"deleted_at"`
}

func newAreaV2(area *model.Area) any {
	if area.Deleted() {
		return tombstoneV2{
			ID:        area.Alias(),
			UpdatedAt: model.FormatTime(area.UpdatedAt),
			DeletedAt: model.FormatTime(*area.DeletedAt),
		}
	}
	return areaV2{
		ID:        area.Alias(),
		Tags:      area.Tags,
		CreatedAt: model.FormatTime(area.CreatedAt),
		UpdatedAt: model.FormatTime(area.UpdatedAt),
		DeletedAt: "",
	}
}

type eventV2 struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	ElementID string `json:"element_id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
	DeletedAt string `json:"deleted_at"`
}

type reportV2 struct {
	ID        int64      `json:"id"`
	AreaID    string     `json:"area_id"`
	Date      string     `json:"date"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
	DeletedAt string     `json:"deleted_at"`
}

type userV2 struct {
	ID        int64           `json:"id"`
	OsmJSON   json.RawMessage `json:"osm_json"`
	Tags      model.Tags      `json:"tags"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
	DeletedAt string          `json:"deleted_at"`
}

func newUserV2(u *model.OsmUser) any {
	if u.Deleted() {
		return tombstone(u.ID, u.UpdatedAt, *u.DeletedAt)
	}
	return userV2{
		ID:        u.ID,
		OsmJSON:   u.OsmData,
		Tags:      u.Tags,
		CreatedAt: model.FormatTime(u.CreatedAt),
		UpdatedAt: model.FormatTime(u.UpdatedAt),
		DeletedAt: "",
	}
}

func (a *API) v2Elements(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectElementsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, e := range rows {
		items = append(items, newElementV2(e))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v2ElementByID(w http.ResponseWriter, r *http.Request) {
	key, err := model.ParseOsmKey(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid element id")
		return
	}
	e, err := a.store.SelectElementByOsmKey(r.Context(), key)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newElementV2(e), nil)
}

func (a *API) v2Areas(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectAreasUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, area := range rows {
		items = append(items, newAreaV2(area))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v2AreaByID(w http.ResponseWriter, r *http.Request) {
	area, err := a.store.SelectAreaByAlias(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newAreaV2(area), nil)
}

// osmKeyCache memoizes element id to osm key lookups within one request
// so a page of events touching the same element costs one query.
type osmKeyCache map[int64]string

func (a *API) osmKeyFor(ctx context.Context, cache osmKeyCache, elementID int64) string {
	if key, ok := cache[elementID]; ok {
		return key
	}
	key := ""
	if e, err := a.store.SelectElementByID(ctx, elementID); err == nil {
		key = e.OsmKey().String()
	}
	cache[elementID] = key
	return key
}

func (a *API) v2Events(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectElementEventsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	cache := osmKeyCache{}
	items := make([]any, 0, len(rows))
	for _, ev := range rows {
		if ev.Deleted() {
			items = append(items, tombstone(ev.ID, ev.UpdatedAt, *ev.DeletedAt))
			continue
		}
		items = append(items, eventV2{
			ID:        ev.ID,
			UserID:    ev.UserID,
			ElementID: a.osmKeyFor(r.Context(), cache, ev.ElementID),
			Type:      ev.Type,
			CreatedAt: model.FormatTime(ev.CreatedAt),
			UpdatedAt: model.FormatTime(ev.UpdatedAt),
			DeletedAt: "",
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v2Reports(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectReportsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	aliases := map[int64]string{}
	items := make([]any, 0, len(rows))
	for _, rep := range rows {
		if rep.Deleted() {
			items = append(items, tombstone(rep.ID, rep.UpdatedAt, *rep.DeletedAt))
			continue
		}
		alias, ok := aliases[rep.AreaID]
		if !ok {
			if area, err := a.store.SelectAreaByID(r.Context(), rep.AreaID); err == nil {
				alias = area.Alias()
			}
			aliases[rep.AreaID] = alias
		}
		items = append(items, reportV2{
			ID:        rep.ID,
			AreaID:    alias,
			Date:      rep.Date,
			Tags:      rep.Tags,
			CreatedAt: model.FormatTime(rep.CreatedAt),
			UpdatedAt: model.FormatTime(rep.UpdatedAt),
			DeletedAt: "",
		})
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v2Users(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectOsmUsersUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, u := range rows {
		items = append(items, newUserV2(u))
	}
	writeJSON(w, http.StatusOK, items)
}
