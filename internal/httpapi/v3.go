package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// tombstoneV3 is the wire shape of any soft-deleted row in a v3 feed.
// Clients only need enough to evict their local copy.
type tombstoneV3 struct {
	ID        int64  `json:"id"`
	UpdatedAt string `json:"updated_at"`
	DeletedAt string `json:"deleted_at"`
}

func tombstone(id int64, updatedAt, deletedAt time.Time) tombstoneV3 {
	return tombstoneV3{
		ID:        id,
		UpdatedAt: model.FormatTime(updatedAt),
		DeletedAt: model.FormatTime(deletedAt),
	}
}

type elementV3 struct {
	ID           int64           `json:"id"`
	OverpassData json.RawMessage `json:"overpass_data"`
	Tags         model.Tags      `json:"tags"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

func newElementV3(e *model.Element) any {
	if e.Deleted() {
		return tombstone(e.ID, e.UpdatedAt, *e.DeletedAt)
	}
	return elementV3{
		ID:           e.ID,
		OverpassData: e.OverpassData,
		Tags:         e.Tags,
		CreatedAt:    model.FormatTime(e.CreatedAt),
		UpdatedAt:    model.FormatTime(e.UpdatedAt),
	}
}

type areaV3 struct {
	ID        int64      `json:"id"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

func newAreaV3(area *model.Area) any {
	if area.Deleted() {
		return tombstone(area.ID, area.UpdatedAt, *area.DeletedAt)
	}
	return areaV3{
		ID:        area.ID,
		Tags:      area.Tags,
		CreatedAt: model.FormatTime(area.CreatedAt),
		UpdatedAt: model.FormatTime(area.UpdatedAt),
	}
}

type areaElementV3 struct {
	ID        int64  `json:"id"`
	AreaID    int64  `json:"area_id"`
	ElementID int64  `json:"element_id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func newAreaElementV3(ae *model.AreaElement) any {
	if ae.Deleted() {
		return tombstone(ae.ID, ae.UpdatedAt, *ae.DeletedAt)
	}
	return areaElementV3{
		ID:        ae.ID,
		AreaID:    ae.AreaID,
		ElementID: ae.ElementID,
		CreatedAt: model.FormatTime(ae.CreatedAt),
		UpdatedAt: model.FormatTime(ae.UpdatedAt),
	}
}

type commentV3 struct {
	ID        int64  `json:"id"`
	ElementID int64  `json:"element_id"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func newCommentV3(c *model.ElementComment) any {
	if c.Deleted() {
		return tombstone(c.ID, c.UpdatedAt, *c.DeletedAt)
	}
	return commentV3{
		ID:        c.ID,
		ElementID: c.ElementID,
		Comment:   c.Comment,
		CreatedAt: model.FormatTime(c.CreatedAt),
		UpdatedAt: model.FormatTime(c.UpdatedAt),
	}
}

type issueV3 struct {
	ID        int64  `json:"id"`
	ElementID int64  `json:"element_id"`
	Code      string `json:"code"`
	Severity  int64  `json:"severity"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func newIssueV3(is *model.ElementIssue) any {
	if is.Deleted() {
		return tombstone(is.ID, is.UpdatedAt, *is.DeletedAt)
	}
	return issueV3{
		ID:        is.ID,
		ElementID: is.ElementID,
		Code:      is.Code,
		Severity:  is.Severity,
		CreatedAt: model.FormatTime(is.CreatedAt),
		UpdatedAt: model.FormatTime(is.UpdatedAt),
	}
}

type elementEventV3 struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	ElementID int64      `json:"element_id"`
	Type      string     `json:"type"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

func newElementEventV3(ev *model.ElementEvent) any {
	if ev.Deleted() {
		return tombstone(ev.ID, ev.UpdatedAt, *ev.DeletedAt)
	}
	return elementEventV3{
		ID:        ev.ID,
		UserID:    ev.UserID,
		ElementID: ev.ElementID,
		Type:      ev.Type,
		Tags:      ev.Tags,
		CreatedAt: model.FormatTime(ev.CreatedAt),
		UpdatedAt: model.FormatTime(ev.UpdatedAt),
	}
}

type reportV3 struct {
	ID        int64      `json:"id"`
	AreaID    int64      `json:"area_id"`
	Date      string     `json:"date"`
	Tags      model.Tags `json:"tags"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

func newReportV3(rep *model.Report) any {
	if rep.Deleted() {
		return tombstone(rep.ID, rep.UpdatedAt, *rep.DeletedAt)
	}
	return reportV3{
		ID:        rep.ID,
		AreaID:    rep.AreaID,
		Date:      rep.Date,
		Tags:      rep.Tags,
		CreatedAt: model.FormatTime(rep.CreatedAt),
		UpdatedAt: model.FormatTime(rep.UpdatedAt),
	}
}

type osmUserV3 struct {
	ID        int64           `json:"id"`
	OsmData   json.RawMessage `json:"osm_data"`
	Tags      model.Tags      `json:"tags"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func newOsmUserV3(u *model.OsmUser) any {
	if u.Deleted() {
		return tombstone(u.ID, u.UpdatedAt, *u.DeletedAt)
	}
	return osmUserV3{
		ID:        u.ID,
		OsmData:   u.OsmData,
		Tags:      u.Tags,
		CreatedAt: model.FormatTime(u.CreatedAt),
		UpdatedAt: model.FormatTime(u.UpdatedAt),
	}
}

// feedParams reads the updated_since and limit query parameters shared
// by every feed. A missing updated_since means the epoch, a missing
// limit falls back to the store default. Malformed values get a 400 and
// a false return.
func feedParams(w http.ResponseWriter, r *http.Request) (time.Time, int64, bool) {
	q := r.URL.Query()
	var since time.Time
	if raw := q.Get("updated_since"); raw != "" {
		t, err := model.ParseTime(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid updated_since")
			return time.Time{}, 0, false
		}
		since = t
	}
	var limit int64
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return time.Time{}, 0, false
		}
		limit = n
	}
	return since, limit, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (a *API) serverError(w http.ResponseWriter, r *http.Request, err error) {
	a.log.Error("request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeRow renders a single row lookup, translating NotFound to 404.
func (a *API) writeRow(w http.ResponseWriter, r *http.Request, row any, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) v3Elements(w http.ResponseWriter, r *http.Request) {
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
		items = append(items, newElementV3(e))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3ElementByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := a.store.SelectElementByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newElementV3(e), nil)
}

func (a *API) v3Areas(w http.ResponseWriter, r *http.Request) {
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
		items = append(items, newAreaV3(area))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3AreaByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	area, err := a.store.SelectAreaByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newAreaV3(area), nil)
}

func (a *API) v3AreaElements(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectAreaElementsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, ae := range rows {
		items = append(items, newAreaElementV3(ae))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3AreaElementByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ae, err := a.store.SelectAreaElementByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newAreaElementV3(ae), nil)
}

func (a *API) v3ElementComments(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectElementCommentsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, c := range rows {
		items = append(items, newCommentV3(c))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3ElementCommentByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := a.store.SelectElementCommentByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newCommentV3(c), nil)
}

func (a *API) v3ElementIssues(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectElementIssuesUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, is := range rows {
		items = append(items, newIssueV3(is))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3ElementIssueByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	is, err := a.store.SelectElementIssueByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newIssueV3(is), nil)
}

func (a *API) v3Events(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectElementEventsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, ev := range rows {
		items = append(items, newElementEventV3(ev))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3EventByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ev, err := a.store.SelectElementEventByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newElementEventV3(ev), nil)
}

func (a *API) v3Reports(w http.ResponseWriter, r *http.Request) {
	since, limit, ok := feedParams(w, r)
	if !ok {
		return
	}
	rows, err := a.store.SelectReportsUpdatedSince(r.Context(), since, limit)
	if err != nil {
		a.serverError(w, r, err)
		return
	}
	items := make([]any, 0, len(rows))
	for _, rep := range rows {
		items = append(items, newReportV3(rep))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3ReportByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rep, err := a.store.SelectReportByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newReportV3(rep), nil)
}

func (a *API) v3Users(w http.ResponseWriter, r *http.Request) {
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
		items = append(items, newOsmUserV3(u))
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) v3UserByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	u, err := a.store.SelectOsmUserByID(r.Context(), id)
	if err != nil {
		a.writeRow(w, r, nil, err)
		return
	}
	a.writeRow(w, r, newOsmUserV3(u), nil)
}
