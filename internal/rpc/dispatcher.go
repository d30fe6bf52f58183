package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/gitea"
	"github.com/untoldecay/btcmap/internal/invoice"
	"github.com/untoldecay/btcmap/internal/issue"
	"github.com/untoldecay/btcmap/internal/merge"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/osmuser"
	"github.com/untoldecay/btcmap/internal/overpass"
	"github.com/untoldecay/btcmap/internal/report"
	"github.com/untoldecay/btcmap/internal/store"
)

// Deps are the engines the handlers drive. A nil engine disables the
// methods that need it; data-only methods work with the store alone.
type Deps struct {
	Overpass *overpass.Client
	Merge    *merge.Engine
	Geo      *geo.Engine
	Issue    *issue.Engine
	Report   *report.Engine
	Invoice  *invoice.Engine
	OsmUsers *osmuser.Engine
	Gitea    *gitea.Engine
}

// Call carries one authorized invocation into a handler. Token is nil for
// anonymous calls to public methods.
type Call struct {
	Token *model.AccessToken
	IP    string

	params json.RawMessage
}

func (c *Call) bind(v any) error {
	if len(c.params) == 0 {
		return Errorf(CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(c.params, v); err != nil {
		return Errorf(CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

type handlerFunc func(ctx context.Context, call *Call) (any, error)

type method struct {
	public  bool
	handler handlerFunc
}

// Dispatcher authorizes, audits and routes RPC calls.
type Dispatcher struct {
	store   *store.Store
	log     *slog.Logger
	deps    Deps
	methods map[string]method
}

func NewDispatcher(s *store.Store, log *slog.Logger, deps Deps) *Dispatcher {
	d := &Dispatcher{store: s, log: log, deps: deps}
	d.methods = map[string]method{
		MethodGetElement:               {public: true, handler: d.getElement},
		MethodGetArea:                  {public: true, handler: d.getArea},
		MethodSearch:                   {public: true, handler: d.search},
		MethodCreateInvoice:            {public: true, handler: d.createInvoice},
		MethodGetInvoice:               {public: true, handler: d.getInvoice},
		MethodPaywallAddElementComment: {public: true, handler: d.paywallAddElementComment},
		MethodPaywallBoostElement:      {public: true, handler: d.paywallBoostElement},

		MethodSetElementTag:     {handler: d.setElementTag},
		MethodRemoveElementTag:  {handler: d.removeElementTag},
		MethodBoostElement:      {handler: d.boostElement},
		MethodAddElementComment: {handler: d.addElementComment},
		MethodSetAreaTag:        {handler: d.setAreaTag},
		MethodRemoveAreaTag:     {handler: d.removeAreaTag},
		MethodAddArea:           {handler: d.addArea},
		MethodRemoveArea:        {handler: d.removeArea},

		MethodAddAdmin:          {handler: d.addAdmin},
		MethodAddAdminAction:    {handler: d.addAdminAction},
		MethodRemoveAdminAction: {handler: d.removeAdminAction},

		MethodGenerateReports:              {handler: d.generateReports},
		MethodGenerateElementIssues:        {handler: d.generateElementIssues},
		MethodGenerateAreasElementsMapping: {handler: d.generateAreasElementsMapping},
		MethodSyncElements:                 {handler: d.syncElements},
		MethodSyncUnpaidInvoices:           {handler: d.syncUnpaidInvoices},
		MethodSyncUsers:                    {handler: d.syncUsers},

		MethodAddEvent:    {handler: d.addEvent},
		MethodDeleteEvent: {handler: d.deleteEvent},

		MethodSubmitPlace:          {handler: d.submitPlace},
		MethodRevokeSubmittedPlace: {handler: d.revokeSubmittedPlace},
		MethodGetSubmittedPlace:    {handler: d.getSubmittedPlace},
		MethodSyncSubmittedPlaces:  {handler: d.syncSubmittedPlaces},
	}
	return d
}

// RoleMethods returns the method grant for a role. Tokens minted by
// add_admin start with the union of grants over the user's roles.
func RoleMethods(role string) []string {
	switch role {
	case model.RoleRoot:
		return []string{model.MethodWildcard}
	case model.RoleAdmin:
		return []string{
			MethodSetElementTag, MethodRemoveElementTag, MethodBoostElement,
			MethodAddElementComment, MethodSetAreaTag, MethodRemoveAreaTag,
			MethodAddArea, MethodRemoveArea,
		}
	case model.RolePlacesSource:
		return []string{
			MethodSubmitPlace, MethodRevokeSubmittedPlace,
			MethodGetSubmittedPlace, MethodSyncSubmittedPlaces,
		}
	case model.RoleEventManager:
		return []string{MethodAddEvent, MethodDeleteEvent}
	}
	return nil
}

// MethodsForRoles unions the default grants of several roles, collapsing
// to the wildcard when any role carries it.
func MethodsForRoles(roles []string) []string {
	return allowedMethodsFor(roles)
}

// Dispatch runs one raw request end to end and always returns a reply
// envelope. bearer is the presented token secret, empty for anonymous
// calls. Every authorized call is recorded in the rpc_call audit table
// before its handler runs; processed_at and duration are filled on
// success.
func (d *Dispatcher) Dispatch(ctx context.Context, ip, bearer string, body []byte) *Response {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return &Response{JSONRPC: Version, Error: Errorf(CodeParse, "parse error")}
	}
	resp := &Response{JSONRPC: Version, ID: req.ID}
	if req.JSONRPC != Version || req.Method == "" {
		resp.Error = Errorf(CodeInvalidRequest, "invalid request")
		return resp
	}
	m, ok := d.methods[req.Method]
	if !ok {
		resp.Error = Errorf(CodeMethodNotFound, "unknown method %q", req.Method)
		return resp
	}
	token, rpcErr := d.authorize(ctx, req.Method, m, bearer)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}

	var userID *int64
	if token != nil {
		userID = &token.UserID
	}
	audit, err := d.store.InsertRpcCall(ctx, req.Method, req.Params, userID, ip)
	if err != nil {
		d.log.Error("failed to record rpc call", "method", req.Method, "error", err)
		resp.Error = Errorf(CodeInternal, "internal error")
		return resp
	}

	start := time.Now()
	result, err := m.handler(ctx, &Call{Token: token, IP: ip, params: req.Params})
	if err != nil {
		resp.Error = d.handlerError(req.Method, err)
		return resp
	}
	if err := d.store.FinishRpcCall(ctx, audit.ID, time.Since(start)); err != nil {
		d.log.Warn("failed to close rpc call record", "id", audit.ID, "error", err)
	}
	resp.Result = result
	return resp
}

// authorize resolves the bearer token and checks the method grant. Public
// methods accept anonymous callers; a valid token on a public method is
// still resolved so the audit row carries the user.
func (d *Dispatcher) authorize(ctx context.Context, name string, m method, bearer string) (*model.AccessToken, *Error) {
	if bearer == "" {
		if m.public {
			return nil, nil
		}
		return nil, Errorf(CodeUnauthorized, "unauthorized")
	}
	token, err := d.store.SelectAccessTokenBySecret(ctx, bearer)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if m.public {
				return nil, nil
			}
			return nil, Errorf(CodeUnauthorized, "unauthorized")
		}
		d.log.Error("failed to resolve access token", "error", err)
		return nil, Errorf(CodeInternal, "internal error")
	}
	if !m.public && !token.Allows(name) {
		return nil, Errorf(CodeForbidden, "forbidden")
	}
	return token, nil
}

func (d *Dispatcher) handlerError(name string, err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return Errorf(CodeNotFound, "not found")
	case errors.Is(err, invoice.ErrUnsupportedPeriod):
		return Errorf(CodeInvalidParams, "%v", err)
	case errors.Is(err, invoice.ErrNoProvider):
		return Errorf(CodeInternal, "no lightning backend configured")
	}
	d.log.Error("rpc handler failed", "method", name, "error", err)
	return Errorf(CodeInternal, "internal error")
}

// resolveElement accepts the internal row id, either as a JSON number or a
// numeric string, or the legacy "type:osmid" form.
func (d *Dispatcher) resolveElement(ctx context.Context, ref json.RawMessage) (*model.Element, error) {
	if len(ref) == 0 {
		return nil, Errorf(CodeInvalidParams, "missing element id")
	}
	var num int64
	if err := json.Unmarshal(ref, &num); err == nil {
		return d.store.SelectElementByID(ctx, num)
	}
	var s string
	if err := json.Unmarshal(ref, &s); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid element id")
	}
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		return d.store.SelectElementByID(ctx, num)
	}
	key, err := model.ParseOsmKey(s)
	if err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid element id %q", s)
	}
	return d.store.SelectElementByOsmKey(ctx, key)
}

// resolveArea accepts the internal row id, either as a JSON number or a
// numeric string, or a url_alias.
func (d *Dispatcher) resolveArea(ctx context.Context, ref json.RawMessage) (*model.Area, error) {
	if len(ref) == 0 {
		return nil, Errorf(CodeInvalidParams, "missing area id")
	}
	var num int64
	if err := json.Unmarshal(ref, &num); err == nil {
		return d.store.SelectAreaByID(ctx, num)
	}
	var s string
	if err := json.Unmarshal(ref, &s); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid area id")
	}
	if num, err := strconv.ParseInt(s, 10, 64); err == nil {
		return d.store.SelectAreaByID(ctx, num)
	}
	return d.store.SelectAreaByAlias(ctx, s)
}
