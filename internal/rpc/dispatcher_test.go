package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/untoldecay/btcmap/internal/geo"
	"github.com/untoldecay/btcmap/internal/issue"
	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/report"
	"github.com/untoldecay/btcmap/internal/store"
)

const testIP = "203.0.113.7"

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Fatalf("failed to close test store: %v", err)
		}
	})
	log := logging.Discard()
	d := NewDispatcher(s, log, Deps{
		Geo:    geo.New(s, log),
		Issue:  issue.New(s, log),
		Report: report.New(s, log),
	})
	return d, s
}

// dispatch builds the envelope around method and params and runs it.
func dispatch(t *testing.T, d *Dispatcher, bearer, method, params string) *Response {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":%q`, method)
	if params != "" {
		body += `,"params":` + params
	}
	body += "}"
	return d.Dispatch(context.Background(), testIP, bearer, []byte(body))
}

func wantError(t *testing.T, resp *Response, code int) {
	t.Helper()
	if resp.Error == nil {
		t.Fatalf("got result %+v, want error code %d", resp.Result, code)
	}
	if resp.Error.Code != code {
		t.Fatalf("got error %d %q, want code %d", resp.Error.Code, resp.Error.Message, code)
	}
}

func wantResult(t *testing.T, resp *Response) {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("got error %d %q, want result", resp.Error.Code, resp.Error.Message)
	}
}

// mintToken creates a user and a live token carrying the given grants.
func mintToken(t *testing.T, s *store.Store, name string, roles, methods []string) string {
	t.Helper()
	ctx := context.Background()
	u, err := s.InsertUser(ctx, name, "not-a-real-hash", roles)
	if err != nil {
		t.Fatalf("InsertUser failed: %v", err)
	}
	secret := name + "-secret"
	if _, err := s.InsertAccessToken(ctx, u.ID, "test", secret, methods); err != nil {
		t.Fatalf("InsertAccessToken failed: %v", err)
	}
	return secret
}

func insertElement(t *testing.T, s *store.Store, osmID int64, name string) *model.Element {
	t.Helper()
	raw := fmt.Sprintf(`{"type":"node","id":%d,"lat":13.75,"lon":100.5,"tags":{"name":%q}}`, osmID, name)
	el, err := s.InsertElement(context.Background(), json.RawMessage(raw))
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}
	return el
}

func TestDispatchEnvelope(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ctx := context.Background()

	resp := d.Dispatch(ctx, testIP, "", []byte("{not json"))
	wantError(t, resp, CodeParse)

	resp = d.Dispatch(ctx, testIP, "", []byte(`{"jsonrpc":"1.0","id":1,"method":"search"}`))
	wantError(t, resp, CodeInvalidRequest)

	resp = d.Dispatch(ctx, testIP, "", []byte(`{"jsonrpc":"2.0","id":1}`))
	wantError(t, resp, CodeInvalidRequest)

	resp = d.Dispatch(ctx, testIP, "", []byte(`{"jsonrpc":"2.0","id":7,"method":"no_such_method"}`))
	wantError(t, resp, CodeMethodNotFound)
	if string(resp.ID) != "7" {
		t.Fatalf("response id = %s, want 7", resp.ID)
	}
	if resp.JSONRPC != Version {
		t.Fatalf("response version = %q, want %q", resp.JSONRPC, Version)
	}
}

func TestDispatchAuth(t *testing.T) {
	d, s := newTestDispatcher(t)
	insertElement(t, s, 1, "Satoshi Coffee")
	admin := mintToken(t, s, "admin", []string{model.RoleAdmin}, RoleMethods(model.RoleAdmin))

	// Gated methods refuse anonymous and unknown bearers.
	resp := dispatch(t, d, "", MethodSetElementTag, `{"id":1,"name":"verified","value":true}`)
	wantError(t, resp, CodeUnauthorized)
	resp = dispatch(t, d, "stale-secret", MethodSetElementTag, `{"id":1,"name":"verified","value":true}`)
	wantError(t, resp, CodeUnauthorized)

	// A live token without the grant is forbidden.
	events := mintToken(t, s, "em", []string{model.RoleEventManager}, RoleMethods(model.RoleEventManager))
	resp = dispatch(t, d, events, MethodSetElementTag, `{"id":1,"name":"verified","value":true}`)
	wantError(t, resp, CodeForbidden)

	// The admin grant passes, as does the wildcard.
	resp = dispatch(t, d, admin, MethodSetElementTag, `{"id":1,"name":"verified","value":true}`)
	wantResult(t, resp)
	root := mintToken(t, s, "root", []string{model.RoleRoot}, []string{model.MethodWildcard})
	resp = dispatch(t, d, root, MethodRemoveElementTag, `{"id":1,"name":"verified"}`)
	wantResult(t, resp)

	// Public methods accept anonymous callers and ignore stale bearers.
	resp = dispatch(t, d, "", MethodGetElement, `{"id":1}`)
	wantResult(t, resp)
	resp = dispatch(t, d, "stale-secret", MethodGetElement, `{"id":1}`)
	wantResult(t, resp)
}

func TestDispatchAudit(t *testing.T) {
	d, s := newTestDispatcher(t)
	ctx := context.Background()
	insertElement(t, s, 1, "Satoshi Coffee")
	admin := mintToken(t, s, "admin", []string{model.RoleAdmin}, RoleMethods(model.RoleAdmin))

	// Row 1: attributed success.
	resp := dispatch(t, d, admin, MethodSearch, `{"query":"satoshi"}`)
	wantResult(t, resp)
	call, err := s.SelectRpcCallByID(ctx, 1)
	if err != nil {
		t.Fatalf("SelectRpcCallByID failed: %v", err)
	}
	if call.Method != MethodSearch || call.IP != testIP {
		t.Fatalf("audit row = %q from %q, want %q from %q", call.Method, call.IP, MethodSearch, testIP)
	}
	if call.UserID == nil {
		t.Fatal("audit row has no user attribution")
	}
	if call.ProcessedAt == nil {
		t.Fatal("successful call left processed_at unset")
	}

	// Row 2: anonymous call that fails in the handler keeps processed_at
	// open.
	resp = dispatch(t, d, "", MethodGetElement, `{"id":999}`)
	wantError(t, resp, CodeNotFound)
	call, err = s.SelectRpcCallByID(ctx, 2)
	if err != nil {
		t.Fatalf("SelectRpcCallByID failed: %v", err)
	}
	if call.UserID != nil {
		t.Fatalf("anonymous call attributed to user %d", *call.UserID)
	}
	if call.ProcessedAt != nil {
		t.Fatal("failed call marked processed")
	}

	// Rejected calls never reach the audit table.
	resp = dispatch(t, d, "", MethodSetElementTag, `{"id":1,"name":"a","value":1}`)
	wantError(t, resp, CodeUnauthorized)
	if _, err := s.SelectRpcCallByID(ctx, 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unauthorized call was audited: %v", err)
	}
}

func TestRoleMethods(t *testing.T) {
	if got := RoleMethods(model.RoleRoot); len(got) != 1 || got[0] != model.MethodWildcard {
		t.Fatalf("root grant = %v, want wildcard only", got)
	}
	if got := RoleMethods(model.RoleUser); got != nil {
		t.Fatalf("user grant = %v, want none", got)
	}
	for _, m := range RoleMethods(model.RoleAdmin) {
		if m == model.MethodWildcard {
			t.Fatal("admin grant contains the wildcard")
		}
	}

	got := allowedMethodsFor([]string{model.RoleAdmin, model.RoleEventManager, model.RoleAdmin})
	want := len(RoleMethods(model.RoleAdmin)) + len(RoleMethods(model.RoleEventManager))
	if len(got) != want {
		t.Fatalf("union has %d methods, want %d", len(got), want)
	}
	if got := allowedMethodsFor([]string{model.RoleAdmin, model.RoleRoot}); len(got) != 1 || got[0] != model.MethodWildcard {
		t.Fatalf("root union = %v, want wildcard only", got)
	}
}
