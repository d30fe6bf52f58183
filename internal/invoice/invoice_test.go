package invoice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

// fakeLnbits mimics the two lnbits endpoints the client uses.
type fakeLnbits struct {
	apiKey string

	mu         sync.Mutex
	paid       map[string]bool
	created    int
	lastMemo   string
	lastAmount int64
}

func (f *fakeLnbits) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != f.apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/payments":
			var body struct {
				Out    bool   `json:"out"`
				Amount int64  `json:"amount"`
				Memo   string `json:"memo"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Out {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.created++
			hash := fmt.Sprintf("hash-%d", f.created)
			f.paid[hash] = false
			f.lastMemo = body.Memo
			f.lastAmount = body.Amount
			f.mu.Unlock()
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"payment_hash":    hash,
				"payment_request": "lnbc-" + hash,
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/payments/"):
			hash := strings.TrimPrefix(r.URL.Path, "/api/v1/payments/")
			f.mu.Lock()
			paid, ok := f.paid[hash]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]bool{"paid": paid})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func (f *fakeLnbits) settle(hash string) {
	f.mu.Lock()
	f.paid[hash] = true
	f.mu.Unlock()
}

func (f *fakeLnbits) lastCreate() (memo string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastMemo, f.lastAmount
}

func newTestEngine(t *testing.T) (*Engine, *fakeLnbits, *store.Store) {
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
	fake := &fakeLnbits{apiKey: "invoice-key", paid: map[string]bool{}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	if err := s.SetConf(context.Background(), store.ConfLnbitsInvoiceKey, "invoice-key"); err != nil {
		t.Fatalf("SetConf failed: %v", err)
	}
	return New(s, logging.Discard(), srv.URL, ""), fake, s
}

func insertElement(t *testing.T, s *store.Store) *model.Element {
	t.Helper()
	el, err := s.InsertElement(context.Background(), json.RawMessage(
		`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"name":"Shop"}}`))
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}
	return el
}

func TestParseDescription(t *testing.T) {
	tests := []struct {
		in   string
		want Action
	}{
		{"element_comment:42:publish", Action{Kind: ActionPublishComment, CommentID: 42}},
		{"element_boost:7:30", Action{Kind: ActionBoostElement, ElementID: 7, Days: 30}},
		{"element_comment:42:delete", Action{Kind: ActionUnknown}},
		{"element_comment:x:publish", Action{Kind: ActionUnknown}},
		{"element_boost:7:0", Action{Kind: ActionUnknown}},
		{"element_boost:0:30", Action{Kind: ActionUnknown}},
		{"element_boost:7:30:extra", Action{Kind: ActionUnknown}},
		{"donation", Action{Kind: ActionUnknown}},
		{"", Action{Kind: ActionUnknown}},
	}
	for _, tt := range tests {
		if got := ParseDescription(tt.in); got != tt.want {
			t.Errorf("ParseDescription(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestCommentPaywallRoundTrip(t *testing.T) {
	e, fake, s := newTestEngine(t)
	ctx := context.Background()
	el := insertElement(t, s)

	if err := s.SetConf(ctx, store.ConfCommentPriceSat, "21"); err != nil {
		t.Fatalf("SetConf failed: %v", err)
	}
	inv, err := e.CreateComment(ctx, el.ID, "great coffee, paid with sats")
	if err != nil {
		t.Fatalf("CreateComment failed: %v", err)
	}
	if inv.Status != model.InvoiceUnpaid {
		t.Fatalf("new invoice status = %q, want unpaid", inv.Status)
	}
	if inv.AmountSats != 21 {
		t.Errorf("invoice amount = %d, want the configured 21", inv.AmountSats)
	}
	if inv.Source != model.InvoiceSourceLnbits {
		t.Errorf("invoice source = %q, want lnbits", inv.Source)
	}
	memo, amount := fake.lastCreate()
	if memo != inv.Description {
		t.Errorf("backend memo = %q, want %q", memo, inv.Description)
	}
	if amount != 21 {
		t.Errorf("backend amount = %d, want 21", amount)
	}
	action := ParseDescription(inv.Description)
	if action.Kind != ActionPublishComment {
		t.Fatalf("description %q did not parse as a comment publication", inv.Description)
	}

	// The comment exists but stays invisible until the invoice settles.
	pending, err := s.SelectElementCommentByID(ctx, action.CommentID)
	if err != nil {
		t.Fatalf("SelectElementCommentByID failed: %v", err)
	}
	if !pending.Deleted() {
		t.Fatal("pending comment is already published")
	}
	if n, _ := s.CountLiveElementComments(ctx, el.ID); n != 0 {
		t.Fatalf("live comments before payment = %d, want 0", n)
	}

	// Unpaid: polling changes nothing.
	settled, err := e.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if settled != 0 {
		t.Fatalf("Poll settled %d unpaid invoices", settled)
	}

	fake.settle(inv.PaymentHash)
	settled, err = e.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if settled != 1 {
		t.Fatalf("Poll settled %d invoices, want 1", settled)
	}

	paid, err := s.SelectInvoiceByUUID(ctx, inv.UUID)
	if err != nil {
		t.Fatalf("SelectInvoiceByUUID failed: %v", err)
	}
	if paid.Status != model.InvoicePaid {
		t.Errorf("invoice status after settle = %q, want paid", paid.Status)
	}
	published, err := s.SelectElementCommentByID(ctx, action.CommentID)
	if err != nil {
		t.Fatalf("SelectElementCommentByID failed: %v", err)
	}
	if published.Deleted() {
		t.Error("comment still tombstoned after payment")
	}
	got, err := s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}
	if n := got.Tags.GetInt64("comments"); n != 1 {
		t.Errorf("comments tag = %d, want 1", n)
	}

	// Settling is terminal: another poll does nothing.
	settled, err = e.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if settled != 0 {
		t.Fatalf("second Poll settled %d invoices, want 0", settled)
	}
}

func TestBoostPaywallRoundTrip(t *testing.T) {
	e, fake, s := newTestEngine(t)
	ctx := context.Background()
	el := insertElement(t, s)

	inv, err := e.CreateBoost(ctx, el.ID, 30)
	if err != nil {
		t.Fatalf("CreateBoost failed: %v", err)
	}
	if inv.AmountSats != DefaultBoost30dPriceSat {
		t.Errorf("invoice amount = %d, want default %d", inv.AmountSats, DefaultBoost30dPriceSat)
	}
	if inv.Description != fmt.Sprintf("element_boost:%d:30", el.ID) {
		t.Errorf("unexpected description %q", inv.Description)
	}

	fake.settle(inv.PaymentHash)
	if _, err := e.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	got, err := s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}
	expiry, err := time.Parse(time.RFC3339, got.Tags.GetString("boost:expires"))
	if err != nil {
		t.Fatalf("boost:expires %q is not RFC 3339: %v", got.Tags.GetString("boost:expires"), err)
	}
	want := time.Now().AddDate(0, 0, 30)
	if d := expiry.Sub(want); d < -time.Minute || d > time.Minute {
		t.Errorf("boost expiry = %v, want about %v", expiry, want)
	}
}

func TestCreateBoostRejectsUnknownPeriod(t *testing.T) {
	e, _, s := newTestEngine(t)
	el := insertElement(t, s)

	_, err := e.CreateBoost(context.Background(), el.ID, 45)
	if !errors.Is(err, ErrUnsupportedPeriod) {
		t.Fatalf("CreateBoost(45) error = %v, want ErrUnsupportedPeriod", err)
	}
}

func TestCreateBoostMissingElement(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.CreateBoost(context.Background(), 999, 30)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("CreateBoost on missing element error = %v, want ErrNotFound", err)
	}
}

func TestCreateWithoutBackend(t *testing.T) {
	s, err := store.Open(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	el, err := s.InsertElement(context.Background(), json.RawMessage(
		`{"type":"node","id":1,"lat":1,"lon":2,"tags":{"name":"Shop"}}`))
	if err != nil {
		t.Fatalf("InsertElement failed: %v", err)
	}

	e := New(s, logging.Discard(), "http://lnbits.invalid", "")
	_, err = e.CreateBoost(context.Background(), el.ID, 30)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("CreateBoost without credentials error = %v, want ErrNoProvider", err)
	}
}

func TestPollMarksUnknownDescriptionPaid(t *testing.T) {
	e, fake, s := newTestEngine(t)
	ctx := context.Background()
	el := insertElement(t, s)
	before, err := s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}

	inv, err := s.InsertInvoice(ctx, "u-1", model.InvoiceSourceLnbits, "donation", 1000, "hash-x", "lnbc-x")
	if err != nil {
		t.Fatalf("InsertInvoice failed: %v", err)
	}
	fake.settle("hash-x")

	settled, err := e.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if settled != 1 {
		t.Fatalf("Poll settled %d invoices, want 1", settled)
	}
	got, err := s.SelectInvoiceByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("SelectInvoiceByID failed: %v", err)
	}
	if got.Status != model.InvoicePaid {
		t.Errorf("invoice status = %q, want paid", got.Status)
	}
	// No side effects on anything else.
	after, err := s.SelectElementByID(ctx, el.ID)
	if err != nil {
		t.Fatalf("SelectElementByID failed: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("unrelated element changed while settling an unknown invoice")
	}
}

func TestPollSkipsBackendFailures(t *testing.T) {
	e, _, s := newTestEngine(t)
	ctx := context.Background()

	// The backend has never heard of this hash, so the check 404s.
	inv, err := s.InsertInvoice(ctx, "u-2", model.InvoiceSourceLnbits, "donation", 1000, "unknown-hash", "lnbc-y")
	if err != nil {
		t.Fatalf("InsertInvoice failed: %v", err)
	}

	settled, err := e.Poll(ctx)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if settled != 0 {
		t.Fatalf("Poll settled %d invoices, want 0", settled)
	}
	got, err := s.SelectInvoiceByID(ctx, inv.ID)
	if err != nil {
		t.Fatalf("SelectInvoiceByID failed: %v", err)
	}
	if got.Status != model.InvoiceUnpaid {
		t.Errorf("invoice status = %q, want still unpaid", got.Status)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	lines []string
}

func (n *recordingNotifier) Send(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lines = append(n.lines, message)
}

func TestSettleNotifies(t *testing.T) {
	e, fake, s := newTestEngine(t)
	ctx := context.Background()
	el := insertElement(t, s)

	n := &recordingNotifier{}
	e = e.WithNotifier(n)

	inv, err := e.CreateBoost(ctx, el.ID, 90)
	if err != nil {
		t.Fatalf("CreateBoost failed: %v", err)
	}
	fake.settle(inv.PaymentHash)
	if _, err := e.Poll(ctx); err != nil {
		t.Fatalf("Poll failed: %v", err)
	}

	want := fmt.Sprintf("invoice settled: element_boost:%d:90 (%d sats)", el.ID, DefaultBoost90dPriceSat)
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.lines) != 1 || n.lines[0] != want {
		t.Fatalf("notifier lines = %q, want [%q]", n.lines, want)
	}
}

func TestLndClient(t *testing.T) {
	rawHash := []byte("0123456789abcdef0123456789abcdef")
	var paid bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Grpc-Metadata-macaroon") != "deadbeef" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/invoices":
			var body struct {
				Value string `json:"value"`
				Memo  string `json:"memo"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Value != "500" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{
				"r_hash":          base64.StdEncoding.EncodeToString(rawHash),
				"payment_request": "lnbc-lnd",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/invoice/"+fmt.Sprintf("%x", rawHash):
			state := "OPEN"
			if paid {
				state = "SETTLED"
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"state": state})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	c := NewLndClient(srv.URL, "deadbeef")
	ctx := context.Background()
	pi, err := c.CreateInvoice(ctx, 500, "test")
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if pi.PaymentHash != fmt.Sprintf("%x", rawHash) {
		t.Errorf("payment hash = %q, want hex of the r_hash", pi.PaymentHash)
	}
	if pi.PaymentRequest != "lnbc-lnd" {
		t.Errorf("payment request = %q", pi.PaymentRequest)
	}

	got, err := c.IsPaid(ctx, pi.PaymentHash)
	if err != nil {
		t.Fatalf("IsPaid failed: %v", err)
	}
	if got {
		t.Error("IsPaid reported an open invoice as settled")
	}
	paid = true
	got, err = c.IsPaid(ctx, pi.PaymentHash)
	if err != nil {
		t.Fatalf("IsPaid failed: %v", err)
	}
	if !got {
		t.Error("IsPaid missed a settled invoice")
	}
}
