package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/untoldecay/btcmap/internal/logging"
	"github.com/untoldecay/btcmap/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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
	return s
}

func TestPostWithNothingConfigured(t *testing.T) {
	s := newTestStore(t)
	r := NewRouter(s, logging.Discard(), "")
	if err := r.Post(context.Background(), "hello"); err != nil {
		t.Fatalf("Post with no sinks failed: %v", err)
	}
}

func TestPostDiscord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got.Store(body.Content)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	if err := s.SetConf(ctx, store.ConfDiscordWebhook, srv.URL); err != nil {
		t.Fatalf("SetConf failed: %v", err)
	}
	r := NewRouter(s, logging.Discard(), "")
	if err := r.Post(ctx, "surveyor created Satoshi Cafe"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if got.Load() != "surveyor created Satoshi Cafe" {
		t.Errorf("webhook content = %v", got.Load())
	}
}

// fakeMatrix implements the two endpoints the router uses, rejecting any
// token other than the current one.
type fakeMatrix struct {
	logins atomic.Int64
	sends  atomic.Int64
	token  atomic.Value
	body   atomic.Value
}

func (f *fakeMatrix) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/_matrix/client/v3/login":
			var body struct {
				Type       string            `json:"type"`
				Identifier map[string]string `json:"identifier"`
				Password   string            `json:"password"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil ||
				body.Type != "m.login.password" || body.Identifier["user"] != "bot" || body.Password != "hunter2" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			f.logins.Add(1)
			token := "tok-" + time.Now().Format("150405.000000000")
			f.token.Store(token)
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token})
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/_matrix/client/v3/rooms/"):
			want, _ := f.token.Load().(string)
			if want == "" || r.Header.Get("Authorization") != "Bearer "+want {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if !strings.Contains(r.URL.EscapedPath(), "%21room:example.org") {
				t.Errorf("room id not escaped into path: %s", r.URL.EscapedPath())
			}
			var body struct {
				MsgType string `json:"msgtype"`
				Body    string `json:"body"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MsgType != "m.text" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.sends.Add(1)
			f.body.Store(body.Body)
			_ = json.NewEncoder(w).Encode(map[string]string{"event_id": "$1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func configureMatrix(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for key, value := range map[string]string{
		store.ConfMatrixUsername: "bot",
		store.ConfMatrixPassword: "hunter2",
		store.ConfMatrixRoomURL:  "https://matrix.example.org/#/room/!room:example.org",
	} {
		if err := s.SetConf(ctx, key, value); err != nil {
			t.Fatalf("SetConf failed: %v", err)
		}
	}
}

func TestPostMatrixReusesToken(t *testing.T) {
	s := newTestStore(t)
	configureMatrix(t, s)
	fake := &fakeMatrix{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	r := NewRouter(s, logging.Discard(), srv.URL)
	ctx := context.Background()
	if err := r.Post(ctx, "first"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if err := r.Post(ctx, "second"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if got := fake.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want the token cached after 1", got)
	}
	if got := fake.sends.Load(); got != 2 {
		t.Errorf("sends = %d, want 2", got)
	}
	if fake.body.Load() != "second" {
		t.Errorf("last message = %v", fake.body.Load())
	}
}

func TestPostMatrixRefreshesRejectedToken(t *testing.T) {
	s := newTestStore(t)
	configureMatrix(t, s)
	fake := &fakeMatrix{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	r := NewRouter(s, logging.Discard(), srv.URL)
	ctx := context.Background()
	if err := r.Post(ctx, "first"); err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	// The server rotates its token; the cached one is now stale.
	fake.token.Store("rotated")
	if err := r.Post(ctx, "second"); err != nil {
		t.Fatalf("Post after token rotation failed: %v", err)
	}
	if got := fake.logins.Load(); got != 2 {
		t.Errorf("logins = %d, want a re-login after the rejection", got)
	}
	if got := fake.sends.Load(); got != 2 {
		t.Errorf("sends = %d, want 2", got)
	}
}

func TestSendDeliversInBackground(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	delivered := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		delivered <- body.Content
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	if err := s.SetConf(ctx, store.ConfDiscordWebhook, srv.URL); err != nil {
		t.Fatalf("SetConf failed: %v", err)
	}

	r := NewRouter(s, logging.Discard(), "")
	// A canceled caller context must not stop the delivery.
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	r.Send(canceled, "async line")

	select {
	case got := <-delivered:
		if got != "async line" {
			t.Errorf("delivered %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification was never delivered")
	}
}
