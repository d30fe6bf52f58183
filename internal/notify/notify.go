// Package notify posts human-readable event lines to the configured chat
// sinks: a Discord webhook and/or a Matrix room. Sink credentials live in
// the conf table and are resolved per delivery, so operators can point the
// bot somewhere else without a restart.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/btcmap/internal/store"
)

const sendTimeout = 10 * time.Second

var errMatrixUnauthorized = errors.New("matrix token rejected")

// Router fans one message out to every configured sink.
type Router struct {
	store      *store.Store
	log        *slog.Logger
	matrixURL  string
	httpClient *http.Client

	mu          sync.Mutex
	matrixToken string
}

func NewRouter(s *store.Store, log *slog.Logger, matrixURL string) *Router {
	return &Router{
		store:      s,
		log:        log,
		matrixURL:  strings.TrimRight(matrixURL, "/"),
		httpClient: &http.Client{Timeout: sendTimeout},
	}
}

// Send delivers in the background and returns immediately; the engines
// must never block on a chat service. Failures are logged, not returned.
func (r *Router) Send(ctx context.Context, message string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := r.Post(ctx, message); err != nil {
			r.log.Warn("failed to deliver notification", "error", err)
		}
	}()
}

// Post delivers message to every configured sink, trying all of them and
// returning the first failure. With nothing configured it is a no-op.
func (r *Router) Post(ctx context.Context, message string) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	webhook, err := r.store.GetConfDefault(ctx, store.ConfDiscordWebhook, "")
	if err != nil {
		return err
	}
	if webhook != "" {
		record(r.postDiscord(ctx, webhook, message))
	}
	record(r.postMatrix(ctx, message))
	return firstErr
}

func (r *Router) postDiscord(ctx context.Context, webhook, message string) error {
	payload, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord webhook: status %d", resp.StatusCode)
	}
	return nil
}

func (r *Router) postMatrix(ctx context.Context, message string) error {
	if r.matrixURL == "" {
		return nil
	}
	user, err := r.store.GetConfDefault(ctx, store.ConfMatrixUsername, "")
	if err != nil {
		return err
	}
	pass, err := r.store.GetConfDefault(ctx, store.ConfMatrixPassword, "")
	if err != nil {
		return err
	}
	room, err := r.store.GetConfDefault(ctx, store.ConfMatrixRoomURL, "")
	if err != nil {
		return err
	}
	if user == "" || pass == "" || room == "" {
		return nil
	}
	room = roomID(room)

	token, err := r.token(ctx, user, pass)
	if err != nil {
		return err
	}
	err = r.putMessage(ctx, token, room, message)
	if errors.Is(err, errMatrixUnauthorized) {
		// Stale cached token; log in again and retry once.
		r.resetToken()
		token, err = r.token(ctx, user, pass)
		if err != nil {
			return err
		}
		return r.putMessage(ctx, token, room, message)
	}
	return err
}

func (r *Router) token(ctx context.Context, user, pass string) (string, error) {
	r.mu.Lock()
	if r.matrixToken != "" {
		token := r.matrixToken
		r.mu.Unlock()
		return token, nil
	}
	r.mu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"type":       "m.login.password",
		"identifier": map[string]string{"type": "m.id.user", "user": user},
		"password":   pass,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.matrixURL+"/_matrix/client/v3/login", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("matrix login: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("matrix login: %s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("matrix login: failed to parse response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("matrix login: response carries no access token")
	}
	r.mu.Lock()
	r.matrixToken = out.AccessToken
	r.mu.Unlock()
	return out.AccessToken, nil
}

func (r *Router) resetToken() {
	r.mu.Lock()
	r.matrixToken = ""
	r.mu.Unlock()
}

func (r *Router) putMessage(ctx context.Context, token, room, message string) error {
	payload, err := json.Marshal(map[string]string{"msgtype": "m.text", "body": message})
	if err != nil {
		return fmt.Errorf("failed to marshal matrix message: %w", err)
	}
	u := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		r.matrixURL, url.PathEscape(room), uuid.New().String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create matrix request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("matrix send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		return errMatrixUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("matrix send: status %d", resp.StatusCode)
	}
	return nil
}

// roomID accepts either a bare room id ("!abc:server") or a room URL and
// returns the id.
func roomID(v string) string {
	if i := strings.LastIndex(v, "/"); i >= 0 {
		return v[i+1:]
	}
	return v
}
