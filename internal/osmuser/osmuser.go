// Package osmuser refreshes mirrored OSM account profiles from the OSM API.
package osmuser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/btcmap/internal/store"
)

// DefaultAPIURL is the public OSM API.
const DefaultAPIURL = "https://api.openstreetmap.org"

const clientTimeout = 30 * time.Second

// ErrUserGone means the upstream account no longer exists.
var ErrUserGone = errors.New("osm user gone")

// Client fetches account documents from the OSM API.
type Client struct {
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(apiURL string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	return &Client{
		APIURL:     strings.TrimRight(apiURL, "/"),
		HTTPClient: &http.Client{Timeout: clientTimeout},
	}
}

// User fetches one account profile document.
func (c *Client) User(ctx context.Context, id int64) (json.RawMessage, error) {
	url := c.APIURL + "/api/0.6/user/" + strconv.FormatInt(id, 10) + ".json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch osm user %d: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("osm user %d: %w", id, ErrUserGone)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("OSM API error: %s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}

	var out struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse osm user %d: %w", id, err)
	}
	if len(out.User) == 0 {
		return nil, fmt.Errorf("osm user %d: response carries no user document", id)
	}
	return out.User, nil
}

// Result counts one sync run.
type Result struct {
	Users   int
	Updated int
	Failed  int
}

// Engine walks every live mirrored account and replaces stale profile
// documents with the upstream state.
type Engine struct {
	store  *store.Store
	log    *slog.Logger
	client *Client
}

func New(s *store.Store, log *slog.Logger, client *Client) *Engine {
	return &Engine{store: s, log: log, client: client}
}

// Run syncs all live accounts. Individual fetch failures are logged and
// skipped; an account that vanished upstream keeps its last known profile.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	users, err := e.store.SelectLiveOsmUsers(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Users: len(users)}
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		profile, err := e.client.User(ctx, u.ID)
		if err != nil {
			e.log.Warn("failed to sync osm user", "id", u.ID, "error", err)
			res.Failed++
			continue
		}
		if sameDocument(u.OsmData, profile) {
			continue
		}
		if _, err := e.store.UpsertOsmUser(ctx, u.ID, profile); err != nil {
			return nil, err
		}
		res.Updated++
	}
	e.log.Info("synced osm users", "users", res.Users, "updated", res.Updated, "failed", res.Failed)
	return res, nil
}

// sameDocument compares two JSON documents structurally so key order and
// whitespace differences do not count as changes.
func sameDocument(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
