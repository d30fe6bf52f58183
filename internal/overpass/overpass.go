// Package overpass fetches the upstream snapshot of bitcoin-accepting
// places from an Overpass API instance.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultEndpoint = "https://overpass-api.de/api/interpreter"
	DefaultTimeout  = 5 * time.Minute
)

// snapshotQuery selects every node, way and relation tagged as accepting
// bitcoin. `out meta` keeps uid/user/timestamp, `geom` inlines way and
// relation geometry so elements carry their own bounds.
const snapshotQuery = `[out:json][timeout:300];
(
  nwr["currency:XBT"="yes"];
  nwr["payment:bitcoin"="yes"];
);
out meta geom;`

// Client talks to one Overpass endpoint.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a client against the public Overpass instance.
func NewClient() *Client {
	return &Client{
		Endpoint: DefaultEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithEndpoint returns a new client pointed at the specified endpoint.
// Useful for testing with mock servers or self-hosted instances.
func (c *Client) WithEndpoint(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		HTTPClient: c.HTTPClient,
	}
}

// Snapshot runs the fixed query and returns the raw upstream elements.
// Each entry is the element's own JSON document, untouched, so callers can
// persist it verbatim.
func (c *Client) Snapshot(ctx context.Context) ([]json.RawMessage, error) {
	form := url.Values{"data": {snapshotQuery}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overpass request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("overpass error: %s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}

	var doc struct {
		Elements []json.RawMessage `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse overpass response: %w", err)
	}
	if doc.Elements == nil {
		return nil, fmt.Errorf("overpass response has no elements array")
	}
	return doc.Elements, nil
}
