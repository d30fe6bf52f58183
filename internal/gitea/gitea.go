// Package gitea opens and tracks review tickets for submitted places on a
// Gitea issue tracker.
package gitea

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/btcmap/internal/model"
	"github.com/untoldecay/btcmap/internal/store"
)

const clientTimeout = 30 * time.Second

// Issue is the slice of the tracker's issue document we care about.
type Issue struct {
	Number  int64  `json:"number"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
}

// Client talks to one repository on a Gitea instance.
type Client struct {
	URL        string
	Repo       string
	Token      string
	HTTPClient *http.Client
}

func NewClient(url, repo, token string) *Client {
	return &Client{
		URL:        strings.TrimRight(url, "/"),
		Repo:       repo,
		Token:      token,
		HTTPClient: &http.Client{Timeout: clientTimeout},
	}
}

// CreateIssue opens a new issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, title, body string) (*Issue, error) {
	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal issue: %w", err)
	}
	url := fmt.Sprintf("%s/api/v1/repos/%s/issues", c.URL, c.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "token "+c.Token)

	var issue Issue
	if err := c.do(req, &issue); err != nil {
		return nil, fmt.Errorf("gitea create issue: %w", err)
	}
	if issue.HTMLURL == "" {
		return nil, fmt.Errorf("gitea create issue: response carries no html_url")
	}
	return &issue, nil
}

// GetIssue fetches one issue by number.
func (c *Client) GetIssue(ctx context.Context, number int64) (*Issue, error) {
	url := fmt.Sprintf("%s/api/v1/repos/%s/issues/%d", c.URL, c.Repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.Token)

	var issue Issue
	if err := c.do(req, &issue); err != nil {
		return nil, fmt.Errorf("gitea get issue %d: %w", number, err)
	}
	return &issue, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s (status %d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Result counts one ticket sync run.
type Result struct {
	Tracked int
	Closed  int
	Failed  int
}

// Engine keeps place submissions and their review tickets in step. The
// tracker token lives in the conf table; without one, ticket creation and
// sync become no-ops.
type Engine struct {
	store *store.Store
	log   *slog.Logger
	url   string
	repo  string
}

func New(s *store.Store, log *slog.Logger, url, repo string) *Engine {
	return &Engine{store: s, log: log, url: url, repo: repo}
}

func (e *Engine) client(ctx context.Context) (*Client, error) {
	token, err := e.store.GetConfDefault(ctx, store.ConfGiteaAPIKey, "")
	if err != nil {
		return nil, err
	}
	if token == "" || e.url == "" || e.repo == "" {
		return nil, nil
	}
	return NewClient(e.url, e.repo, token), nil
}

// OpenTicket files a review issue for a fresh submission and returns its
// URL, or "" when no tracker is configured.
func (e *Engine) OpenTicket(ctx context.Context, sub *model.PlaceSubmission) (string, error) {
	c, err := e.client(ctx)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", nil
	}
	issue, err := c.CreateIssue(ctx, ticketTitle(sub), ticketBody(sub))
	if err != nil {
		return "", err
	}
	return issue.HTMLURL, nil
}

// SyncTickets walks open submissions with a ticket and closes the ones
// whose issue was closed by a reviewer.
func (e *Engine) SyncTickets(ctx context.Context) (*Result, error) {
	c, err := e.client(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	if c == nil {
		return res, nil
	}
	open, err := e.store.SelectOpenPlaceSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	for _, sub := range open {
		if sub.TicketURL == "" {
			continue
		}
		res.Tracked++
		number, err := issueNumber(sub.TicketURL)
		if err != nil {
			e.log.Warn("unparseable ticket url", "submission", sub.ID, "url", sub.TicketURL)
			res.Failed++
			continue
		}
		issue, err := c.GetIssue(ctx, number)
		if err != nil {
			e.log.Warn("failed to check ticket", "submission", sub.ID, "error", err)
			res.Failed++
			continue
		}
		if issue.State != "closed" {
			continue
		}
		now := model.Now()
		if _, err := e.store.SetPlaceSubmissionClosedAt(ctx, sub.ID, &now); err != nil {
			return nil, err
		}
		res.Closed++
	}
	e.log.Info("synced submission tickets", "tracked", res.Tracked, "closed", res.Closed, "failed", res.Failed)
	return res, nil
}

func ticketTitle(sub *model.PlaceSubmission) string {
	return fmt.Sprintf("Add place: %s (%s)", sub.Name, sub.Category)
}

func ticketBody(sub *model.PlaceSubmission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s/%s\n\n", sub.Origin, sub.ExternalID)
	fmt.Fprintf(&b, "Location: https://www.openstreetmap.org/?mlat=%v&mlon=%v\n\n", sub.Lat, sub.Lon)
	if len(sub.Extra) > 0 {
		if raw, err := json.MarshalIndent(sub.Extra, "", "  "); err == nil {
			fmt.Fprintf(&b, "```json\n%s\n```\n", raw)
		}
	}
	return b.String()
}

// issueNumber extracts the trailing issue number from a ticket URL like
// https://gitea.example.org/owner/repo/issues/42.
func issueNumber(url string) (int64, error) {
	i := strings.LastIndex(url, "/")
	if i < 0 || i == len(url)-1 {
		return 0, fmt.Errorf("no issue number in %q", url)
	}
	n, err := strconv.ParseInt(url[i+1:], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("no issue number in %q", url)
	}
	return n, nil
}
