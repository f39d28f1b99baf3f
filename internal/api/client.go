package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/usagevault/usagevault/internal/store"
)

const (
	// RequestTimeout bounds every remote call. There is no mid-flight
	// cancellation beyond it.
	RequestTimeout = 15 * time.Second

	// DefaultPageSize is the events page size. A page with fewer items
	// is the last page.
	DefaultPageSize = 100

	// MaxPages is an absolute ceiling on pages fetched in one sweep,
	// regardless of what the server claims. Protects against a
	// misbehaving server paginating forever.
	MaxPages = 200

	// initialWindow is how far back the initial sync reaches.
	initialWindow = 365 * 24 * time.Hour

	// bodySnippet is how much response body an HTTPError carries.
	bodySnippet = 512
)

// TokenSource supplies the current auth token. An empty string means no
// credential is available.
type TokenSource interface {
	Token() string
}

// Client talks to the remote usage API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *log.Logger
	pageSize   int
}

// NewClient creates a Client for the given API root.
// If logger is nil, a default stderr logger is used.
func NewClient(baseURL string, tokens TokenSource, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: RequestTimeout},
		tokens:     tokens,
		logger:     logger,
		pageSize:   DefaultPageSize,
	}
}

// SetPageSize overrides the events page size.
func (c *Client) SetPageSize(n int) {
	if n > 0 {
		c.pageSize = n
	}
}

// HasToken reports whether a credential is currently available.
func (c *Client) HasToken() bool {
	return c.tokens.Token() != ""
}

// do issues one request and returns the response body. It classifies
// failures per the error taxonomy. The token never appears in any
// returned error.
func (c *Client) do(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	token := c.tokens.Token()
	if token == "" {
		return nil, ErrCredentialMissing
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Cookie", "SessionToken="+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) ||
			(errors.As(err, &urlErr) && urlErr.Timeout()) {
			return nil, &TimeoutError{Op: method + " " + path, Err: err}
		}
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &UnauthorizedError{Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{Status: resp.StatusCode, Body: truncate(data, bodySnippet)}
	}

	return data, nil
}

// decode unmarshals a response body into T, classifying failures as parse
// errors with a body prefix for diagnosis.
func decode[T any](op string, data []byte) (*T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &ParseError{Op: op, Err: err, Snippet: truncate(data, 256)}
	}
	return &out, nil
}

// fetchEventsPage fetches one page of usage events within the window.
// Returns the normalized events and whether the page was full (more data
// may exist). Pages are 1-based. The per-page request carries the shared
// retry policy.
func (c *Client) fetchEventsPage(ctx context.Context, w Window, page int) ([]store.UsageEvent, bool, error) {
	type result struct {
		events []store.UsageEvent
		full   bool
	}

	res, err := WithRetry(c.logger, "events page fetch", func() (result, error) {
		data, err := c.do(ctx, http.MethodPost, "/api/usage/events", map[string]any{
			"page":      page,
			"pageSize":  c.pageSize,
			"startDate": w.StartMillis,
			"endDate":   w.EndMillis,
		})
		if err != nil {
			return result{}, err
		}

		resp, err := decode[eventsResponse]("events", data)
		if err != nil {
			return result{}, err
		}
		if resp.UsageEvents == nil {
			return result{}, &ParseError{
				Op:      "events",
				Err:     fmt.Errorf("missing usageEvents field"),
				Snippet: truncate(data, 256),
			}
		}

		fetchedAt := time.Now().UTC().Format(time.RFC3339)
		events := make([]store.UsageEvent, 0, len(resp.UsageEvents))
		for _, raw := range resp.UsageEvents {
			if err := raw.validate(); err != nil {
				return result{}, &ParseError{Op: "events", Err: err, Snippet: truncate(data, 256)}
			}
			events = append(events, raw.normalize(fetchedAt))
		}

		return result{events: events, full: len(events) == c.pageSize}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.events, res.full, nil
}

// FetchFirstPage fetches page 1 of the initial-sync window (one year back
// to now). It returns the events, whether more pages exist, and the exact
// window used, which the remaining-pages fetch must reuse verbatim to
// guarantee range continuity.
func (c *Client) FetchFirstPage(ctx context.Context) ([]store.UsageEvent, bool, Window, error) {
	w := windowEndingNow(initialWindow)
	events, full, err := c.fetchEventsPage(ctx, w, 1)
	if err != nil {
		return nil, false, Window{}, err
	}
	return events, full, w, nil
}

// FetchRemainingPages fetches pages startPage onward of the given window,
// stopping at a short page or the absolute page ceiling. Used by the
// detached background continuation after the first page is already visible.
func (c *Client) FetchRemainingPages(ctx context.Context, w Window, startPage int) ([]store.UsageEvent, error) {
	var all []store.UsageEvent

	for page := startPage; page <= MaxPages; page++ {
		events, full, err := c.fetchEventsPage(ctx, w, page)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
		if !full {
			return all, nil
		}
	}

	c.logger.Printf("warning: hit page ceiling (%d) before a short page", MaxPages)
	return all, nil
}

// FetchEventsSince fetches all events from the given high-water mark
// (epoch-ms string) to now, paging until a short page or the ceiling.
func (c *Client) FetchEventsSince(ctx context.Context, sinceMillis string) ([]store.UsageEvent, error) {
	w := Window{
		StartMillis: sinceMillis,
		EndMillis:   strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	return c.FetchRemainingPages(ctx, w, 1)
}

// FetchSummary fetches the current plan/quota snapshot.
func (c *Client) FetchSummary(ctx context.Context) (*store.UsageSummary, error) {
	return WithRetry(c.logger, "summary fetch", func() (*store.UsageSummary, error) {
		data, err := c.do(ctx, http.MethodPost, "/api/usage/summary", map[string]any{})
		if err != nil {
			return nil, err
		}

		resp, err := decode[summaryResponse]("summary", data)
		if err != nil {
			return nil, err
		}
		if err := resp.validate(); err != nil {
			return nil, &ParseError{Op: "summary", Err: err, Snippet: truncate(data, 256)}
		}

		return resp.normalize(time.Now().UTC().Format(time.RFC3339)), nil
	})
}

// FetchIdentity fetches the current authenticated principal.
func (c *Client) FetchIdentity(ctx context.Context) (*store.Identity, error) {
	return WithRetry(c.logger, "identity fetch", func() (*store.Identity, error) {
		data, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil)
		if err != nil {
			return nil, err
		}

		resp, err := decode[identityResponse]("identity", data)
		if err != nil {
			return nil, err
		}
		if err := resp.validate(); err != nil {
			return nil, &ParseError{Op: "identity", Err: err, Snippet: truncate(data, 256)}
		}

		return &store.Identity{
			UserID:      resp.ID,
			Email:       resp.Email,
			DisplayName: resp.Name,
			FetchedAt:   time.Now().UTC().Format(time.RFC3339),
		}, nil
	})
}

// FetchTeams fetches the team list.
func (c *Client) FetchTeams(ctx context.Context) ([]store.Team, error) {
	return WithRetry(c.logger, "team list fetch", func() ([]store.Team, error) {
		data, err := c.do(ctx, http.MethodGet, "/api/teams", nil)
		if err != nil {
			return nil, err
		}

		resp, err := decode[teamsResponse]("teams", data)
		if err != nil {
			return nil, err
		}

		teams := make([]store.Team, 0, len(resp.Teams))
		for _, t := range resp.Teams {
			teams = append(teams, store.Team{ID: t.ID, Name: t.Name})
		}
		return teams, nil
	})
}

// FetchTeamMembers fetches the member roster for one team.
func (c *Client) FetchTeamMembers(ctx context.Context, teamID string) ([]store.TeamMember, error) {
	return WithRetry(c.logger, "team detail fetch", func() ([]store.TeamMember, error) {
		data, err := c.do(ctx, http.MethodPost, "/api/teams/details", map[string]any{
			"teamId": teamID,
		})
		if err != nil {
			return nil, err
		}

		resp, err := decode[teamDetailsResponse]("team details", data)
		if err != nil {
			return nil, err
		}

		members := make([]store.TeamMember, 0, len(resp.TeamMembers))
		for _, m := range resp.TeamMembers {
			members = append(members, store.TeamMember{
				TeamID:      teamID,
				UserID:      m.ID,
				DisplayName: m.Name,
				Role:        m.Role,
			})
		}
		return members, nil
	})
}

// truncate clips a body to at most n bytes for error messages.
func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
