package splatnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ServiceBaseURL is the SplatNet3 web service origin.
const ServiceBaseURL = "https://api.lp1.av5ja.srv.nintendo.net"

const graphQLPath = "/api/graphql"

// AppUserAgent impersonates the NSO app's embedded web view.
const AppUserAgent = "Mozilla/5.0 (Linux; Android 14; Pixel 7a) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.6099.230 Mobile Safari/537.36"

// fallbackWebViewVersion is used when no version supplier is configured.
const fallbackWebViewVersion = "10.0.0-cba84fcd"

// RequestBuilder constructs one outbound request parameterized by the current
// credential snapshot. It is called again with the refreshed snapshot when a
// retry is needed, so it must be safe to invoke twice.
type RequestBuilder func(ctx context.Context, snap Snapshot) (*http.Request, error)

// APIError reports a non-auth upstream rejection of an outbound call,
// including an auth failure that survived the single allowed retry.
type APIError struct {
	StatusCode int
	Query      string
}

func (e *APIError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("splatnet: %s returned status %d", e.Query, e.StatusCode)
	}
	return fmt.Sprintf("splatnet: request returned status %d", e.StatusCode)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for outbound calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the SplatNet3 origin, for tests and proxies.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithWebViewVersion sets the supplier for the X-Web-View-Ver header. The
// upstream rejects requests carrying an outdated version.
func WithWebViewVersion(fn func(ctx context.Context) string) ClientOption {
	return func(c *Client) { c.webViewVersion = fn }
}

// WithClientLogger sets the logger. Defaults to slog.Default().
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client executes SplatNet3 GraphQL calls with the current bullet token and
// recovers from credential expiry by driving the coordinator once per call.
// It never mutates the credential bundle itself.
type Client struct {
	coordinator    *Coordinator
	httpClient     *http.Client
	baseURL        string
	webViewVersion func(ctx context.Context) string
	logger         *slog.Logger
}

// NewClient creates a Client over coordinator.
func NewClient(coordinator *Coordinator, opts ...ClientOption) *Client {
	c := &Client{
		coordinator: coordinator,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		baseURL:     ServiceBaseURL,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute sends one outbound call built by build. On an auth-failure response
// it refreshes the credential chain and retries exactly once; a second auth
// failure comes back as the plain response, no further loop. Transport
// failures surface as *NetworkError.
//
// The caller owns the returned response body.
func (c *Client) Execute(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	snap := c.coordinator.Credentials().Snapshot()

	// Cold start: nothing below session_token exists yet. Drive the full
	// chain before the first attempt; this consumes the call's one refresh.
	refreshed := false
	if snap.BulletToken == "" && c.coordinator.CanRefresh() {
		var err error
		if snap, err = c.coordinator.EnsureFresh(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}

	resp, err := c.send(ctx, build, snap)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !refreshed && c.coordinator.CanRefresh() {
		drainAndClose(resp.Body)
		c.logger.InfoContext(ctx, "auth failure on outbound call, refreshing tokens")

		if snap, err = c.coordinator.EnsureFresh(ctx); err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, build, snap)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

func (c *Client) send(ctx context.Context, build RequestBuilder, snap Snapshot) (*http.Response, error) {
	req, err := build(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	return resp, nil
}

// Query runs the named persisted query and returns the raw response body.
func (c *Client) Query(ctx context.Context, queryName string, vars map[string]any) (json.RawMessage, error) {
	body, err := queryRequestBody(queryName, vars)
	if err != nil {
		return nil, err
	}

	resp, err := c.Execute(ctx, func(ctx context.Context, snap Snapshot) (*http.Request, error) {
		return c.newGraphQLRequest(ctx, snap, body)
	})
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Query: queryName}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}
	return data, nil
}

func (c *Client) newGraphQLRequest(ctx context.Context, snap Snapshot, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+graphQLPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	lang := snap.Lang
	if lang == "" {
		lang = "en-US"
	}
	country := snap.Country
	if country == "" {
		country = "US"
	}

	webViewVer := fallbackWebViewVersion
	if c.webViewVersion != nil {
		webViewVer = c.webViewVersion(ctx)
	}

	req.Header.Set("Authorization", "Bearer "+snap.BulletToken)
	req.Header.Set("Accept-Language", lang)
	req.Header.Set("User-Agent", AppUserAgent)
	req.Header.Set("X-Web-View-Ver", webViewVer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("X-Requested-With", "com.nintendo.znca")
	req.Header.Set("Referer", fmt.Sprintf("%s/?lang=%s&na_country=%s&na_lang=%s", c.baseURL, lang, country, lang))
	req.AddCookie(&http.Cookie{Name: "_gtoken", Value: snap.GToken})

	return req, nil
}

// Typed wrappers around the query catalog, the subset the HTTP API serves.

// LatestBattles returns the most recent battle histories.
func (c *Client) LatestBattles(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "LatestBattleHistoriesQuery", nil)
}

// BattleDetail returns the full record of one battle.
func (c *Client) BattleDetail(ctx context.Context, battleID string) (json.RawMessage, error) {
	return c.Query(ctx, "VsHistoryDetailQuery", map[string]any{"vsResultId": battleID})
}

// CoopHistory returns salmon run shift history.
func (c *Client) CoopHistory(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "CoopHistoryQuery", nil)
}

// CoopDetail returns the full record of one shift.
func (c *Client) CoopDetail(ctx context.Context, coopID string) (json.RawMessage, error) {
	return c.Query(ctx, "CoopHistoryDetailQuery", map[string]any{"coopHistoryDetailId": coopID})
}

// Schedule returns the stage rotation schedule.
func (c *Client) Schedule(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "StageScheduleQuery", nil)
}

// Friends returns the friend list.
func (c *Client) Friends(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "FriendListQuery", nil)
}

// HistoryRecord returns the lifetime play summary.
func (c *Client) HistoryRecord(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "HistoryRecordQuery", nil)
}

// Home returns the landing page data; used as a cheap connectivity probe.
func (c *Client) Home(ctx context.Context) (json.RawMessage, error) {
	return c.Query(ctx, "HomeQuery", map[string]any{"naCountry": "US"})
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
