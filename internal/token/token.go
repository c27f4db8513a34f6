// Package token fetches and refreshes the short-lived access token that
// authorises a recognizer websocket.
//
// A [Client] talks to the token service over HTTP. A [Refresher] keeps a
// [Cell] current in the background for as long as a session lives; refresh
// failures are logged and otherwise ignored.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// ErrTokenRequestFailed is returned when the token service cannot be reached
// or answers with something other than a usable token.
var ErrTokenRequestFailed = errors.New("token: request failed")

const (
	DefaultInitPath    = "/token/init"
	DefaultRefreshPath = "/da/user/token"

	defaultTimeout = 10 * time.Second

	// maxBodySize bounds how much of a token response is read.
	maxBodySize = 64 << 10
)

// Token is an access token together with its validity window.
type Token struct {
	Value  string
	Expiry time.Duration
}

// Renewer exchanges a still-valid token for a fresh one.
type Renewer interface {
	Refresh(ctx context.Context, current string) (string, error)
}

// Client requests tokens from the token service. It is safe for concurrent
// use.
type Client struct {
	baseURL     string
	initPath    string
	refreshPath string
	http        *http.Client
	onRequest   func(kind, status string)
}

var _ Renewer = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPaths overrides the init and refresh endpoint paths. Empty values keep
// the defaults.
func WithPaths(initPath, refreshPath string) Option {
	return func(c *Client) {
		if initPath != "" {
			c.initPath = initPath
		}
		if refreshPath != "" {
			c.refreshPath = refreshPath
		}
	}
}

// WithRequestHook registers fn to be called after every token request with
// kind "init" or "refresh" and status "ok" or "error".
func WithRequestHook(fn func(kind, status string)) Option {
	return func(c *Client) { c.onRequest = fn }
}

// NewClient creates a client for the token service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		initPath:    DefaultInitPath,
		refreshPath: DefaultRefreshPath,
		http:        &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type initResponse struct {
	Data struct {
		Token   string  `json:"token"`
		TimeOut minutes `json:"timeOut"`
	} `json:"data"`
}

type refreshResponse struct {
	Data string `json:"data"`
}

// minutes decodes a JSON number or numeric string as a count of minutes.
type minutes float64

func (m *minutes) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("timeOut %s: %w", b, err)
	}
	*m = minutes(v)
	return nil
}

// Fetch requests a new token for apiKey.
func (c *Client) Fetch(ctx context.Context, apiKey string) (Token, error) {
	q := url.Values{"apikey": {apiKey}}
	var resp initResponse
	if err := c.get(ctx, "init", c.initPath+"?"+q.Encode(), "", &resp); err != nil {
		return Token{}, err
	}
	if resp.Data.Token == "" {
		c.observe("init", "error")
		return Token{}, fmt.Errorf("token: init: empty token: %w", ErrTokenRequestFailed)
	}
	c.observe("init", "ok")
	return Token{
		Value:  resp.Data.Token,
		Expiry: time.Duration(float64(resp.Data.TimeOut) * float64(time.Minute)),
	}, nil
}

// Refresh exchanges current for a new token.
func (c *Client) Refresh(ctx context.Context, current string) (string, error) {
	var resp refreshResponse
	if err := c.get(ctx, "refresh", c.refreshPath, current, &resp); err != nil {
		return "", err
	}
	if resp.Data == "" {
		c.observe("refresh", "error")
		return "", fmt.Errorf("token: refresh: empty token: %w", ErrTokenRequestFailed)
	}
	c.observe("refresh", "ok")
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, kind, path, bearer string, out any) error {
	fail := func(format string, args ...any) error {
		c.observe(kind, "error")
		return fmt.Errorf("token: %s: %s: %w", kind, fmt.Sprintf(format, args...), ErrTokenRequestFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fail("build request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fail("%v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fail("read body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fail("decode: %v", err)
	}
	return nil
}

func (c *Client) observe(kind, status string) {
	if c.onRequest != nil {
		c.onRequest(kind, status)
	}
}

// RefreshInterval returns how often a token valid for expiry should be
// refreshed: two minutes before it lapses. Tokens valid for two minutes or
// less are refreshed at half their lifetime. A non-positive expiry disables
// refreshing and yields zero.
func RefreshInterval(expiry time.Duration) time.Duration {
	const margin = 2 * time.Minute
	switch {
	case expiry <= 0:
		return 0
	case expiry > margin:
		return expiry - margin
	default:
		return expiry / 2
	}
}

// Cell holds the current token of one session. Writes are unconditional:
// the last writer wins.
type Cell struct {
	p atomic.Pointer[string]
}

// Load returns the current token, or "" if none is set.
func (c *Cell) Load() string {
	if p := c.p.Load(); p != nil {
		return *p
	}
	return ""
}

// Store replaces the current token.
func (c *Cell) Store(v string) { c.p.Store(&v) }

// Clear destroys the current token.
func (c *Cell) Clear() { c.p.Store(nil) }

// Refresher periodically renews the token held in a [Cell].
type Refresher struct {
	renewer  Renewer
	cell     *Cell
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// StartRefresher launches a goroutine that calls r.Refresh every interval
// with the cell's current token and stores the result. It stops when ctx is
// cancelled or [Refresher.Stop] is called. A non-positive interval starts
// nothing; Stop is still safe to call.
func StartRefresher(ctx context.Context, r Renewer, cell *Cell, interval time.Duration) *Refresher {
	ctx, cancel := context.WithCancel(ctx)
	rf := &Refresher{
		renewer:  r,
		cell:     cell,
		interval: interval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if interval <= 0 {
		close(rf.done)
		return rf
	}
	go rf.loop(ctx)
	return rf
}

// Stop halts the refresher and waits for an in-flight refresh to return.
// Safe to call more than once.
func (rf *Refresher) Stop() {
	rf.cancel()
	<-rf.done
}

func (rf *Refresher) loop(ctx context.Context) {
	defer close(rf.done)
	ticker := time.NewTicker(rf.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tok, err := rf.renewer.Refresh(ctx, rf.cell.Load())
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("token refresh failed", "err", err)
			}
			continue
		}
		rf.cell.Store(tok)
		slog.Debug("token refreshed", "next_in", rf.interval)
	}
}
