// Package authz implements the heartbeat client for the authorization
// server. The server is the remote kill switch: losing it stops trading.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/quantfell/pairbot/internal/config"
	"github.com/quantfell/pairbot/internal/domain"
)

const sessionHeader = "X-Session-ID"

// Options configures a Client.
type Options struct {
	BaseURL     string
	Token       string
	MaxFailures int           // consecutive heartbeat failures before fatal
	ExitGrace   time.Duration // delay between shutdown callbacks and exit
	HTTPTimeout time.Duration
	Exit        func(code int) // defaults to os.Exit
}

// Client authenticates against the authorization server, keeps the
// heartbeat alive, and swaps trading parameter snapshots when the server
// bumps the config version. All callback invocation is synchronous and in
// registration order; the fatal path runs at most once.
type Client struct {
	baseURL     string
	token       string
	httpc       *http.Client
	params      *config.ParamStore
	maxFailures int
	exitGrace   time.Duration
	exit        func(int)
	logger      *slog.Logger

	mu          sync.Mutex
	sessionID   string
	shutdownCbs []func()
	updateCbs   []func(*config.TradingParams)

	fatalOnce sync.Once
}

// New creates a Client. params receives every accepted snapshot.
func New(opts Options, params *config.ParamStore, logger *slog.Logger) *Client {
	if opts.MaxFailures < 1 {
		opts.MaxFailures = 3
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 10 * time.Second
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	return &Client{
		baseURL:     opts.BaseURL,
		token:       opts.Token,
		httpc:       &http.Client{Timeout: opts.HTTPTimeout},
		params:      params,
		maxFailures: opts.MaxFailures,
		exitGrace:   opts.ExitGrace,
		exit:        opts.Exit,
		logger:      logger.With(slog.String("component", "authz")),
	}
}

// OnShutdown registers a callback for the fatal path. Callbacks run
// synchronously in registration order, exactly once.
func (c *Client) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownCbs = append(c.shutdownCbs, fn)
}

// OnConfigUpdate registers a callback invoked once per accepted snapshot.
func (c *Client) OnConfigUpdate(fn func(*config.TradingParams)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCbs = append(c.updateCbs, fn)
}

// SessionID returns the current session identifier.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

type configResponse struct {
	Config    config.TradingParams `json:"config"`
	SessionID string               `json:"session_id"`
}

type pingRequest struct {
	SessionID string `json:"session_id"`
}

type pingResponse struct {
	Alive         bool `json:"alive"`
	ConfigVersion int  `json:"config_version"`
}

type verifyRequest struct {
	SessionID string `json:"session_id"`
}

type verifyResponse struct {
	Verified bool   `json:"verified"`
	Error    string `json:"error"`
	Action   string `json:"action"`
}

// Authenticate fetches the initial parameter snapshot and session. It must
// succeed before Run or Verify are used; failure here means the process
// should not start trading at all.
func (c *Client) Authenticate(ctx context.Context) error {
	var resp configResponse
	status, err := c.doJSON(ctx, http.MethodGet, "/config", "", nil, &resp)
	if err != nil {
		return fmt.Errorf("authz: authenticate: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("authz: authenticate: %w", domain.ErrUnauthorized)
	}
	if status != http.StatusOK {
		return fmt.Errorf("authz: authenticate: unexpected status %d", status)
	}
	if err := resp.Config.Validate(); err != nil {
		return fmt.Errorf("authz: authenticate: %w", err)
	}

	params := resp.Config
	c.params.Store(&params)

	c.mu.Lock()
	c.sessionID = resp.SessionID
	c.mu.Unlock()

	c.logger.Info("authenticated",
		slog.String("session_id", resp.SessionID),
		slog.Int("config_version", params.ConfigVersion),
		slog.Float64("heartbeat_interval", params.HeartbeatInterval),
	)
	return nil
}

// Run drives the heartbeat loop until the context ends or the fatal path
// fires. The interval is re-read every cycle so a snapshot update takes
// effect on the next beat.
func (c *Client) Run(ctx context.Context) error {
	failures := 0

	timer := time.NewTimer(c.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		switch c.ping(ctx) {
		case pingOK:
			failures = 0
		case pingFailed:
			failures++
			c.logger.Warn("heartbeat failed",
				slog.Int("consecutive_failures", failures),
				slog.Int("max_failures", c.maxFailures),
			)
			if failures >= c.maxFailures {
				c.fatal(ctx, "heartbeat failure limit reached")
				return domain.ErrUnauthorized
			}
		case pingFatal:
			c.fatal(ctx, "authorization revoked")
			return domain.ErrUnauthorized
		}

		timer.Reset(c.interval())
	}
}

type pingResult int

const (
	pingOK pingResult = iota
	pingFailed
	pingFatal
)

// ping sends one heartbeat and folds the response into a result.
func (c *Client) ping(ctx context.Context) pingResult {
	var resp pingResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/ping", "", pingRequest{SessionID: c.SessionID()}, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return pingFailed
		}
		c.logger.Warn("heartbeat transport error", slog.String("error", err.Error()))
		return pingFailed
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return pingFatal
	}
	if status != http.StatusOK {
		return pingFailed
	}
	if !resp.Alive {
		c.logger.Warn("server reports session not alive")
		return pingFailed
	}

	if resp.ConfigVersion > c.params.Version() {
		c.refetchConfig(ctx)
	}
	return pingOK
}

// refetchConfig pulls the new snapshot after a version bump. The session
// id rides along so the server refreshes the existing session instead of
// issuing a new one. Exactly one snapshot swap and one callback round
// happen per accepted version.
func (c *Client) refetchConfig(ctx context.Context) {
	var resp configResponse
	status, err := c.doJSON(ctx, http.MethodGet, "/config", c.SessionID(), nil, &resp)
	if err != nil || status != http.StatusOK {
		c.logger.Warn("config refetch failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
		return
	}
	if err := resp.Config.Validate(); err != nil {
		c.logger.Warn("config refetch rejected", slog.String("error", err.Error()))
		return
	}
	if resp.Config.ConfigVersion <= c.params.Version() {
		return
	}

	params := resp.Config
	c.params.Store(&params)

	c.logger.Info("trading parameters updated",
		slog.Int("config_version", params.ConfigVersion))

	c.mu.Lock()
	cbs := make([]func(*config.TradingParams), len(c.updateCbs))
	copy(cbs, c.updateCbs)
	c.mu.Unlock()

	for _, fn := range cbs {
		fn(&params)
	}
}

// Verify performs the synchronous pre-trade check. A denial with
// action=restart or an auth status means the authorization is gone for
// good and trips the fatal path; any other failure only denies this one
// attempt.
func (c *Client) Verify(ctx context.Context) error {
	var resp verifyResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/verify", "", verifyRequest{SessionID: c.SessionID()}, &resp)
	if err != nil {
		return fmt.Errorf("authz: verify: %w", err)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		if resp.Action == "restart" {
			c.fatal(ctx, "verification demanded restart")
		} else {
			c.fatal(ctx, "verification unauthorized")
		}
		return fmt.Errorf("authz: verify: %w", domain.ErrUnauthorized)
	}
	if resp.Verified {
		return nil
	}
	if resp.Action == "restart" {
		c.fatal(ctx, "verification demanded restart")
		return fmt.Errorf("authz: verify: %w", domain.ErrUnauthorized)
	}
	if resp.Error != "" {
		return fmt.Errorf("authz: verify: %s: %w", resp.Error, domain.ErrVerifyDenied)
	}
	return fmt.Errorf("authz: verify: %w", domain.ErrVerifyDenied)
}

// fatal runs the shutdown callbacks once, waits out the grace delay and
// terminates the process through the injected exit func.
func (c *Client) fatal(ctx context.Context, reason string) {
	c.fatalOnce.Do(func() {
		c.logger.Error("authorization lost, shutting down", slog.String("reason", reason))

		c.mu.Lock()
		cbs := make([]func(), len(c.shutdownCbs))
		copy(cbs, c.shutdownCbs)
		c.mu.Unlock()

		for _, fn := range cbs {
			fn()
		}

		if c.exitGrace > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.exitGrace):
			}
		}
		c.exit(1)
	})
}

// interval converts the snapshot heartbeat setting to a duration, with a
// conservative fallback before the first snapshot lands.
func (c *Client) interval() time.Duration {
	p := c.params.Load()
	if p == nil || p.HeartbeatInterval <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.HeartbeatInterval * float64(time.Second))
}

// doJSON issues one request with bearer auth and decodes the JSON reply.
// The body is decoded even on non-2xx statuses so callers can inspect
// error payloads.
func (c *Client) doJSON(ctx context.Context, method, path, sessionID string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(sessionHeader, sessionID)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
