// Package venue provides a generic HTTP adapter for venues exposing a
// plain JSON quote/order/close/position/balance API.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/quantfell/pairbot/internal/config"
	"github.com/quantfell/pairbot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	openRetries    = 3
	openRetryDelay = 500 * time.Millisecond
)

// RESTAdapter implements domain.VenueAdapter against a bearer-token JSON
// API. All calls pass through a client-side rate limiter so a hot monitor
// loop cannot trip the venue's request limits.
type RESTAdapter struct {
	name    string
	token   string
	httpc   *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.RWMutex
	baseURL string
	symbol  string
}

// Options configures a RESTAdapter.
type Options struct {
	Name      string
	BaseURL   string
	Token     string
	RateLimit float64 // requests per second
	RateBurst int
	Timeout   time.Duration
}

// New creates a RESTAdapter.
func New(opts Options, logger *slog.Logger) *RESTAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateBurst < 1 {
		opts.RateBurst = 1
	}

	return &RESTAdapter{
		name:    opts.Name,
		token:   opts.Token,
		httpc:   &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		baseURL: opts.BaseURL,
		logger:  logger.With(slog.String("component", "venue"), slog.String("venue", opts.Name)),
	}
}

// Name returns the venue identifier.
func (a *RESTAdapter) Name() string {
	return a.name
}

// ApplyParams folds per-venue overrides from a parameter snapshot into the
// adapter. Used by the config-update callback for hot endpoint swaps.
func (a *RESTAdapter) ApplyParams(p config.VenueParams) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.BaseURL != "" && p.BaseURL != a.baseURL {
		a.logger.Info("venue endpoint updated", slog.String("base_url", p.BaseURL))
		a.baseURL = p.BaseURL
	}
	if p.Symbol != "" {
		a.symbol = p.Symbol
	}
}

type quoteReply struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
	Mid float64 `json:"mid"`
}

type orderRequest struct {
	Symbol     string  `json:"symbol,omitempty"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price"`
	Leverage   float64 `json:"leverage,omitempty"`
	Collateral float64 `json:"collateral,omitempty"`
}

type orderReply struct {
	OrderRef  string  `json:"order_ref"`
	Confirmed bool    `json:"confirmed"`
	FillPrice float64 `json:"fill_price"`
}

type closeReply struct {
	OrderRef string `json:"order_ref"`
	Status   string `json:"status"`
}

type positionReply struct {
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
	OpenedAt   string  `json:"opened_at"`
}

type balanceReply struct {
	Balance float64 `json:"balance"`
}

// GetQuote fetches top-of-book for the given quantity.
func (a *RESTAdapter) GetQuote(ctx context.Context, quantity float64) (domain.Quote, error) {
	var reply quoteReply
	path := "/quote?quantity=" + strconv.FormatFloat(quantity, 'f', -1, 64)
	if sym := a.currentSymbol(); sym != "" {
		path += "&symbol=" + sym
	}
	status, err := a.do(ctx, http.MethodGet, path, nil, &reply)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("venue %s: quote: %w", a.name, err)
	}
	if status != http.StatusOK {
		return domain.Quote{}, fmt.Errorf("venue %s: quote: status %d: %w", a.name, status, domain.ErrQuoteUnavailable)
	}

	mid := reply.Mid
	if mid <= 0 {
		mid = (reply.Bid + reply.Ask) / 2
	}
	return domain.Quote{
		Bid:       reply.Bid,
		Ask:       reply.Ask,
		Mid:       mid,
		SampledAt: time.Now().UTC(),
	}, nil
}

// Open places an order. Transient failures are retried a bounded number
// of times with a fixed delay; the retry budget exists because an entry
// is racing its paired leg on the other venue.
func (a *RESTAdapter) Open(ctx context.Context, req domain.OpenRequest) (domain.OrderAck, error) {
	body := orderRequest{
		Symbol:     a.currentSymbol(),
		Side:       string(req.Side),
		Quantity:   req.Quantity,
		Price:      req.Price,
		Leverage:   req.Leverage,
		Collateral: req.Collateral,
	}

	var lastErr error
	for attempt := 1; attempt <= openRetries; attempt++ {
		var reply orderReply
		status, err := a.do(ctx, http.MethodPost, "/orders", body, &reply)
		switch {
		case err != nil:
			lastErr = err
		case status == http.StatusOK || status == http.StatusCreated:
			return domain.OrderAck{
				OrderRef:  reply.OrderRef,
				Confirmed: reply.Confirmed,
				FillPrice: reply.FillPrice,
			}, nil
		case status >= 400 && status < 500:
			// The venue rejected the order outright; retrying the same
			// request cannot succeed.
			return domain.OrderAck{}, fmt.Errorf("venue %s: open: status %d: %w", a.name, status, domain.ErrVenueRejected)
		default:
			lastErr = fmt.Errorf("status %d", status)
		}

		if attempt < openRetries {
			a.logger.Warn("open attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return domain.OrderAck{}, ctx.Err()
			case <-time.After(openRetryDelay):
			}
		}
	}
	return domain.OrderAck{}, fmt.Errorf("venue %s: open: %w", a.name, lastErr)
}

// Close flattens the venue's position. A 404 or an already_closed status
// means there was nothing to close, which callers treat as success.
func (a *RESTAdapter) Close(ctx context.Context) (domain.CloseResult, error) {
	var reply closeReply
	status, err := a.do(ctx, http.MethodPost, "/close", struct{}{}, &reply)
	if err != nil {
		return domain.CloseResult{}, fmt.Errorf("venue %s: close: %w", a.name, err)
	}
	if status == http.StatusNotFound || reply.Status == "already_closed" {
		return domain.CloseResult{AlreadyClosed: true}, nil
	}
	if status != http.StatusOK {
		return domain.CloseResult{}, fmt.Errorf("venue %s: close: status %d: %w", a.name, status, domain.ErrVenueRejected)
	}
	return domain.CloseResult{OrderRef: reply.OrderRef}, nil
}

// GetOpenPosition returns the venue's open position, or nil when flat.
func (a *RESTAdapter) GetOpenPosition(ctx context.Context) (*domain.VenuePosition, error) {
	var reply positionReply
	status, err := a.do(ctx, http.MethodGet, "/position", nil, &reply)
	if err != nil {
		return nil, fmt.Errorf("venue %s: position: %w", a.name, err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("venue %s: position: status %d: %w", a.name, status, domain.ErrVenueRejected)
	}
	if reply.Quantity == 0 {
		return nil, nil
	}

	pos := &domain.VenuePosition{
		Side:       domain.Side(reply.Side),
		Quantity:   reply.Quantity,
		EntryPrice: reply.EntryPrice,
	}
	if t, err := time.Parse(time.RFC3339, reply.OpenedAt); err == nil {
		pos.OpenedAt = t
	}
	return pos, nil
}

// GetBalance returns the venue account balance.
func (a *RESTAdapter) GetBalance(ctx context.Context) (float64, error) {
	var reply balanceReply
	status, err := a.do(ctx, http.MethodGet, "/balance", nil, &reply)
	if err != nil {
		return 0, fmt.Errorf("venue %s: balance: %w", a.name, err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("venue %s: balance: status %d: %w", a.name, status, domain.ErrVenueRejected)
	}
	return reply.Balance, nil
}

func (a *RESTAdapter) currentSymbol() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.symbol
}

// do waits for a limiter slot, issues the request and decodes the reply.
// Non-2xx statuses are returned to the caller, not turned into errors, so
// each endpoint can apply its own semantics (404 means flat, etc).
func (a *RESTAdapter) do(ctx context.Context, method, path string, in, out any) (int, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	a.mu.RLock()
	url := a.baseURL + path
	a.mu.RUnlock()

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNotFound {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
