// Package authserver implements the authorization server the trading
// process heartbeats against. It hands out trading parameter snapshots,
// tracks sessions, answers pre-trade verification, and doubles as the
// remote kill switch: stop answering and every client shuts down.
package authserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Options holds the server's runtime settings.
type Options struct {
	Port          int
	AdminToken    string
	VerifyWindow  time.Duration
	PurgeWindow   time.Duration
	SweepInterval time.Duration
}

// Server is the HTTP authorization server.
type Server struct {
	httpServer    *http.Server
	sessions      *SessionStore
	state         *ConfigState
	hub           *Hub
	verifyWindow  time.Duration
	purgeWindow   time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
}

// NewServer wires routes, middleware and the event hub. hub may be nil.
func NewServer(opts Options, state *ConfigState, hub *Hub, logger *slog.Logger) *Server {
	s := &Server{
		sessions:      NewSessionStore(),
		state:         state,
		hub:           hub,
		verifyWindow:  opts.VerifyWindow,
		purgeWindow:   opts.PurgeWindow,
		sweepInterval: opts.SweepInterval,
		logger:        logger.With(slog.String("component", "authserver")),
	}

	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /health", s.handleHealth)

	// Client protocol.
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.HandleFunc("POST /ping", s.handlePing)
	mux.HandleFunc("POST /verify", s.handleVerify)

	// Operator endpoints.
	mux.HandleFunc("PUT /admin/config", s.handleAdminConfig)
	mux.HandleFunc("GET /admin/sessions", s.handleAdminSessions)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      authMiddleware(opts.AdminToken)(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Sessions exposes the session store for tests and status endpoints.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// Start listens until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("authserver starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("authserver: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("authserver shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("authserver: shutdown: %w", err)
	}
	return nil
}

// RunSweep purges idle sessions on the sweep interval. The purge window
// is longer than the verify window, so a session always fails
// verification before it disappears.
func (s *Server) RunSweep(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if dropped := s.sessions.Purge(s.purgeWindow); dropped > 0 {
				s.logger.Info("purged idle sessions", slog.Int("dropped", dropped))
				if s.hub != nil {
					s.hub.Publish(Event{Type: "sessions_purged"})
				}
			}
		}
	}
}

// authMiddleware validates the bearer token on every route except the
// health check. Comparison is constant-time.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			got := extractBearer(r)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusForbidden, "invalid authentication token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractBearer pulls the token from the Authorization header.
func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
