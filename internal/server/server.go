// Package server exposes the credential lifecycle and SplatNet3 data over a
// small local HTTP API: interactive login (start/callback), account status,
// and the battle/coop/schedule queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Account is the credential side of the application: interactive login and
// chain status. Implemented by app.Account.
type Account interface {
	// BeginLogin returns the authorization URL and the PKCE verifier for a
	// new interactive login.
	BeginLogin(ctx context.Context) (authorizationURL, verifier string, err error)

	// CompleteLogin exchanges the callback URL for a session token.
	CompleteLogin(ctx context.Context, callbackURL, verifier string) (string, error)

	// AdoptSessionToken installs a freshly obtained session token, rebuilds
	// the derived chain, and persists the result.
	AdoptSessionToken(ctx context.Context, sessionToken string) (Status, error)

	// Status reports the current credential state.
	Status(ctx context.Context) Status
}

// DataAPI is the SplatNet3 query surface the server exposes. Implemented by
// splatnet.Client.
type DataAPI interface {
	LatestBattles(ctx context.Context) (json.RawMessage, error)
	BattleDetail(ctx context.Context, battleID string) (json.RawMessage, error)
	CoopHistory(ctx context.Context) (json.RawMessage, error)
	CoopDetail(ctx context.Context, coopID string) (json.RawMessage, error)
	Schedule(ctx context.Context) (json.RawMessage, error)
	Friends(ctx context.Context) (json.RawMessage, error)
	HistoryRecord(ctx context.Context) (json.RawMessage, error)
}

// Status describes the account's credential state for API consumers. Token
// values themselves are never exposed.
type Status struct {
	LoggedIn       bool      `json:"logged_in"`
	SessionExpired bool      `json:"session_expired"`
	Nickname       string    `json:"nickname,omitempty"`
	Lang           string    `json:"lang,omitempty"`
	Country        string    `json:"country,omitempty"`
	LastUpdated    time.Time `json:"last_updated,omitzero"`
}

// Server is the local HTTP API server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server

	account Account
	data    DataAPI
	logins  *loginSessions
	logger  *slog.Logger
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// New creates a Server over the given account and data surfaces.
func New(account Account, data DataAPI, opts ...ServerOption) (*Server, error) {
	if account == nil {
		return nil, errors.New("missing account service")
	}
	if data == nil {
		return nil, errors.New("missing data api")
	}

	s := &Server{
		account: account,
		data:    data,
		logins:  newLoginSessions(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.handleLoginStart)
	mux.HandleFunc("POST /auth/callback", s.handleLoginCallback)
	mux.HandleFunc("GET /auth/status", s.handleStatus)
	mux.HandleFunc("GET /api/battles/latest", s.dataHandler(s.data.LatestBattles))
	mux.HandleFunc("GET /api/battles/{id}", s.dataDetailHandler(s.data.BattleDetail))
	mux.HandleFunc("GET /api/coop", s.dataHandler(s.data.CoopHistory))
	mux.HandleFunc("GET /api/coop/{id}", s.dataDetailHandler(s.data.CoopDetail))
	mux.HandleFunc("GET /api/schedule", s.dataHandler(s.data.Schedule))
	mux.HandleFunc("GET /api/friends", s.dataHandler(s.data.Friends))
	mux.HandleFunc("GET /api/history", s.dataHandler(s.data.HistoryRecord))

	s.mux = mux
	return s, nil
}

// ServeHTTP implements http.Handler with logging and recovery applied.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	applyMiddlewares(s.mux,
		Logging(s.logger),
		Recovery,
	).ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create the listener synchronously so port-in-use errors surface now.
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.server = &http.Server{
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // Data queries may drive a full refresh chain upstream
		IdleTimeout:  90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
