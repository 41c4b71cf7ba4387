// Package app wires configuration, the credential lifecycle, and the HTTP
// API into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/inkverse/inkgate/internal/nso"
	"github.com/inkverse/inkgate/internal/server"
	"github.com/inkverse/inkgate/internal/splatnet"
)

// App orchestrates the lifecycle of the API server and related services.
type App struct {
	cfg     *Config
	account *Account
	server  *server.Server
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Auth.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	authenticator := newAuthenticator(cfg.Upstream)

	account, err := NewAccount(store, authenticator, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	clientOpts := []splatnet.ClientOption{
		splatnet.WithWebViewVersion(authenticator.WebViewVersion),
	}
	if cfg.Upstream.ServiceBaseURL != "" {
		clientOpts = append(clientOpts, splatnet.WithBaseURL(cfg.Upstream.ServiceBaseURL))
	}
	client := splatnet.NewClient(account.Coordinator(), clientOpts...)

	apiServer, err := server.New(account, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return &App{
		cfg:     cfg,
		account: account,
		server:  apiServer,
	}, nil
}

// newAuthenticator builds the NSO authenticator from upstream configuration.
func newAuthenticator(cfg UpstreamConfig) *nso.Authenticator {
	var opts []nso.AuthenticatorOption
	if cfg.FGenURL != "" {
		opts = append(opts, nso.WithSigner(nso.NewHTTPSigner(cfg.FGenURL, nil)))
	}
	if cfg.ServiceBaseURL != "" {
		opts = append(opts, nso.WithServiceBaseURL(cfg.ServiceBaseURL))
	}
	if cfg.AppVersion != "" {
		opts = append(opts, nso.WithAppVersion(cfg.AppVersion))
	}
	if cfg.WebViewVersion != "" {
		opts = append(opts, nso.WithWebViewVersion(cfg.WebViewVersion))
	}
	return nso.NewAuthenticator(opts...)
}

// Account exposes the credential side for CLI commands.
func (a *App) Account() *Account { return a.account }

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	// Hydrate before serving so the first request doesn't race the load.
	if err := a.account.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrating credentials: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting api server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("server startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "server runtime error", "error", err)
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
