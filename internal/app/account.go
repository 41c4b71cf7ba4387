package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/inkverse/inkgate/internal/nso"
	"github.com/inkverse/inkgate/internal/server"
	"github.com/inkverse/inkgate/internal/splatnet"
	"github.com/inkverse/inkgate/internal/tokenstore"
)

// Account binds one credential set to its persistent store and its auth
// provider. Every refresh the coordinator completes is written back through
// the store; a rejected session token flips the expired flag so API
// consumers know a re-login is needed.
type Account struct {
	store       tokenstore.TokenStore
	provider    nso.Provider
	coordinator *splatnet.Coordinator
	logger      *slog.Logger

	sessionExpired atomic.Bool
}

// Compile-time check that Account implements server.Account
var _ server.Account = (*Account)(nil)

// NewAccount creates an Account. No I/O is performed until Hydrate.
func NewAccount(store tokenstore.TokenStore, provider nso.Provider, logger *slog.Logger) (*Account, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if provider == nil {
		return nil, fmt.Errorf("missing auth provider")
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Account{
		store:    store,
		provider: provider,
		logger:   logger,
	}

	creds := splatnet.NewCredentials(splatnet.Update{})
	a.coordinator = splatnet.NewCoordinator(creds, provider,
		splatnet.WithTokensUpdatedFunc(a.persistTokens),
		splatnet.WithSessionExpiredFunc(a.markSessionExpired),
		splatnet.WithCoordinatorLogger(logger),
	)

	return a, nil
}

// Coordinator exposes the refresh coordinator for client construction.
func (a *Account) Coordinator() *splatnet.Coordinator { return a.coordinator }

// Hydrate seeds the credential set from the persisted record. A missing
// record is a cold start and not an error.
func (a *Account) Hydrate(ctx context.Context) error {
	rec, err := a.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading credential record: %w", err)
	}
	if rec == nil {
		a.logger.InfoContext(ctx, "no persisted credentials, starting cold")
		return nil
	}

	a.sessionExpired.Store(rec.SessionExpired)

	err = a.coordinator.Hydrate(ctx, splatnet.Update{
		SessionToken: rec.SessionToken,
		AccessToken:  rec.AccessToken,
		GToken:       rec.GToken,
		BulletToken:  rec.BulletToken,
		Nickname:     rec.Nickname,
		Lang:         rec.Lang,
		Country:      rec.Country,
	})
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "credentials hydrated",
		"nickname", rec.Nickname, "session_expired", rec.SessionExpired, "updated_at", rec.UpdatedAt)
	return nil
}

// BeginLogin starts a new interactive login.
func (a *Account) BeginLogin(ctx context.Context) (string, string, error) {
	return a.provider.BeginLogin(ctx)
}

// CompleteLogin exchanges the callback URL for a session token.
func (a *Account) CompleteLogin(ctx context.Context, callbackURL, verifier string) (string, error) {
	return a.provider.CompleteLogin(ctx, callbackURL, verifier)
}

// AdoptSessionToken installs a freshly obtained session token, rebuilds the
// derived chain, and returns the resulting status. Persistence happens via
// the coordinator's update callback.
func (a *Account) AdoptSessionToken(ctx context.Context, sessionToken string) (server.Status, error) {
	if err := a.coordinator.ResetSession(ctx, sessionToken); err != nil {
		return server.Status{}, err
	}
	a.sessionExpired.Store(false)

	if _, err := a.coordinator.EnsureFresh(ctx); err != nil {
		return server.Status{}, err
	}

	return a.Status(ctx), nil
}

// Status reports the current credential state without exposing token values.
func (a *Account) Status(ctx context.Context) server.Status {
	snap := a.coordinator.Credentials().Snapshot()
	return server.Status{
		LoggedIn:       snap.SessionToken != "",
		SessionExpired: a.sessionExpired.Load(),
		Nickname:       snap.Nickname,
		Lang:           snap.Lang,
		Country:        snap.Country,
		LastUpdated:    snap.LastUpdated,
	}
}

// persistTokens writes the refreshed snapshot back to the store. Failures
// are logged, never surfaced: the in-memory chain is valid either way, only
// the next restart loses the refresh.
func (a *Account) persistTokens(ctx context.Context, snap splatnet.Snapshot) {
	a.sessionExpired.Store(false)

	rec := &tokenstore.Record{
		SessionToken: snap.SessionToken,
		AccessToken:  snap.AccessToken,
		GToken:       snap.GToken,
		BulletToken:  snap.BulletToken,
		Nickname:     snap.Nickname,
		Lang:         snap.Lang,
		Country:      snap.Country,
	}
	if err := a.store.Save(ctx, rec); err != nil {
		a.logger.ErrorContext(ctx, "failed to persist refreshed credentials", "error", err)
		return
	}
	a.logger.InfoContext(ctx, "refreshed credentials persisted", "nickname", snap.Nickname)
}

// markSessionExpired flags the account after a refresh failed on the session
// token itself. The persisted record keeps the flag so the state survives a
// restart.
func (a *Account) markSessionExpired(ctx context.Context) {
	a.sessionExpired.Store(true)

	snap := a.coordinator.Credentials().Snapshot()
	rec := &tokenstore.Record{
		SessionToken:   snap.SessionToken,
		Nickname:       snap.Nickname,
		Lang:           snap.Lang,
		Country:        snap.Country,
		SessionExpired: true,
	}
	if err := a.store.Save(ctx, rec); err != nil {
		a.logger.ErrorContext(ctx, "failed to persist session expiry", "error", err)
	}
}
