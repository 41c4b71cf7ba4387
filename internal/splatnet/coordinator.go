package splatnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Profile carries the account fields returned alongside the game token.
type Profile struct {
	Nickname string
	Lang     string
	Country  string
}

// GameTokens is the result of a game token exchange.
type GameTokens struct {
	AccessToken string
	GToken      string
	Profile     Profile
}

// TokenExchanger performs the network token-exchange steps of a refresh.
// Implemented by nso.Authenticator; narrow on purpose so tests fake it.
type TokenExchanger interface {
	// ExchangeForGameToken derives a fresh access token and g_token from the
	// session token. Fails with *SessionExpiredError if the session token is
	// rejected, or *MembershipRequiredError if the account lacks the
	// entitlement for a game-scoped ticket.
	ExchangeForGameToken(ctx context.Context, sessionToken string) (GameTokens, error)

	// ExchangeForAPIToken derives a bullet token from the g_token. Fails with
	// *BulletTokenError whose status code disambiguates the cause.
	ExchangeForAPIToken(ctx context.Context, gToken string) (string, error)
}

// refreshCycle is the shared future for one in-flight refresh. Waiters hold a
// reference and block on done; result and err are written exactly once before
// done is closed.
type refreshCycle struct {
	done   chan struct{}
	result Snapshot
	err    error
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithTokensUpdatedFunc registers a callback invoked at most once per
// successful refresh, after all locks are released. Errors and panics from
// the callback are logged and never affect the refresh outcome.
func WithTokensUpdatedFunc(fn func(context.Context, Snapshot)) CoordinatorOption {
	return func(c *Coordinator) { c.onTokensUpdated = fn }
}

// WithSessionExpiredFunc registers a callback fired when a refresh fails with
// ErrSessionExpired, so the owner can flag the account for re-login. Isolated
// like the update callback.
func WithSessionExpiredFunc(fn func(context.Context)) CoordinatorOption {
	return func(c *Coordinator) { c.onSessionExpired = fn }
}

// WithCoordinatorLogger sets the logger. Defaults to slog.Default().
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// Coordinator serializes credential refreshes for one Credentials bundle.
//
// The mutex guards only the in-flight cycle pointer; it is deliberately
// released while the network exchanges run. Single-flight is enforced by the
// cycle itself: late arrivals wait on the shared future and observe the
// actual published snapshot or error, never an assumed success. Credentials
// mutation happens only on the winner's success path, so the bundle moves
// atomically from one consistent chain to the next.
type Coordinator struct {
	creds    *Credentials
	provider TokenExchanger
	logger   *slog.Logger

	onTokensUpdated  func(context.Context, Snapshot)
	onSessionExpired func(context.Context)

	mu       chan struct{} // buffered-1 channel used as the mutex
	inflight *refreshCycle
}

// NewCoordinator creates a Coordinator owning creds. provider may be nil, in
// which case EnsureFresh always fails fast (simple mode: fixed tokens only).
func NewCoordinator(creds *Credentials, provider TokenExchanger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		creds:    creds,
		provider: provider,
		logger:   slog.Default(),
		mu:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Credentials returns the bundle this coordinator owns.
func (c *Coordinator) Credentials() *Credentials { return c.creds }

// CanRefresh reports whether a refresh could possibly succeed: a provider is
// bound and a session token is present. Checked without the coordinator lock.
func (c *Coordinator) CanRefresh() bool {
	return c.provider != nil && c.creds.HasSessionToken()
}

// lock acquires the coordinator mutex, honoring ctx cancellation.
func (c *Coordinator) lock(ctx context.Context) error {
	select {
	case c.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) unlock() { <-c.mu }

// EnsureFresh brings the credential chain to a usable state and returns the
// resulting snapshot. Concurrent callers share a single network round-trip.
//
// Classified errors (*SessionExpiredError, *MembershipRequiredError,
// *BulletTokenError, *NetworkError) propagate unchanged; anything else is
// wrapped once as *TokenRefreshError.
func (c *Coordinator) EnsureFresh(ctx context.Context) (Snapshot, error) {
	// Fast path, no lock: a call that cannot succeed should not contend.
	if !c.CanRefresh() {
		return Snapshot{}, &TokenRefreshError{Cause: errors.New("no session token or auth provider bound")}
	}

	if err := c.lock(ctx); err != nil {
		return Snapshot{}, err
	}

	if cycle := c.inflight; cycle != nil {
		c.unlock()
		// A refresh is already running; wait for its published result. A
		// canceled waiter detaches without disturbing the winner or the
		// other waiters.
		select {
		case <-cycle.done:
			return cycle.result, cycle.err
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}

	cycle := &refreshCycle{done: make(chan struct{})}
	c.inflight = cycle
	c.unlock()

	snap, err := c.runRefresh(ctx, cycle)

	if err == nil && c.onTokensUpdated != nil {
		// Outside every lock; the refresh outcome is already published.
		c.invokeTokensUpdated(ctx, snap)
	}
	if err != nil && errors.Is(err, ErrSessionExpired) && c.onSessionExpired != nil {
		c.invokeSessionExpired(ctx)
	}

	return snap, err
}

// Hydrate seeds the credential bundle from persisted state. It refuses to
// race an in-flight refresh.
func (c *Coordinator) Hydrate(ctx context.Context, u Update) error {
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	if c.inflight != nil {
		return errors.New("refresh in progress")
	}
	c.creds.apply(u)
	return nil
}

// ResetSession installs a freshly issued session token and discards the
// derived chain, forcing the next refresh to rebuild it from the new root.
func (c *Coordinator) ResetSession(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return errors.New("empty session token")
	}
	if err := c.lock(ctx); err != nil {
		return err
	}
	defer c.unlock()
	if c.inflight != nil {
		return errors.New("refresh in progress")
	}
	c.creds.reset(sessionToken)
	return nil
}

// runRefresh performs the network sequence as the winning caller and
// publishes the outcome to cycle. The deferred publish runs on every exit
// path, so the coordinator always returns to idle even if the exchange
// panics or the winner is canceled mid-flight.
func (c *Coordinator) runRefresh(ctx context.Context, cycle *refreshCycle) (snap Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TokenRefreshError{Cause: fmt.Errorf("refresh panic: %v", r)}
		}
		err = c.classify(err)

		// Re-acquire briefly to apply and publish. Acquisition must not be
		// abandoned on cancellation here or waiters would hang, so block on
		// the bare channel.
		c.mu <- struct{}{}
		if err == nil {
			c.creds.apply(snap.toUpdate())
			snap = c.creds.Snapshot()
		}
		cycle.result, cycle.err = snap, err
		c.inflight = nil
		close(cycle.done)
		c.unlock()
	}()

	cur := c.creds.Snapshot()
	sessionToken := cur.SessionToken

	var game GameTokens
	gToken := cur.GToken

	// An absent g_token means the chain below session_token has never been
	// built (cold start) or was discarded; rebuild it first.
	if gToken == "" {
		game, err = c.provider.ExchangeForGameToken(ctx, sessionToken)
		if err != nil {
			return Snapshot{}, err
		}
		gToken = game.GToken
	}

	bullet, err := c.provider.ExchangeForAPIToken(ctx, gToken)
	if err != nil {
		var bulletErr *BulletTokenError
		if !errors.As(err, &bulletErr) || bulletErr.StatusCode != BulletStatusStaleGameToken {
			return Snapshot{}, err
		}
		// 401 from the bullet endpoint means the g_token itself went stale.
		// Exactly one extra game token cycle, then give up.
		c.logger.InfoContext(ctx, "bullet token rejected, refreshing game token", "status", bulletErr.StatusCode)
		game, err = c.provider.ExchangeForGameToken(ctx, sessionToken)
		if err != nil {
			return Snapshot{}, err
		}
		gToken = game.GToken
		bullet, err = c.provider.ExchangeForAPIToken(ctx, gToken)
		if err != nil {
			return Snapshot{}, err
		}
	}

	return Snapshot{
		SessionToken: sessionToken,
		AccessToken:  game.AccessToken,
		GToken:       gToken,
		BulletToken:  bullet,
		Nickname:     game.Profile.Nickname,
		Lang:         game.Profile.Lang,
		Country:      game.Profile.Country,
	}, nil
}

// classify wraps unclassified failures as *TokenRefreshError while letting
// the closed error set, context errors, and nil through untouched.
func (c *Coordinator) classify(err error) error {
	if err == nil || IsClassified(err) {
		return err
	}
	if errors.Is(err, ErrTokenRefresh) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TokenRefreshError{Cause: err}
}

func (c *Coordinator) invokeTokensUpdated(ctx context.Context, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "tokens updated callback panicked", "panic", r)
		}
	}()
	c.onTokensUpdated(ctx, snap)
}

func (c *Coordinator) invokeSessionExpired(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "session expired callback panicked", "panic", r)
		}
	}()
	c.onSessionExpired(ctx)
}

// toUpdate converts a refreshed snapshot into the partial update applied to
// the credential bundle.
func (s Snapshot) toUpdate() Update {
	return Update{
		SessionToken: s.SessionToken,
		AccessToken:  s.AccessToken,
		GToken:       s.GToken,
		BulletToken:  s.BulletToken,
		Nickname:     s.Nickname,
		Lang:         s.Lang,
		Country:      s.Country,
	}
}
