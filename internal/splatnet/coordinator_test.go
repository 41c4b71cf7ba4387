package splatnet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger is a scriptable TokenExchanger with call counters.
type fakeExchanger struct {
	gameCalls   atomic.Int64
	bulletCalls atomic.Int64

	gameFunc   func(ctx context.Context, sessionToken string) (GameTokens, error)
	bulletFunc func(ctx context.Context, gToken string) (string, error)
}

func (f *fakeExchanger) ExchangeForGameToken(ctx context.Context, sessionToken string) (GameTokens, error) {
	f.gameCalls.Add(1)
	if f.gameFunc != nil {
		return f.gameFunc(ctx, sessionToken)
	}
	return GameTokens{
		AccessToken: "access-1",
		GToken:      "gtoken-1",
		Profile:     Profile{Nickname: "woomy", Lang: "en-US", Country: "US"},
	}, nil
}

func (f *fakeExchanger) ExchangeForAPIToken(ctx context.Context, gToken string) (string, error) {
	f.bulletCalls.Add(1)
	if f.bulletFunc != nil {
		return f.bulletFunc(ctx, gToken)
	}
	return "bullet-1", nil
}

func TestEnsureFreshColdStart(t *testing.T) {
	creds := NewCredentials(Update{SessionToken: "session-1"})
	provider := &fakeExchanger{}
	coord := NewCoordinator(creds, provider)

	snap, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "session-1", snap.SessionToken)
	assert.Equal(t, "access-1", snap.AccessToken)
	assert.Equal(t, "gtoken-1", snap.GToken)
	assert.Equal(t, "bullet-1", snap.BulletToken)
	assert.Equal(t, "woomy", snap.Nickname)
	assert.False(t, snap.LastUpdated.IsZero())

	assert.EqualValues(t, 1, provider.gameCalls.Load())
	assert.EqualValues(t, 1, provider.bulletCalls.Load())
}

func TestEnsureFreshBulletOnlyWhenGameTokenHeld(t *testing.T) {
	creds := NewCredentials(Update{
		SessionToken: "session-1",
		AccessToken:  "access-0",
		GToken:       "gtoken-0",
	})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			return "bullet-for-" + gToken, nil
		},
	}
	coord := NewCoordinator(creds, provider)

	snap, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err)

	// The held g_token is reused; only the bullet token is renewed.
	assert.EqualValues(t, 0, provider.gameCalls.Load())
	assert.EqualValues(t, 1, provider.bulletCalls.Load())
	assert.Equal(t, "gtoken-0", snap.GToken)
	assert.Equal(t, "bullet-for-gtoken-0", snap.BulletToken)
}

func TestEnsureFreshSingleFlight(t *testing.T) {
	const waiters = 16

	release := make(chan struct{})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			<-release
			return "bullet-1", nil
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	var wg sync.WaitGroup
	snaps := make([]Snapshot, waiters)
	errs := make([]error, waiters)
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snaps[i], errs[i] = coord.EnsureFresh(context.Background())
		}()
	}

	// Let every goroutine pile onto the in-flight cycle before releasing.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, provider.bulletCalls.Load(), "concurrent callers must share one exchange")
	for i := range waiters {
		require.NoError(t, errs[i])
		assert.Equal(t, "bullet-1", snaps[i].BulletToken)
	}
}

func TestEnsureFreshErrorSharedWithWaiters(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			<-release
			return "", &BulletTokenError{StatusCode: BulletStatusUserBanned}
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = coord.EnsureFresh(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrBulletToken, "waiters must observe the real failure, not a stale success")
	}
}

func TestEnsureFreshStaleGameTokenRetriesOnce(t *testing.T) {
	provider := &fakeExchanger{}
	provider.gameFunc = func(ctx context.Context, sessionToken string) (GameTokens, error) {
		return GameTokens{AccessToken: "access-2", GToken: "gtoken-2"}, nil
	}
	provider.bulletFunc = func(ctx context.Context, gToken string) (string, error) {
		if gToken == "gtoken-stale" {
			return "", &BulletTokenError{StatusCode: BulletStatusStaleGameToken}
		}
		return "bullet-2", nil
	}

	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-stale"})
	coord := NewCoordinator(creds, provider)

	snap, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 1, provider.gameCalls.Load())
	assert.EqualValues(t, 2, provider.bulletCalls.Load())
	assert.Equal(t, "gtoken-2", snap.GToken)
	assert.Equal(t, "bullet-2", snap.BulletToken)
}

func TestEnsureFreshStaleGameTokenGivesUpAfterOneRetry(t *testing.T) {
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			return "", &BulletTokenError{StatusCode: BulletStatusStaleGameToken}
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	_, err := coord.EnsureFresh(context.Background())
	require.Error(t, err)

	var bulletErr *BulletTokenError
	require.ErrorAs(t, err, &bulletErr)
	assert.Equal(t, BulletStatusStaleGameToken, bulletErr.StatusCode)
	assert.EqualValues(t, 1, provider.gameCalls.Load())
	assert.EqualValues(t, 2, provider.bulletCalls.Load())

	// Failure must not corrupt the bundle.
	assert.Equal(t, "gtoken-0", creds.Snapshot().GToken)
}

func TestEnsureFreshClassifiedErrorsPassThrough(t *testing.T) {
	tests := []struct {
		name     string
		gameErr  error
		sentinel error
	}{
		{
			name:     "session expired",
			gameErr:  &SessionExpiredError{Cause: errors.New("invalid_grant")},
			sentinel: ErrSessionExpired,
		},
		{
			name:     "membership required",
			gameErr:  &MembershipRequiredError{Nickname: "woomy"},
			sentinel: ErrMembershipRequired,
		},
		{
			name:     "network failure",
			gameErr:  &NetworkError{Cause: errors.New("connection refused")},
			sentinel: ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeExchanger{
				gameFunc: func(ctx context.Context, sessionToken string) (GameTokens, error) {
					return GameTokens{}, tt.gameErr
				},
			}
			coord := NewCoordinator(NewCredentials(Update{SessionToken: "s"}), provider)

			_, err := coord.EnsureFresh(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.NotErrorIs(t, err, ErrTokenRefresh, "classified errors must not be re-wrapped")
		})
	}
}

func TestEnsureFreshWrapsUnclassifiedErrors(t *testing.T) {
	provider := &fakeExchanger{
		gameFunc: func(ctx context.Context, sessionToken string) (GameTokens, error) {
			return GameTokens{}, errors.New("something odd")
		},
	}
	coord := NewCoordinator(NewCredentials(Update{SessionToken: "s"}), provider)

	_, err := coord.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRefresh)
}

func TestEnsureFreshWithoutSessionTokenFailsFast(t *testing.T) {
	provider := &fakeExchanger{}
	coord := NewCoordinator(NewCredentials(Update{}), provider)

	_, err := coord.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRefresh)
	assert.EqualValues(t, 0, provider.gameCalls.Load(), "fast path must not hit the network")
}

func TestEnsureFreshWithoutProviderFailsFast(t *testing.T) {
	coord := NewCoordinator(NewCredentials(Update{SessionToken: "s"}), nil)

	_, err := coord.EnsureFresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenRefresh)
}

func TestEnsureFreshCallbackOncePerRefresh(t *testing.T) {
	var updates atomic.Int64
	release := make(chan struct{})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			<-release
			return "bullet-1", nil
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider, WithTokensUpdatedFunc(func(ctx context.Context, snap Snapshot) {
		updates.Add(1)
	}))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = coord.EnsureFresh(context.Background())
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, updates.Load(), "one shared refresh fires one update")
}

func TestEnsureFreshCallbackPanicIsolated(t *testing.T) {
	coord := NewCoordinator(
		NewCredentials(Update{SessionToken: "session-1"}),
		&fakeExchanger{},
		WithTokensUpdatedFunc(func(ctx context.Context, snap Snapshot) {
			panic("persistence exploded")
		}),
	)

	snap, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err, "callback failures never affect the refresh outcome")
	assert.Equal(t, "bullet-1", snap.BulletToken)

	// Coordinator must be idle again.
	snap2, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bullet-1", snap2.BulletToken)
}

func TestEnsureFreshSessionExpiredCallback(t *testing.T) {
	var expired atomic.Int64
	provider := &fakeExchanger{
		gameFunc: func(ctx context.Context, sessionToken string) (GameTokens, error) {
			return GameTokens{}, &SessionExpiredError{}
		},
	}
	coord := NewCoordinator(
		NewCredentials(Update{SessionToken: "session-1"}),
		provider,
		WithSessionExpiredFunc(func(ctx context.Context) { expired.Add(1) }),
	)

	_, err := coord.EnsureFresh(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)
	assert.EqualValues(t, 1, expired.Load())
}

func TestEnsureFreshRecoversFromProviderPanic(t *testing.T) {
	boom := true
	provider := &fakeExchanger{}
	provider.bulletFunc = func(ctx context.Context, gToken string) (string, error) {
		if boom {
			boom = false
			panic("provider bug")
		}
		return "bullet-1", nil
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	_, err := coord.EnsureFresh(context.Background())
	require.ErrorIs(t, err, ErrTokenRefresh)

	// The coordinator returned to idle; the next call succeeds.
	snap, err := coord.EnsureFresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bullet-1", snap.BulletToken)
}

func TestEnsureFreshWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			<-release
			return "bullet-1", nil
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	winnerDone := make(chan error, 1)
	go func() {
		_, err := coord.EnsureFresh(context.Background())
		winnerDone <- err
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		_, err := coord.EnsureFresh(ctx)
		waiterDone <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-waiterDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled waiter did not detach")
	}

	// The winner is unaffected by the waiter's cancellation.
	close(release)
	select {
	case err := <-winnerDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("winner did not finish")
	}
}

func TestHydrateAndResetSession(t *testing.T) {
	coord := NewCoordinator(NewCredentials(Update{}), &fakeExchanger{})

	require.NoError(t, coord.Hydrate(context.Background(), Update{
		SessionToken: "session-1",
		GToken:       "gtoken-0",
		BulletToken:  "bullet-0",
	}))
	assert.True(t, coord.CanRefresh())
	assert.Equal(t, "bullet-0", coord.Credentials().Snapshot().BulletToken)

	require.NoError(t, coord.ResetSession(context.Background(), "session-2"))
	snap := coord.Credentials().Snapshot()
	assert.Equal(t, "session-2", snap.SessionToken)
	assert.Empty(t, snap.GToken, "derived tokens from the old root must be discarded")
	assert.Empty(t, snap.BulletToken)

	assert.Error(t, coord.ResetSession(context.Background(), ""))
}

func TestHydrateRefusesDuringRefresh(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeExchanger{
		bulletFunc: func(ctx context.Context, gToken string) (string, error) {
			<-release
			return "bullet-1", nil
		},
	}
	creds := NewCredentials(Update{SessionToken: "session-1", GToken: "gtoken-0"})
	coord := NewCoordinator(creds, provider)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = coord.EnsureFresh(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	assert.Error(t, coord.Hydrate(context.Background(), Update{SessionToken: "other"}))
	assert.Error(t, coord.ResetSession(context.Background(), "other"))

	close(release)
	<-done
}
