package splatnet

import (
	"errors"
	"fmt"
)

// Sentinel errors for the closed set of credential failure kinds. Callers
// branch with errors.Is against these; the struct types below carry the
// per-kind detail and unwrap to their sentinel.
var (
	// ErrSessionExpired indicates the long-lived session token was rejected
	// upstream. Recovery requires a new interactive login.
	ErrSessionExpired = errors.New("splatnet: session token expired")

	// ErrMembershipRequired indicates the Nintendo Switch Online membership
	// backing the account has lapsed. Recovery is an external account action.
	ErrMembershipRequired = errors.New("splatnet: online membership required")

	// ErrBulletToken indicates bullet token issuance failed. The wrapped
	// BulletTokenError carries the upstream status code that disambiguates
	// the cause.
	ErrBulletToken = errors.New("splatnet: bullet token issuance failed")

	// ErrTokenRefresh indicates an unclassified refresh failure. Safe to
	// retry later.
	ErrTokenRefresh = errors.New("splatnet: token refresh failed")

	// ErrNetwork indicates a transport failure, not an auth failure.
	ErrNetwork = errors.New("splatnet: network error")
)

// SessionExpiredError reports a rejected session token.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause != nil {
		return ErrSessionExpired.Error() + ": " + e.Cause.Error()
	}
	return ErrSessionExpired.Error()
}

func (e *SessionExpiredError) Unwrap() error { return ErrSessionExpired }

// MembershipRequiredError reports a lapsed NSO membership for the account.
type MembershipRequiredError struct {
	Nickname string
}

func (e *MembershipRequiredError) Error() string {
	if e.Nickname != "" {
		return fmt.Sprintf("%s (account %q)", ErrMembershipRequired.Error(), e.Nickname)
	}
	return ErrMembershipRequired.Error()
}

func (e *MembershipRequiredError) Unwrap() error { return ErrMembershipRequired }

// Upstream status codes returned by the bullet token endpoint.
const (
	BulletStatusStaleGameToken = 401 // g_token rejected, refresh it and retry once
	BulletStatusOutdatedClient = 403 // client signature/version rejected
	BulletStatusEmptyResponse  = 204 // user not registered with SplatNet3
	BulletStatusUserBanned     = 499
)

// BulletTokenError reports failed bullet token issuance. StatusCode
// disambiguates the cause per the constants above.
type BulletTokenError struct {
	StatusCode int
	Message    string
}

func (e *BulletTokenError) Error() string {
	msg := e.Message
	if msg == "" {
		switch e.StatusCode {
		case BulletStatusStaleGameToken:
			msg = "invalid game web token"
		case BulletStatusOutdatedClient:
			msg = "client version outdated"
		case BulletStatusEmptyResponse:
			msg = "user not registered"
		case BulletStatusUserBanned:
			msg = "user banned"
		default:
			msg = "unexpected response"
		}
	}
	return fmt.Sprintf("%s: %s (status=%d)", ErrBulletToken.Error(), msg, e.StatusCode)
}

func (e *BulletTokenError) Unwrap() error { return ErrBulletToken }

// TokenRefreshError wraps an unclassified refresh failure.
type TokenRefreshError struct {
	Cause error
}

func (e *TokenRefreshError) Error() string {
	if e.Cause != nil {
		return ErrTokenRefresh.Error() + ": " + e.Cause.Error()
	}
	return ErrTokenRefresh.Error()
}

func (e *TokenRefreshError) Unwrap() error { return ErrTokenRefresh }

// NetworkError wraps a transport-level failure.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return ErrNetwork.Error() + ": " + e.Cause.Error()
	}
	return ErrNetwork.Error()
}

func (e *NetworkError) Unwrap() error { return ErrNetwork }

// IsClassified reports whether err is one of the pass-through kinds that must
// reach the application boundary unconverted. TokenRefreshError is excluded:
// it is itself the wrapper for everything unclassified.
func IsClassified(err error) bool {
	return errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrMembershipRequired) ||
		errors.Is(err, ErrBulletToken) ||
		errors.Is(err, ErrNetwork)
}
