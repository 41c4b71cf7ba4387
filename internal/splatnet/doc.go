// Package splatnet maintains the SplatNet3 credential chain and executes
// GraphQL calls against the service, transparently recovering from token
// expiry.
//
// The chain is strictly ordered: session_token (interactive login, long
// lived) → access_token → g_token → bullet_token (short lived, required on
// every call). Coordinator owns all mutation and serializes refreshes so
// that N concurrent callers hitting an expired bullet_token cost exactly one
// network round-trip; Client wraps outbound calls with a single
// refresh-and-retry on auth failure.
//
// Failures form a closed set of kinds (ErrSessionExpired,
// ErrMembershipRequired, ErrBulletToken, ErrTokenRefresh, ErrNetwork) so
// callers can branch between "re-login required", "account action required"
// and "retry later" with errors.Is.
package splatnet
