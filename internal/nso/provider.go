package nso

import (
	"context"

	"github.com/inkverse/inkgate/internal/splatnet"
)

// Provider is the full authentication capability: the one-time interactive
// login steps plus the token exchanges the refresh protocol consumes.
// Authenticator is the production implementation.
type Provider interface {
	splatnet.TokenExchanger

	// BeginLogin starts the interactive flow. It returns the authorization
	// URL the user must visit and the PKCE verifier the caller must hold on
	// to for CompleteLogin. Side effect free.
	BeginLogin(ctx context.Context) (authorizationURL, verifier string, err error)

	// CompleteLogin exchanges the npf callback URL the user pasted back for
	// the long-lived session token. Fails with *splatnet.SessionExpiredError
	// if the callback/verifier pair is invalid.
	CompleteLogin(ctx context.Context, callbackURL, verifier string) (sessionToken string, err error)
}
