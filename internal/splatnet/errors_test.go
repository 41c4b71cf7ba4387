package splatnet

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorSentinelMatching(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		sentinel   error
		classified bool
	}{
		{"session expired", &SessionExpiredError{Cause: errors.New("invalid_grant")}, ErrSessionExpired, true},
		{"membership required", &MembershipRequiredError{Nickname: "woomy"}, ErrMembershipRequired, true},
		{"bullet token", &BulletTokenError{StatusCode: BulletStatusOutdatedClient}, ErrBulletToken, true},
		{"network", &NetworkError{Cause: errors.New("refused")}, ErrNetwork, true},
		{"token refresh", &TokenRefreshError{Cause: errors.New("odd")}, ErrTokenRefresh, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.classified, IsClassified(tt.err))

			// Matching survives further wrapping.
			wrapped := fmt.Errorf("handling request: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.classified, IsClassified(wrapped))
		})
	}
}

func TestBulletTokenErrorMessages(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{BulletStatusStaleGameToken, "invalid game web token"},
		{BulletStatusOutdatedClient, "client version outdated"},
		{BulletStatusEmptyResponse, "user not registered"},
		{BulletStatusUserBanned, "user banned"},
		{418, "unexpected response"},
	}

	for _, tt := range tests {
		err := &BulletTokenError{StatusCode: tt.status}
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestErrorKindsAreDistinct(t *testing.T) {
	assert.NotErrorIs(t, &SessionExpiredError{}, ErrTokenRefresh)
	assert.NotErrorIs(t, &NetworkError{}, ErrBulletToken)
	assert.NotErrorIs(t, &TokenRefreshError{}, ErrSessionExpired)
}
