package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginSessionsTakeOnce(t *testing.T) {
	sessions := newLoginSessions()

	state := sessions.add("verifier-1")
	require.NotEmpty(t, state)

	verifier, ok := sessions.take(state)
	require.True(t, ok)
	assert.Equal(t, "verifier-1", verifier)

	_, ok = sessions.take(state)
	assert.False(t, ok)
}

func TestLoginSessionsDistinctStates(t *testing.T) {
	sessions := newLoginSessions()
	assert.NotEqual(t, sessions.add("a"), sessions.add("b"))
}

func TestLoginSessionsExpiry(t *testing.T) {
	sessions := newLoginSessions()

	base := time.Now()
	sessions.now = func() time.Time { return base }
	state := sessions.add("verifier-1")

	sessions.now = func() time.Time { return base.Add(loginSessionTTL + time.Second) }
	_, ok := sessions.take(state)
	assert.False(t, ok, "a pending login past the TTL must be discarded")
}
