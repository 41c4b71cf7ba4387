package splatnet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyLeavesAbsentFieldsUntouched(t *testing.T) {
	creds := NewCredentials(Update{
		SessionToken: "session-1",
		GToken:       "gtoken-1",
		BulletToken:  "bullet-1",
		Nickname:     "woomy",
	})

	creds.apply(Update{BulletToken: "bullet-2"})

	snap := creds.Snapshot()
	assert.Equal(t, "session-1", snap.SessionToken)
	assert.Equal(t, "gtoken-1", snap.GToken)
	assert.Equal(t, "bullet-2", snap.BulletToken)
	assert.Equal(t, "woomy", snap.Nickname)
}

func TestApplyStampsLastUpdated(t *testing.T) {
	creds := NewCredentials(Update{})
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	creds.now = func() time.Time { return fixed }

	creds.apply(Update{SessionToken: "s"})
	assert.Equal(t, fixed, creds.Snapshot().LastUpdated)
}

func TestResetClearsDerivedChain(t *testing.T) {
	creds := NewCredentials(Update{
		SessionToken: "session-1",
		AccessToken:  "access-1",
		GToken:       "gtoken-1",
		BulletToken:  "bullet-1",
	})

	creds.reset("session-2")

	snap := creds.Snapshot()
	assert.Equal(t, "session-2", snap.SessionToken)
	assert.Empty(t, snap.AccessToken)
	assert.Empty(t, snap.GToken)
	assert.Empty(t, snap.BulletToken)
	assert.True(t, creds.HasSessionToken())
	assert.False(t, creds.HasBulletToken())
}
