package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// loginSessionTTL bounds how long a started interactive login may stay
// pending before the state is discarded.
const loginSessionTTL = 10 * time.Minute

type pendingLogin struct {
	verifier  string
	createdAt time.Time
}

// loginSessions tracks interactive logins between the start and callback
// steps, keyed by an opaque state id handed to the client.
type loginSessions struct {
	mu      sync.Mutex
	pending map[string]pendingLogin
	now     func() time.Time
}

func newLoginSessions() *loginSessions {
	return &loginSessions{
		pending: make(map[string]pendingLogin),
		now:     time.Now,
	}
}

// add registers a new pending login and returns its state id. Expired
// entries are swept on every mutation.
func (l *loginSessions) add(verifier string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()

	state := uuid.NewString()
	l.pending[state] = pendingLogin{verifier: verifier, createdAt: l.now()}
	return state
}

// take removes and returns the pending login for state. ok is false if state
// is unknown or expired.
func (l *loginSessions) take(state string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked()

	entry, ok := l.pending[state]
	if !ok {
		return "", false
	}
	delete(l.pending, state)
	return entry.verifier, true
}

func (l *loginSessions) sweepLocked() {
	cutoff := l.now().Add(-loginSessionTTL)
	for state, entry := range l.pending {
		if entry.createdAt.Before(cutoff) {
			delete(l.pending, state)
		}
	}
}
