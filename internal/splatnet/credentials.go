package splatnet

import (
	"sync"
	"time"
)

// Snapshot is an immutable copy of the credential chain at a point in time.
//
// Validity forms a strict chain: BulletToken is only meaningful if GToken was
// issued from a still-valid SessionToken. The refresh protocol never renews
// BulletToken without confirming GToken first when the failure indicates
// GToken staleness.
type Snapshot struct {
	SessionToken string
	AccessToken  string
	GToken       string
	BulletToken  string
	Nickname     string
	Lang         string
	Country      string
	LastUpdated  time.Time
}

// Update carries the fields a refresh produces. Empty token fields are left
// untouched by apply; SessionToken in particular survives every refresh.
type Update struct {
	SessionToken string
	AccessToken  string
	GToken       string
	BulletToken  string
	Nickname     string
	Lang         string
	Country      string
}

// Credentials is the mutable token bundle shared by one Coordinator and its
// Client. All mutation flows through the Coordinator's critical section;
// readers take snapshots.
type Credentials struct {
	mu sync.RWMutex

	sessionToken string
	accessToken  string
	gToken       string
	bulletToken  string
	nickname     string
	lang         string
	country      string
	lastUpdated  time.Time

	now func() time.Time
}

// NewCredentials creates a Credentials bundle seeded from an initial update.
// Cold start is legal: seed may carry only a session token, or nothing at all.
func NewCredentials(seed Update) *Credentials {
	c := &Credentials{now: time.Now}
	c.apply(seed)
	return c
}

// Snapshot returns a consistent copy of all fields.
func (c *Credentials) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		SessionToken: c.sessionToken,
		AccessToken:  c.accessToken,
		GToken:       c.gToken,
		BulletToken:  c.bulletToken,
		Nickname:     c.nickname,
		Lang:         c.lang,
		Country:      c.country,
		LastUpdated:  c.lastUpdated,
	}
}

// HasSessionToken reports whether the root of the dependency chain is present.
func (c *Credentials) HasSessionToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionToken != ""
}

// HasBulletToken reports whether an outbound call can be attempted at all.
func (c *Credentials) HasBulletToken() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bulletToken != ""
}

// reset replaces the session token and clears every token derived from the
// previous one, since they were issued under a different root.
func (c *Credentials) reset(sessionToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionToken = sessionToken
	c.accessToken = ""
	c.gToken = ""
	c.bulletToken = ""
	c.lastUpdated = c.now()
}

// apply overwrites the fields present in u and stamps lastUpdated. Only the
// Coordinator's critical section calls this; the internal lock exists so
// concurrent snapshot readers never observe a half-applied update.
func (c *Credentials) apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.SessionToken != "" {
		c.sessionToken = u.SessionToken
	}
	if u.AccessToken != "" {
		c.accessToken = u.AccessToken
	}
	if u.GToken != "" {
		c.gToken = u.GToken
	}
	if u.BulletToken != "" {
		c.bulletToken = u.BulletToken
	}
	if u.Nickname != "" {
		c.nickname = u.Nickname
	}
	if u.Lang != "" {
		c.lang = u.Lang
	}
	if u.Country != "" {
		c.country = u.Country
	}
	c.lastUpdated = c.now()
}
