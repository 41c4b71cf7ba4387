package tokenstore

import (
	"context"
	"time"
)

// Record is the persisted credential snapshot. UpdatedAt is stamped by Save.
type Record struct {
	SessionToken   string    `json:"session_token"`
	AccessToken    string    `json:"access_token,omitempty"`
	GToken         string    `json:"g_token,omitempty"`
	BulletToken    string    `json:"bullet_token,omitempty"`
	Nickname       string    `json:"user_nickname,omitempty"`
	Lang           string    `json:"user_lang,omitempty"`
	Country        string    `json:"user_country,omitempty"`
	SessionExpired bool      `json:"session_expired,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TokenStore persists credential records across restarts.
//
// Automatic refresh requires writable storage.
type TokenStore interface {
	// Load returns the stored record, or (nil, nil) if none exists or the
	// stored data is unreadable. An absent record means cold start, not an
	// error.
	Load(ctx context.Context) (*Record, error)

	// Save persists the record, stamping UpdatedAt. Returns error if the
	// storage backend is read-only (e.g., environment variables) or the
	// write fails.
	Save(ctx context.Context, rec *Record) error
}
