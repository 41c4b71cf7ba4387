package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zalando/go-keyring"
)

// KeyringStore persists the credential record as a JSON secret in OS-native
// storage (macOS Keychain, Windows Credential Manager, Linux Secret Service).
type KeyringStore struct {
	service string
	user    string
	now     func() time.Time
}

// Compile-time check to ensure KeyringStore implements TokenStore
var _ TokenStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore using the given service and user
// identifiers.
func NewKeyringStore(service, user string) (*KeyringStore, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringStore{
		service: service,
		user:    user,
		now:     time.Now,
	}, nil
}

// Load returns the stored record. An absent or unparseable secret is a cold
// start, reported as (nil, nil).
func (k *KeyringStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	secret, err := keyring.Get(k.service, k.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(secret), &rec); err != nil {
		slog.Warn("ignoring unparseable keyring credential", "service", k.service, "error", err)
		return nil, nil
	}
	return &rec, nil
}

// Save persists the record to the system keyring, overwriting any existing
// secret.
func (k *KeyringStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	stamped := *rec
	stamped.UpdatedAt = k.now().UTC()

	data, err := json.Marshal(&stamped)
	if err != nil {
		return err
	}

	return keyring.Set(k.service, k.user, string(data))
}
