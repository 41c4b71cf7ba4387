package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvStore bootstraps a session token from an environment variable. It is
// read-only: derived tokens are re-created on demand and never persisted,
// which makes this backend unsuitable when refresh results must survive
// restarts.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements TokenStore
var _ TokenStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Returns error if the variable name is empty or not set in the environment.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	if _, exists := os.LookupEnv(envKey); !exists {
		return nil, fmt.Errorf("environment variable %s not set", envKey)
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Load returns a record seeded with the session token from the environment
// variable. An empty value is a cold start, reported as (nil, nil).
func (e *EnvStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	token := strings.TrimSpace(os.Getenv(e.envKey))
	if token == "" {
		return nil, nil
	}
	return &Record{SessionToken: token}, nil
}

// Save is not supported for environment variables (they are read-only).
func (e *EnvStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("environment variable storage is read-only")
}
