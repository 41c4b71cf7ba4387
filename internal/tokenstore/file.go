package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// FileStore provides atomic file-based credential storage with secure
// permissions. Writes use temp file + rename so no reader ever observes a
// partially written record; a crash before the rename leaves the prior valid
// file untouched.
type FileStore struct {
	filePath string
	now      func() time.Time
}

// Compile-time check to ensure FileStore implements TokenStore
var _ TokenStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent
// directories with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
		now:      time.Now,
	}, nil
}

// Load returns the stored record. A missing or unparseable file is a cold
// start, reported as (nil, nil).
func (f *FileStore) Load(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("ignoring unparseable credential cache", "path", f.filePath, "error", err)
		return nil, nil
	}
	return &rec, nil
}

// Save atomically persists the record using temp file + rename for crash
// safety, with 0600 permissions (owner read/write only).
func (f *FileStore) Save(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	stamped := *rec
	stamped.UpdatedAt = f.now().UTC()

	data, err := json.MarshalIndent(&stamped, "", "  ")
	if err != nil {
		return err
	}

	// Temp file in the same directory so the rename stays on one filesystem
	// and remains atomic.
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	return os.Rename(tempName, f.filePath)
}
