// Package tokenstore provides persistent storage for credential records.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Env: Read-only session token bootstrap (requires external secret management)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//
// Automatic token refresh requires writable storage (file or keyring) so
// refreshed chains survive restarts; env storage only seeds the session
// token and forces a full chain rebuild on every start.
package tokenstore
