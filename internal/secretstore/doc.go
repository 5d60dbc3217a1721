// Package secretstore provides persistent storage for the key that seals the
// on-disk token cache.
//
// Supports three storage backends with different security and deployment tradeoffs:
//   - Keyring: OS-native credential storage bound to the current OS user
//     (macOS Keychain, Windows Credential Manager, Linux Secret Service)
//   - File: Local filesystem storage with atomic writes and 0600 permissions
//   - Env: Read-only environment variable access (headless hosts, CI)
//
// A missing secret is reported as ErrNotFound so callers can generate and
// store a fresh one. Read-only backends return ErrReadOnly from Write.
package secretstore
