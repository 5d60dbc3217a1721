package secretstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Read when no secret has been stored yet.
	ErrNotFound = errors.New("secretstore: secret not found")

	// ErrReadOnly is returned by Write on backends that cannot persist secrets.
	ErrReadOnly = errors.New("secretstore: storage is read-only")
)

// SecretStore reads and writes a single secret to persistent storage.
type SecretStore interface {
	// Read returns the stored secret. Returns ErrNotFound if nothing is stored.
	Read(ctx context.Context) (string, error)

	// Write persists the secret, overwriting any existing value.
	Write(ctx context.Context, secret string) error
}
