package secretstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringStore keeps the secret in the OS-native credential store of the
// current OS user.
type KeyringStore struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringStore implements SecretStore
var _ SecretStore = (*KeyringStore)(nil)

// NewKeyringStore creates a KeyringStore addressed by service and user.
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
	}, nil
}

// Read returns the secret from the system keyring.
func (k *KeyringStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret, err := keyring.Get(k.service, k.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading keyring entry %s/%s: %w", k.service, k.user, err)
	}
	if secret == "" {
		return "", ErrNotFound
	}

	return secret, nil
}

// Write persists the secret to the system keyring, overwriting any existing value.
func (k *KeyringStore) Write(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := keyring.Set(k.service, k.user, secret); err != nil {
		return fmt.Errorf("writing keyring entry %s/%s: %w", k.service, k.user, err)
	}
	return nil
}
