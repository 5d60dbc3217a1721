package secretstore

import (
	"context"
	"fmt"
	"os"
)

// EnvStore provides read-only access to a secret held in an environment variable.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements SecretStore
var _ SecretStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// The variable must be set at construction time; a sealing key cannot be
// generated into the environment.
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

// Read returns the secret from the environment variable.
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	secret := os.Getenv(e.envKey)
	if secret == "" {
		return "", fmt.Errorf("environment variable %s is empty", e.envKey)
	}
	return secret, nil
}

// Write always fails with ErrReadOnly.
func (e *EnvStore) Write(ctx context.Context, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.envKey)
}
