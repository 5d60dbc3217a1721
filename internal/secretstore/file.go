package secretstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/florianilch/graphauth/internal/fileutil"
)

// FileStore keeps the secret in a local file readable only by its owner.
type FileStore struct {
	filePath string
}

// Compile-time check to ensure FileStore implements SecretStore
var _ SecretStore = (*FileStore)(nil)

// NewFileStore creates a FileStore for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return nil, err
	}

	return &FileStore{
		filePath: filePath,
	}, nil
}

// Read returns the stored secret after trimming whitespace. Refuses files with
// permissions other than 0600.
func (f *FileStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if info.Mode().Perm() != 0600 {
		return "", fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return "", err
	}

	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", ErrNotFound
	}
	return secret, nil
}

// Write atomically saves the secret with 0600 permissions.
func (f *FileStore) Write(ctx context.Context, secret string) error {
	return fileutil.WriteAtomic(ctx, f.filePath, []byte(strings.TrimSpace(secret)+"\n"), 0600)
}
