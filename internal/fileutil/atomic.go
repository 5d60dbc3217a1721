// Package fileutil holds small filesystem helpers shared by the storage packages.
package fileutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// WriteAtomic replaces path with data using temp file + rename, so readers never
// observe a partially written file. The final file gets the given permissions.
func WriteAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Temp file must live in the same directory for rename to be atomic
	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempName := tempFile.Name()
	// Remove is a no-op after a successful rename
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
