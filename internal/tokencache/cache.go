package tokencache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/AzureAD/microsoft-authentication-library-for-go/apps/cache"

	"github.com/florianilch/graphauth/internal/fileutil"
)

// FileName is the name of the cache blob inside the cache directory.
const FileName = "msal_token_cache.bin"

// ErrCacheCorrupted marks a cache file that could not be decrypted or parsed.
// The cache is reset to empty instead of surfacing this error.
var ErrCacheCorrupted = errors.New("tokencache: cache file corrupted")

// emptyCache is the serialized form of a cache without accounts or tokens.
var emptyCache = []byte("{}")

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for cache resets and write failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache persists the identity library's token cache to a single protected file.
type Cache struct {
	path      string
	protector Protector
	logger    *slog.Logger

	mu sync.Mutex
	// digest of the plaintext last loaded from or stored to disk; zero when the
	// in-memory cache has never been persisted
	digest    [sha256.Size]byte
	hasDigest bool
	// protected bytes of the last write, lets the watcher skip our own writes
	written []byte
	// set while the in-memory cache holds state a failed write did not persist
	unsaved bool
}

// Compile-time check to ensure Cache implements MSAL's cache hooks
var _ cache.ExportReplace = (*Cache)(nil)

// New creates a Cache storing its blob in dir, creating dir with 0700
// permissions if it doesn't exist. No file I/O beyond that happens until the
// first hook runs.
func New(dir string, protector Protector, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if protector == nil {
		return nil, fmt.Errorf("missing protector")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	c := &Cache{
		path:      filepath.Join(filepath.Clean(dir), FileName),
		protector: protector,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if !protector.Secure() {
		c.logger.Warn("token cache is stored without encryption", "path", c.path, "protector", protector.Name())
	}

	return c, nil
}

// Path returns the location of the cache blob.
func (c *Cache) Path() string {
	return c.path
}

// BeforeAccess loads the cache file into u. A missing file yields an empty
// cache; an unreadable one is logged and also yields an empty cache. Neither
// reset happens while a failed write is pending, so state that never reached
// disk survives until the next write. A cancelled ctx leaves u untouched.
// BeforeAccess never returns an error.
func (c *Cache) BeforeAccess(ctx context.Context, u cache.Unmarshaler) error {
	if err := ctx.Err(); err != nil {
		c.logger.DebugContext(ctx, "skipping token cache load", "error", err)
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.load()
	if err == nil && data != nil {
		if err = u.Unmarshal(data); err == nil {
			c.remember(data)
			c.unsaved = false
			return nil
		}
		err = fmt.Errorf("%w: %w", ErrCacheCorrupted, err)
	}
	if c.unsaved {
		c.logger.WarnContext(ctx, "keeping unsaved in-memory token cache", "path", c.path, "error", err)
		return nil
	}
	if err != nil {
		c.logger.WarnContext(ctx, "resetting unreadable token cache", "path", c.path, "error", err)
	}

	c.hasDigest = false
	if err := u.Unmarshal(emptyCache); err != nil {
		c.logger.WarnContext(ctx, "resetting in-memory token cache failed", "error", err)
	}
	return nil
}

// AfterAccess writes the cache back to disk when changed is true. Write
// failures are logged and mark the in-memory state as unsaved, which
// BeforeAccess then keeps instead of resetting it.
func (c *Cache) AfterAccess(ctx context.Context, m cache.Marshaler, changed bool) error {
	if !changed {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := m.Marshal()
	if err != nil {
		c.logger.ErrorContext(ctx, "serializing token cache failed", "error", err)
		return nil
	}
	c.store(ctx, data)
	return nil
}

// Replace implements cache.ExportReplace.
func (c *Cache) Replace(ctx context.Context, u cache.Unmarshaler, _ cache.ReplaceHints) error {
	return c.BeforeAccess(ctx, u)
}

// Export implements cache.ExportReplace. The library calls it after every
// write operation, so the changed flag is derived from the serialized state.
func (c *Cache) Export(ctx context.Context, m cache.Marshaler, _ cache.ExportHints) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := m.Marshal()
	if err != nil {
		c.logger.ErrorContext(ctx, "serializing token cache failed", "error", err)
		return nil
	}
	if c.hasDigest && c.digest == sha256.Sum256(data) {
		return nil
	}
	c.store(ctx, data)
	return nil
}

// load returns the plaintext cache, nil if there is no file.
func (c *Cache) load() ([]byte, error) {
	blob, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	if len(blob) == 0 {
		return nil, nil
	}

	data, err := c.protector.Unprotect(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCacheCorrupted, err)
	}
	return data, nil
}

// store must be called with c.mu held.
func (c *Cache) store(ctx context.Context, data []byte) {
	blob, err := c.protector.Protect(data)
	if err != nil {
		c.unsaved = true
		c.logger.ErrorContext(ctx, "protecting token cache failed", "error", err)
		return
	}
	if err := fileutil.WriteAtomic(ctx, c.path, blob, 0600); err != nil {
		c.unsaved = true
		c.logger.ErrorContext(ctx, "writing token cache failed", "path", c.path, "error", err)
		return
	}
	c.remember(data)
	c.written = blob
	c.unsaved = false
	c.logger.DebugContext(ctx, "token cache persisted", "path", c.path, "bytes", len(blob))
}

func (c *Cache) remember(data []byte) {
	c.digest = sha256.Sum256(data)
	c.hasDigest = true
}

// ownWrite reports whether blob is exactly what this Cache last wrote.
func (c *Cache) ownWrite(blob []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written != nil && bytes.Equal(blob, c.written)
}
