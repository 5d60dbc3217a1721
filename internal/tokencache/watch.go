package tokencache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind classifies an external change to the cache file.
type ChangeKind int

const (
	// ChangeModified means another process rewrote the cache file.
	ChangeModified ChangeKind = iota
	// ChangeRemoved means the cache file was deleted or moved away.
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change describes an external change to the cache file.
type Change struct {
	Kind ChangeKind
	Path string
}

// Watcher reports changes to the cache file made by anyone but its Cache.
type Watcher struct {
	cache   *Cache
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the cache directory. Events are delivered once Run
// is called; Run closes the watcher when it returns.
func (c *Cache) NewWatcher() (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the file's inode
	if err := w.Add(filepath.Dir(c.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(c.path), err)
	}
	return &Watcher{cache: c, watcher: w}, nil
}

// Run delivers changes to onChange until ctx is done. onChange runs on the
// watcher goroutine.
func (w *Watcher) Run(ctx context.Context, onChange func(Change)) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.cache.path {
				continue
			}
			if change, ok := w.classify(event); ok {
				w.cache.logger.DebugContext(ctx, "token cache changed externally", "path", change.Path, "change", change.Kind)
				onChange(change)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.cache.logger.WarnContext(ctx, "token cache watcher error", "error", err)
		}
	}
}

func (w *Watcher) classify(event fsnotify.Event) (Change, bool) {
	change := Change{Path: w.cache.path}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if _, err := os.Stat(w.cache.path); err == nil {
			// replaced in place by a rename, treat as a rewrite
			change.Kind = ChangeModified
			return change, !w.isOwnWrite()
		}
		change.Kind = ChangeRemoved
		return change, true
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		change.Kind = ChangeModified
		return change, !w.isOwnWrite()
	default:
		return change, false
	}
}

func (w *Watcher) isOwnWrite() bool {
	blob, err := os.ReadFile(w.cache.path)
	if err != nil {
		return false
	}
	return w.cache.ownWrite(blob)
}
