package csvstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
)

// CachedStore wraps a Store for read-heavy consumers. Read returns the last
// parsed Series while the file keeps its identity, size and modification
// time. Store.Upsert replaces the file by rename, so every write changes the
// identity even when size and mtime happen to match.
// The returned Series is shared between callers and must not be modified.
type CachedStore struct {
	inner *Store

	mu     sync.Mutex
	stamp  fileStamp
	series *Series
	valid  bool
}

type fileStamp struct {
	info os.FileInfo
	size int64
	mod  time.Time
}

func (a fileStamp) equal(b fileStamp) bool {
	if a.info == nil || b.info == nil {
		return a.info == nil && b.info == nil
	}
	return os.SameFile(a.info, b.info) && a.size == b.size && a.mod.Equal(b.mod)
}

// NewCached creates a caching decorator around a store.
func NewCached(s *Store) *CachedStore {
	return &CachedStore{inner: s}
}

func (c *CachedStore) Kind() domain.MetricKind { return c.inner.Kind() }

func (c *CachedStore) Path() string { return c.inner.Path() }

// Read returns the cached Series or re-parses the file when it changed.
// Errors are never cached, so a corrupt file is reported until it is fixed.
func (c *CachedStore) Read(ctx context.Context) (*Series, error) {
	st, err := statFile(c.inner.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s store: %w", c.inner.kind, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.stamp.equal(st) {
		return c.series, nil
	}
	series, err := c.inner.Read(ctx)
	if err != nil {
		c.valid = false
		return nil, err
	}
	c.stamp, c.series, c.valid = st, series, true
	return series, nil
}

func statFile(path string) (fileStamp, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileStamp{}, nil
	}
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{info: fi, size: fi.Size(), mod: fi.ModTime()}, nil
}
