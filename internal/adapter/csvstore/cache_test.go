package csvstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/covid-at-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedStore_HitWhileFileUnchanged(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "Date,AT\n2020-04-01,10\n")
	stamp := time.Date(2020, time.April, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(s.Path(), stamp, stamp))

	cached := NewCached(s)
	ctx := context.Background()

	first, err := cached.Read(ctx)
	require.NoError(t, err)

	// Same file, size and mtime: the cached parse is served.
	writeFile(t, s, "Date,AT\n2020-04-01,99\n")
	require.NoError(t, os.Chtimes(s.Path(), stamp, stamp))
	second, err := cached.Read(ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)
	v, _ := second.Lookup(day(1))
	assert.Equal(t, int64(10), v["AT"])
}

func TestCachedStore_ReloadsWhenFileReplaced(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "Date,AT\n2020-04-01,10\n")
	stamp := time.Date(2020, time.April, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(s.Path(), stamp, stamp))

	cached := NewCached(s)
	ctx := context.Background()
	first, err := cached.Read(ctx)
	require.NoError(t, err)

	// A same-size replacement renamed into place with the old mtime.
	tmp := filepath.Join(filepath.Dir(s.Path()), "replacement.csv")
	require.NoError(t, os.WriteFile(tmp, []byte("Date,AT\n2020-04-01,99\n"), 0o644))
	require.NoError(t, os.Chtimes(tmp, stamp, stamp))
	require.NoError(t, os.Rename(tmp, s.Path()))

	second, err := cached.Read(ctx)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	v, _ := second.Lookup(day(1))
	assert.Equal(t, int64(99), v["AT"])
}

func TestCachedStore_ReloadsAfterWrite(t *testing.T) {
	s := newTestStore(t)
	cached := NewCached(s)
	ctx := context.Background()

	empty, err := cached.Read(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())

	require.NoError(t, s.Upsert(ctx, day(1), domain.Values{"AT": 10}))
	series, err := cached.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())

	require.NoError(t, s.Upsert(ctx, day(2), domain.Values{"AT": 12}))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(s.Path(), later, later))
	series, err = cached.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
}

func TestCachedStore_DoesNotCacheErrors(t *testing.T) {
	s := newTestStore(t)
	cached := NewCached(s)
	ctx := context.Background()

	writeFile(t, s, "Datum,AT\n")
	_, err := cached.Read(ctx)
	require.ErrorIs(t, err, ErrCorruptStore)

	writeFile(t, s, "Date,AT\n2020-04-01,10\n")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(s.Path(), later, later))
	series, err := cached.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())
	assert.Equal(t, domain.Cases, cached.Kind())
	assert.Equal(t, s.Path(), cached.Path())
}
