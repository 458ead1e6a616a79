package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// backends returns each implementation wired to the same fake clock.
func backends(t *testing.T) map[string]struct {
	cache Cache
	clock *fakeClock
} {
	t.Helper()

	memClock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := NewMemory()
	mem.now = memClock.Now

	sqlClock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := NewSQLiteStore(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	store.now = sqlClock.Now

	return map[string]struct {
		cache Cache
		clock *fakeClock
	}{
		"memory": {mem, memClock},
		"sqlite": {store, sqlClock},
	}
}

func TestCacheBasicOperations(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := b.cache

			_, ok, err := c.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, c.Set(ctx, "k", "v1", 0))
			v, ok, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", v)

			// last write wins
			require.NoError(t, c.SetEX(ctx, "k", time.Hour, "v2"))
			v, _, _ = c.Get(ctx, "k")
			assert.Equal(t, "v2", v)

			exists, err := c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, exists)

			deleted, err := c.Delete(ctx, "k")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = c.Delete(ctx, "k")
			require.NoError(t, err)
			assert.False(t, deleted)
		})
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := b.cache
			require.NoError(t, c.Set(ctx, "short", "x", time.Minute))
			require.NoError(t, c.Set(ctx, "forever", "y", 0))

			b.clock.Advance(59 * time.Second)
			ok, _ := c.Exists(ctx, "short")
			assert.True(t, ok, "entry should live until its TTL")

			b.clock.Advance(time.Second)
			_, ok, err := c.Get(ctx, "short")
			require.NoError(t, err)
			assert.False(t, ok, "entry should expire at its TTL")

			_, ok, _ = c.Get(ctx, "forever")
			assert.True(t, ok)
		})
	}
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := b.cache
			require.NoError(t, c.Set(ctx, "a", "1", 0))
			require.NoError(t, c.Set(ctx, "b", "2", 0))

			ok, err := c.Clear(ctx)
			require.NoError(t, err)
			assert.True(t, ok)

			exists, _ := c.Exists(ctx, "a")
			assert.False(t, exists)
		})
	}
}

func TestSQLiteStatsAndPurge(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := NewSQLiteStore(ctx, t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	store.now = clock.Now

	require.NoError(t, store.Set(ctx, "live", "abcd", 0))
	require.NoError(t, store.Set(ctx, "stale", "xy", time.Second))
	clock.Advance(2 * time.Second)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Entries: 1, Expired: 1, Bytes: 4}, st)

	purged, err := store.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
}

func TestSQLiteStoreReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewSQLiteStore(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "durable", "yes", 0))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(ctx, dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "durable")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yes", v)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()

	type result struct {
		Score int `json:"score"`
	}
	require.NoError(t, SetJSON(ctx, c, "r", result{Score: 42}, 0))

	var got result
	ok, err := GetJSON(ctx, c, "r", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, got.Score)

	require.NoError(t, c.Set(ctx, "bad", "{not json", 0))
	ok, err = GetJSON(ctx, c, "bad", &got)
	require.NoError(t, err)
	assert.False(t, ok, "undecodable entries are misses")
}

func TestOpenBackends(t *testing.T) {
	ctx := context.Background()

	c, closeFn, err := Open(ctx, Options{Backend: "memory", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)
	require.NoError(t, closeFn())

	c, closeFn, err = Open(ctx, Options{Backend: "sqlite", Directory: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, c)
	require.NoError(t, closeFn())

	_, _, err = Open(ctx, Options{Backend: "redis"})
	assert.Error(t, err)
}

func TestMemoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Set(ctx, "shared", "same", time.Minute)
			_, _, _ = c.Get(ctx, "shared")
		}()
	}
	wg.Wait()
	v, ok, _ := c.Get(ctx, "shared")
	assert.True(t, ok)
	assert.Equal(t, "same", v)
}
