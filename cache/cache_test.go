package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neottil/ditto/cache"
)

func defaultOptions() cache.Options {
	return cache.Options{TTL: time.Minute, ErrorTTL: 10 * time.Millisecond, MaxSize: 100}
}

func TestGetCachesAndReuses(t *testing.T) {
	var loads int32
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		return cache.NewEntry(1, "value-"+key), nil
	}, defaultOptions())

	first, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, first.Exists())
	assert.Equal(t, "value-k1", first.Value())
	assert.Equal(t, int64(1), first.Revision())

	second, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, first.Value(), second.Value())
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
}

func TestGetSingleFlight(t *testing.T) {
	var loads int32
	release := make(chan struct{})
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return cache.NewEntry(1, "shared"), nil
	}, defaultOptions())

	const callers = 16
	var wg sync.WaitGroup
	results := make([]cache.Entry[string], callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := c.Get(context.Background(), "hot")
			assert.NoError(t, err)
			results[i] = entry
		}(i)
	}
	// give all callers a chance to pile onto the flight
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, entry := range results {
		assert.True(t, entry.Exists())
		assert.Equal(t, "shared", entry.Value())
	}
}

func TestGetCachesNonexistent(t *testing.T) {
	var loads int32
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		return cache.Nonexistent[string](), nil
	}, defaultOptions())

	entry, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, entry.Exists())
	assert.False(t, entry.IsFetchError())

	_, err = c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "nonexistent entries are cached under the regular TTL")
}

func TestFetchErrorCachedUnderErrorTTL(t *testing.T) {
	cause := errors.New("store unreachable")
	var loads int32
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		return cache.Entry[string]{}, cause
	}, defaultOptions())

	entry, err := c.Get(context.Background(), "flaky")
	require.NoError(t, err)
	require.True(t, entry.IsFetchError())
	assert.False(t, entry.Exists())
	assert.ErrorIs(t, entry.FetchErrorCause(), cause)

	_, err = c.Get(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads), "fetch errors are cached, not retried per caller")

	time.Sleep(15 * time.Millisecond)
	_, err = c.Get(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads), "error entries expire under the shorter error TTL")
}

func TestTTLExpiry(t *testing.T) {
	var loads int32
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		return cache.NewEntry(int64(atomic.LoadInt32(&loads)), key), nil
	}, cache.Options{TTL: 10 * time.Millisecond, ErrorTTL: 5 * time.Millisecond, MaxSize: 100})

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	time.Sleep(15 * time.Millisecond)
	entry, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Revision())
}

func TestInvalidate(t *testing.T) {
	var loads int32
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		atomic.AddInt32(&loads, 1)
		return cache.NewEntry(int64(atomic.LoadInt32(&loads)), key), nil
	}, defaultOptions())

	_, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	c.Invalidate("k")
	entry, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Revision())
}

func TestInvalidateConditionally(t *testing.T) {
	var revision int64
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		return cache.NewEntry(atomic.AddInt64(&revision, 1), key), nil
	}, defaultOptions())

	t.Run("PredicateFalseKeepsEntry", func(t *testing.T) {
		_, err := c.Get(context.Background(), "k")
		require.NoError(t, err)
		evicted := c.InvalidateConditionally("k", func(e cache.Entry[string]) bool {
			return e.Revision() < 1
		})
		assert.False(t, evicted)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("PredicateTrueEvicts", func(t *testing.T) {
		evicted := c.InvalidateConditionally("k", func(e cache.Entry[string]) bool {
			return e.Revision() < 100
		})
		assert.True(t, evicted)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("AbsentKeyIsNoop", func(t *testing.T) {
		evicted := c.InvalidateConditionally("gone", func(cache.Entry[string]) bool { return true })
		assert.False(t, evicted)
	})
}

func TestMaxSizeEviction(t *testing.T) {
	c := cache.New(func(ctx context.Context, key string) (cache.Entry[string], error) {
		return cache.NewEntry(1, key), nil
	}, cache.Options{TTL: time.Minute, ErrorTTL: time.Second, MaxSize: 3})

	for i := 0; i < 5; i++ {
		_, err := c.Get(context.Background(), fmt.Sprintf("k%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.Len())
}

func TestKeyString(t *testing.T) {
	raw := cache.Key{PolicyID: "org.example:policy", ResolveImports: false}
	resolved := cache.Key{PolicyID: "org.example:policy", ResolveImports: true}
	assert.NotEqual(t, raw.String(), resolved.String())
	assert.Equal(t, "org.example:policy#resolveImports=true", resolved.String())
}
