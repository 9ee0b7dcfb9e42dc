package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_MissThenHit(t *testing.T) {
	c := NewMemoryCache[[]string](time.Minute, time.Minute)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) ([]string, error) {
		calls++
		return []string{"a.bin", "b.bin"}, nil
	}

	v, err := c.GetOrFetch(ctx, "g1", fetch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin", "b.bin"}, v)

	v, err = c.GetOrFetch(ctx, "g1", fetch)
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_ErrorsAreNotCached(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.GetOrFetch(ctx, "k", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := c.GetOrFetch(ctx, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMemoryCache_DeleteForcesRefetch(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, time.Minute)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	v, _ := c.GetOrFetch(ctx, "k", fetch)
	assert.Equal(t, 1, v)

	c.Delete("k")
	v, _ = c.GetOrFetch(ctx, "k", fetch)
	assert.Equal(t, 2, v)

	c.Flush()
	assert.Zero(t, c.Len())
}

func TestMemoryCache_ConcurrentMissesFetchOnce(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, time.Minute)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFetch(ctx, "k", fetch)
			assert.NoError(t, err)
			assert.Equal(t, 42, v)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
