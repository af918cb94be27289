package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDedup struct {
	mu    sync.Mutex
	calls int
	inner DedupStore
}

func (c *countingDedup) SeenOrAdd(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.SeenOrAdd(ctx, key)
}

func (c *countingDedup) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestMemoryDedupStore_SeenOrAdd(t *testing.T) {
	store := NewMemoryDedupStore(time.Minute)
	ctx := context.Background()

	seen, err := store.SeenOrAdd(ctx, "telegram:1:0:10")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = store.SeenOrAdd(ctx, "telegram:1:0:10")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.SeenOrAdd(ctx, "telegram:1:0:11")
	require.NoError(t, err)
	assert.False(t, seen, "distinct keys are independent")
}

func TestMemoryDedupStore_ExactlyOnceUnderConcurrency(t *testing.T) {
	store := NewMemoryDedupStore(time.Minute)
	ctx := context.Background()

	const n = 50
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen, err := store.SeenOrAdd(ctx, "same-key")
			require.NoError(t, err)
			results <- seen
		}()
	}
	wg.Wait()
	close(results)

	fresh := 0
	for seen := range results {
		if !seen {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one call must observe the key as new")
}

func TestCompositeDedupStore_AnyBackendSighting(t *testing.T) {
	ctx := context.Background()
	first := NewMemoryDedupStore(time.Minute)
	second := NewMemoryDedupStore(time.Minute)

	// Only the second backend has seen the key.
	_, err := second.SeenOrAdd(ctx, "k")
	require.NoError(t, err)

	composite := NewCompositeDedupStore(first, second)
	seen, err := composite.SeenOrAdd(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCompositeDedupStore_WritesEveryBackend(t *testing.T) {
	ctx := context.Background()
	seeded := NewMemoryDedupStore(time.Minute)
	_, err := seeded.SeenOrAdd(ctx, "k")
	require.NoError(t, err)

	lagging := &countingDedup{inner: NewMemoryDedupStore(time.Minute)}
	composite := NewCompositeDedupStore(seeded, lagging)

	seen, err := composite.SeenOrAdd(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, lagging.callCount(), "no short-circuit: every backend is written")

	// The lagging backend converged: it now reports the key itself.
	seen, err = lagging.inner.SeenOrAdd(ctx, "k")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCompositeDedupStore_FreshKey(t *testing.T) {
	ctx := context.Background()
	composite := NewCompositeDedupStore(NewMemoryDedupStore(time.Minute), NewMemoryDedupStore(time.Minute))

	seen, err := composite.SeenOrAdd(ctx, "fresh")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = composite.SeenOrAdd(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, seen)
}
