package expiry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMap_GetSet(t *testing.T) {
	m := NewMap[string](time.Minute, 0)

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", "1")
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	m.Set("a", "2")
	v, _ = m.Get("a")
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, m.Len())
}

func TestMap_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewMap(5*time.Minute, 0, WithClock[string](clock.Now))

	m.Set("a", "1")
	clock.Advance(4 * time.Minute)
	_, ok := m.Get("a")
	assert.True(t, ok, "entry should survive within TTL")

	clock.Advance(2 * time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok, "entry should expire after TTL")
	assert.Equal(t, 0, m.Len())
}

func TestMap_AddSeenOrAdd(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewMap(time.Minute, 0, WithClock[struct{}](clock.Now))

	assert.False(t, m.Add("k", struct{}{}))
	assert.True(t, m.Add("k", struct{}{}))

	// Expired keys are added again.
	clock.Advance(2 * time.Minute)
	assert.False(t, m.Add("k", struct{}{}))
}

func TestMap_AddExactlyOnceConcurrent(t *testing.T) {
	m := NewMap[struct{}](time.Minute, 0)

	const n = 64
	results := make(chan bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Add("same", struct{}{})
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
	assert.Equal(t, 1, fresh, "exactly one Add must report the key as new")
}

func TestMap_CapacityEvictsOldest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewMap(time.Hour, 3, WithClock[int](clock.Now))

	for i := 0; i < 3; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
		clock.Advance(time.Second)
	}
	// Refresh k0 so k1 becomes the oldest.
	m.Set("k0", 100)
	clock.Advance(time.Second)

	m.Set("k3", 3)

	_, ok := m.Get("k1")
	assert.False(t, ok, "oldest-by-update entry should be evicted")
	for _, key := range []string{"k0", "k2", "k3"} {
		_, ok := m.Get(key)
		assert.True(t, ok, "entry %s should survive", key)
	}
	assert.Equal(t, 3, m.Len())
}
