package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(WithClock(clock.Now)), clock
}

func TestCache_ExpiresLazily(t *testing.T) {
	c, clock := newTestCache()

	c.Set("k", "v", time.Second)
	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)
	require.Equal(t, 1, c.Stats().Size)

	clock.Advance(time.Second)
	require.Equal(t, 1, c.Stats().Size, "expired entries stay until read")

	_, ok = c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Stats().Size)
}

func TestCache_ValidJustBeforeTTL(t *testing.T) {
	c, clock := newTestCache()

	c.Set("k", 1, time.Second)
	clock.Advance(999 * time.Millisecond)
	_, ok := c.Get("k")
	require.True(t, ok)
}

func TestCache_SetReplacesAndResetsAge(t *testing.T) {
	c, clock := newTestCache()

	c.Set("k", "old", time.Second)
	clock.Advance(800 * time.Millisecond)
	c.Set("k", "new", time.Second)
	clock.Advance(800 * time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "new", got)
}

func TestCache_DefaultTTL(t *testing.T) {
	c, clock := newTestCache()

	c.Set("k", "v", 0)
	clock.Advance(DefaultTTL - time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)
	clock.Advance(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok)
}

func TestCache_DeleteClearStats(t *testing.T) {
	c, _ := newTestCache()

	for _, k := range []string{"b", "c", "a"} {
		c.Set(k, k, time.Minute)
	}
	require.Equal(t, Stats{Size: 3, Keys: []string{"a", "b", "c"}}, c.Stats())

	require.True(t, c.Delete("b"))
	require.False(t, c.Delete("b"))
	require.Equal(t, []string{"a", "c"}, c.Stats().Keys)

	require.Equal(t, 2, c.Clear())
	require.Equal(t, Stats{Size: 0, Keys: []string{}}, c.Stats())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c, _ := newTestCache()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				key := fmt.Sprintf("k%d-%d", i, j)
				c.Set(key, j, time.Minute)
				_, _ = c.Get(key)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 800, c.Stats().Size)
}
