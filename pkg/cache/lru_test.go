package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T)
	}{
		{"SetAndGet", testSetAndGet},
		{"GetMissReturnsZeroValue", testGetMissReturnsZeroValue},
		{"GetExpired", testGetExpired},
		{"SetOverMaxSizeEvictsLeastRecentlyUsed", testSetOverMaxSizeEvictsLeastRecentlyUsed},
		{"SetOverMaxSizeEvictsExpiredFirst", testSetOverMaxSizeEvictsExpiredFirst},
		{"InvalidatePrefix", testInvalidatePrefix},
		{"InvalidateAllClearsCache", testInvalidateAllClearsCache},
		{"SetUpdatesExisting", testSetUpdatesExisting},
		{"ConcurrentAccess", testConcurrentAccess},
		{"StructValues", testStructValues},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.fn)
	}
}

func testSetAndGet(t *testing.T) {
	c := NewLRUCache[[]byte](10, 5*time.Second)
	c.Set("ex1/", []byte(`{"id":"ex1"}`))

	got, ok := c.Get("ex1/")
	require.True(t, ok)
	assert.Equal(t, `{"id":"ex1"}`, string(got))
}

func testGetMissReturnsZeroValue(t *testing.T) {
	c := NewLRUCache[[]byte](10, 5*time.Second)
	got, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func testGetExpired(t *testing.T) {
	c := NewLRUCache[string](10, 50*time.Millisecond)
	c.Set("ex1/", "v1")

	_, ok := c.Get("ex1/")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("ex1/")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size(), "expired entry is removed lazily")
}

func testSetOverMaxSizeEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](3, 5*time.Second)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	require.Equal(t, 3, c.Size())

	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("d", 4)
	assert.Equal(t, 3, c.Size())

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
}

func testSetOverMaxSizeEvictsExpiredFirst(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[int](2, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("stale", 1)
	now = now.Add(50 * time.Second)
	c.Set("fresh", 2)
	_, ok := c.Get("stale")
	require.True(t, ok, "stale is now the most recently used")

	now = now.Add(20 * time.Second)
	c.Set("new", 3)

	_, ok = c.Get("fresh")
	assert.True(t, ok, "a live entry survives while an expired one can go")
	_, ok = c.Get("new")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func testInvalidatePrefix(t *testing.T) {
	c := NewLRUCache[int](10, 5*time.Second)
	c.Set("ex1/", 1)
	c.Set("ex1/3", 2)
	c.Set("ex10/", 3)

	n := c.InvalidatePrefix("ex1/")
	assert.Equal(t, 2, n)

	_, ok := c.Get("ex10/")
	assert.True(t, ok, "a longer id sharing the prefix survives")
	assert.Equal(t, 1, c.Size())
}

func testInvalidateAllClearsCache(t *testing.T) {
	c := NewLRUCache[int](10, 5*time.Second)
	c.Set("a", 1)
	c.Set("b", 2)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Size())
}

func testSetUpdatesExisting(t *testing.T) {
	c := NewLRUCache[string](10, 5*time.Second)
	c.Set("k", "old")
	c.Set("k", "new")

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Size())
}

func testConcurrentAccess(t *testing.T) {
	c := NewLRUCache[string](100, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("ex-%d/%d", id, j)
				c.Set(key, key)
				c.Get(key)
				if j%10 == 0 {
					c.InvalidatePrefix(fmt.Sprintf("ex-%d/", id))
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Size(), 100)
}

func testStructValues(t *testing.T) {
	type doc struct{ Title string }
	c := NewLRUCache[*doc](2, time.Second)
	c.Set("x", &doc{Title: "Colores"})

	got, ok := c.Get("x")
	require.True(t, ok)
	assert.Equal(t, "Colores", got.Title)

	missing, ok := c.Get("y")
	assert.False(t, ok)
	assert.Nil(t, missing)
}

func TestNewLRUCacheClampsArguments(t *testing.T) {
	c := NewLRUCache[int](0, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 1, c.Size())
}
