package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multidriver/relay/pkg/core"
)

func TestEntityCache_AddAndGet(t *testing.T) {
	cache := NewEntityCache()

	cache.Add(core.Entity{RelayID: "mdv_1", DriverName: "Alice"})

	got, ok := cache.Get("mdv_1")
	require.True(t, ok, "expected to find mdv_1")
	assert.Equal(t, "Alice", got.DriverName)
	assert.Equal(t, 1, cache.Len())
}

func TestEntityCache_Get_NotFound(t *testing.T) {
	cache := NewEntityCache()

	_, ok := cache.Get("mdv_999")
	assert.False(t, ok)
}

func TestEntityCache_Remove(t *testing.T) {
	cache := NewEntityCache()
	cache.Add(core.Entity{RelayID: "mdv_1"})

	assert.True(t, cache.Remove("mdv_1"))
	assert.False(t, cache.Remove("mdv_1"))
	assert.Equal(t, 0, cache.Len())
}

func TestEntityCache_Reset(t *testing.T) {
	cache := NewEntityCache()
	cache.Add(core.Entity{RelayID: "mdv_1"})
	cache.Add(core.Entity{RelayID: "mdv_2"})

	cache.Reset()

	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("mdv_1")
	assert.False(t, ok)
}

func TestEntityCache_ConcurrentAccess(t *testing.T) {
	cache := NewEntityCache()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cache.Add(core.Entity{RelayID: fmt.Sprintf("mdv_%d", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			cache.Get(fmt.Sprintf("mdv_%d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, cache.Len())
}

func TestRowCache_SetGetDelete(t *testing.T) {
	cache := NewRowCache()

	_, ok := cache.Get("mdv_1")
	assert.False(t, ok)

	cache.Set("mdv_1", 42)
	id, ok := cache.Get("mdv_1")
	require.True(t, ok)
	assert.Equal(t, uint(42), id)

	cache.Set("mdv_1", 43)
	id, _ = cache.Get("mdv_1")
	assert.Equal(t, uint(43), id)

	cache.Delete("mdv_1")
	_, ok = cache.Get("mdv_1")
	assert.False(t, ok)
}

func TestRowCache_Reset(t *testing.T) {
	cache := NewRowCache()
	cache.Set("mdv_1", 1)
	cache.Set("mdv_2", 2)

	cache.Reset()

	_, ok := cache.Get("mdv_1")
	assert.False(t, ok)
	_, ok = cache.Get("mdv_2")
	assert.False(t, ok)
}
