package cache

import (
	"sync"

	"github.com/multidriver/relay/pkg/core"
)

// EntityCache keeps the entities that joined the current session, keyed by relay id,
// so state records can be validated without a db read.
type EntityCache struct {
	mu       sync.RWMutex
	entities map[string]core.Entity
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		entities: make(map[string]core.Entity),
	}
}

func (c *EntityCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = make(map[string]core.Entity)
}

func (c *EntityCache) Get(relayID string) (core.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[relayID]
	return e, ok
}

func (c *EntityCache) Add(e core.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities[e.RelayID] = e
}

// Remove drops relayID and reports whether it was cached.
func (c *EntityCache) Remove(relayID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[relayID]; !ok {
		return false
	}
	delete(c.entities, relayID)
	return true
}

func (c *EntityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}
