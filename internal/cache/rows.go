package cache

import "sync"

// RowCache maps relay ids to their database row IDs for the current session
type RowCache struct {
	mu   sync.RWMutex
	rows map[string]uint
}

// NewRowCache creates a new RowCache
func NewRowCache() *RowCache {
	return &RowCache{
		rows: make(map[string]uint),
	}
}

// Get retrieves a row ID by relay id
func (c *RowCache) Get(relayID string) (uint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.rows[relayID]
	return id, ok
}

// Set stores a row ID by relay id
func (c *RowCache) Set(relayID string, id uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[relayID] = id
}

// Delete removes a relay id
func (c *RowCache) Delete(relayID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, relayID)
}

// Reset clears all rows from the cache
func (c *RowCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = make(map[string]uint)
}
