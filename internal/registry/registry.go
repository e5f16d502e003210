// Package registry holds the shared entity table every connection reads and writes.
package registry

import (
	"slices"
	"strconv"
	"sync"

	"github.com/multidriver/relay/pkg/protocol"
)

// IDPrefix prefixes every assigned entity id.
const IDPrefix = "mdv_"

// Registry maps participant ids to entities. It is safe for concurrent use.
// Register and Unregister take the write lock; Update and reads share the
// read lock, so updates of different entities run in parallel.
type Registry struct {
	mu       sync.RWMutex
	counter  uint64
	entities map[string]*Entity
}

// New creates an empty registry. Ids start at mdv_1.
func New() *Registry {
	return &Registry{
		entities: make(map[string]*Entity),
	}
}

// Register allocates a fresh id and inserts an entity with zeroed motion.
// Ids are never reused for the lifetime of the registry.
func (r *Registry) Register(modelPath, driverName string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	id := IDPrefix + strconv.FormatUint(r.counter, 10)
	r.entities[id] = newEntity(id, r.counter, modelPath, driverName)
	return id
}

// Unregister removes id. Unknown ids are ignored; it reports whether an entry was removed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[id]; !ok {
		return false
	}
	delete(r.entities, id)
	return true
}

// Update overwrites the motion of id and clears its delivery set.
// Unknown ids are ignored; it reports whether the entity exists.
func (r *Registry) Update(id string, m protocol.Motion) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return false
	}
	e.set(m)
	return true
}

// Get returns the entity registered under id.
func (r *Registry) Get(id string) (*Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len returns the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Snapshot returns the entities registered at the time of the call, in
// registration order. Entities removed afterwards stay valid to read.
func (r *Registry) Snapshot() []*Entity {
	r.mu.RLock()
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Entity) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// ForgetConsumer drops consumer from every entity's delivery set.
func (r *Registry) ForgetConsumer(consumer string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		e.Forget(consumer)
	}
}
