package registry

import (
	"sync"

	"github.com/multidriver/relay/pkg/protocol"
)

// Entity is the server-side record of one participant's car.
// ModelPath and DriverName never change after registration.
type Entity struct {
	ID         string
	ModelPath  string
	DriverName string

	seq uint64

	mu     sync.Mutex
	motion protocol.Motion
	// sentTo holds the consumers that already received the current motion.
	sentTo map[string]struct{}
}

func newEntity(id string, seq uint64, modelPath, driverName string) *Entity {
	return &Entity{
		ID:         id,
		ModelPath:  modelPath,
		DriverName: driverName,
		seq:        seq,
		sentTo:     make(map[string]struct{}),
	}
}

// Motion returns the current motion snapshot.
func (e *Entity) Motion() protocol.Motion {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.motion
}

// set overwrites the motion and invalidates every consumer's copy.
func (e *Entity) set(m protocol.Motion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.motion = m
	clear(e.sentTo)
}

// PendingFor reports whether consumer still lacks the current snapshot. If so,
// it marks the snapshot as delivered to consumer and returns it. Check, read
// and mark happen under one lock so a concurrent update is never lost.
func (e *Entity) PendingFor(consumer string) (protocol.Motion, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sentTo[consumer]; ok {
		return protocol.Motion{}, false
	}
	e.sentTo[consumer] = struct{}{}
	return e.motion, true
}

// deliveredTo reports whether consumer holds the current snapshot.
func (e *Entity) deliveredTo(consumer string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.sentTo[consumer]
	return ok
}

// Forget drops consumer from the delivery set.
func (e *Entity) Forget(consumer string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sentTo, consumer)
}
