// internal/storage/storage.go
package storage

import "github.com/multidriver/relay/pkg/core"

// Backend is the interface all session recorders must satisfy.
// Recorders never interrupt relaying: callers log returned errors and carry on.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Session management
	StartSession(s *core.Session) error
	EndSession() error

	// Entity registration (assigns ID to the passed pointer where the backend has one)
	AddEntity(e *core.Entity) error
	RemoveEntity(r *core.EntityRemoval) error

	// State recording
	RecordEntityState(s *core.EntityState) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to a web frontend.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}

// QueueLengthProvider is an optional interface for backends that buffer
// writes, exposing pending row counts by kind for monitoring.
type QueueLengthProvider interface {
	QueueLengths() map[string]int
}

// DropCounter is implemented by backends that discard messages under backpressure.
type DropCounter interface {
	Dropped() uint64
}

// Nop is a Backend that discards everything.
type Nop struct{}

func (Nop) Init() error                               { return nil }
func (Nop) Close() error                              { return nil }
func (Nop) StartSession(*core.Session) error          { return nil }
func (Nop) EndSession() error                         { return nil }
func (Nop) AddEntity(*core.Entity) error              { return nil }
func (Nop) RemoveEntity(*core.EntityRemoval) error    { return nil }
func (Nop) RecordEntityState(*core.EntityState) error { return nil }
