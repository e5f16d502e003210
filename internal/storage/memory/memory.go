// Package memory records sessions in memory and exports them to disk when the session ends.
package memory

import (
	"sync"
	"time"

	"github.com/multidriver/relay/internal/config"
	v1 "github.com/multidriver/relay/internal/storage/memory/export/v1"
	"github.com/multidriver/relay/pkg/core"
)

// Backend stores session data in memory and exports to JSON
type Backend struct {
	cfg     config.MemoryConfig
	session *core.Session

	entities map[string]*v1.EntityRecord // keyed by RelayID
	order    []*v1.EntityRecord

	idCounter      uint
	lastExportPath string
	lastTrackPath  string
	lastMetadata   core.UploadMetadata
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:      cfg,
		entities: make(map[string]*v1.EntityRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close exports a session that was never ended.
func (b *Backend) Close() error {
	return b.EndSession()
}

// StartSession begins recording a new session
func (b *Backend) StartSession(s *core.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.session = s
	b.entities = make(map[string]*v1.EntityRecord)
	b.order = nil
	b.idCounter = 0
	return nil
}

// EndSession stamps the end time and exports the session data.
// Without an active session it does nothing.
func (b *Backend) EndSession() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	if b.session.EndTime.IsZero() {
		b.session.EndTime = time.Now()
	}

	err := b.export()
	b.session = nil
	return err
}

// AddEntity registers a new entity and assigns its ID
func (b *Backend) AddEntity(e *core.Entity) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	e.ID = b.idCounter

	record := &v1.EntityRecord{
		Entity: *e,
		States: make([]core.EntityState, 0),
	}
	b.entities[e.RelayID] = record
	b.order = append(b.order, record)
	return nil
}

// GetEntity looks up an entity by its relay id
func (b *Backend) GetEntity(relayID string) (*core.Entity, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if record, ok := b.entities[relayID]; ok {
		return &record.Entity, true
	}
	return nil, false
}

// RecordEntityState records a state update
func (b *Backend) RecordEntityState(s *core.EntityState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.entities[s.RelayID]; ok {
		record.States = append(record.States, *s)
	}
	return nil // silently ignore if entity not found
}

// RemoveEntity stamps the leave time. The track is kept for export.
func (b *Backend) RemoveEntity(r *core.EntityRemoval) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if record, ok := b.entities[r.RelayID]; ok && record.LeaveTime.IsZero() {
		record.LeaveTime = r.Time
	}
	return nil
}

// GetExportedFilePath returns the path of the last exported recording.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetTrackFilePath returns the path of the last exported GeoJSON track file, if any.
func (b *Backend) GetTrackFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTrackPath
}

// GetExportMetadata describes the last exported recording.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastMetadata
}
