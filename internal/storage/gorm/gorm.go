// Package gormstorage implements the storage.Backend interface using GORM
// with internal queues and a background DB writer goroutine.
package gormstorage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multidriver/relay/internal/cache"
	"github.com/multidriver/relay/internal/database"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/internal/model/convert"
	"github.com/multidriver/relay/internal/queue"
	"github.com/multidriver/relay/pkg/core"
	"github.com/rs/zerolog"

	"gorm.io/gorm"
)

// DefaultWriteInterval is the pause between two writer cycles.
const DefaultWriteInterval = 2 * time.Second

// ErrNoDatabase is returned by Init when neither DB nor Open is set.
var ErrNoDatabase = errors.New("no database configured")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB *gorm.DB
	// Open is called by Init when DB is nil.
	Open func() (*gorm.DB, error)

	Logger   *slog.Logger
	DBLogger zerolog.Logger

	// Rows maps relay ids to entity rows of the current session.
	Rows          *cache.RowCache
	WriteInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	Entities     *queue.Queue[model.Entity]
	EntityStates *queue.Queue[model.EntityState]
	Removals     *queue.Queue[core.EntityRemoval]
}

func newQueues() *queues {
	return &queues{
		Entities:     queue.New[model.Entity](),
		EntityStates: queue.New[model.EntityState](),
		Removals:     queue.New[core.EntityRemoval](),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps      Dependencies
	queues    *queues
	sessionID atomic.Uint64
	lastWrite atomic.Int64

	writeMu   sync.Mutex
	stopChan  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Rows == nil {
		deps.Rows = cache.NewRowCache()
	}
	if deps.WriteInterval <= 0 {
		deps.WriteInterval = DefaultWriteInterval
	}
	return &Backend{
		deps:   deps,
		queues: newQueues(),
	}
}

// Init connects if needed, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		if b.deps.Open == nil {
			return ErrNoDatabase
		}
		db, err := b.deps.Open()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		b.deps.DB = db
	}

	if err := database.Setup(b.deps.DB, b.deps.DBLogger); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})
	go b.writeLoop()
	return nil
}

// DB returns the underlying connection (nil before Init).
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		if b.stopChan == nil {
			return
		}
		close(b.stopChan)
		<-b.done
		err = b.Flush()
	})
	return err
}

// StartSession inserts the session row synchronously so queued rows can reference it.
func (b *Backend) StartSession(s *core.Session) error {
	if b.deps.DB == nil {
		return ErrNoDatabase
	}
	row := convert.CoreToSession(*s)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	s.ID = row.ID

	b.deps.Rows.Reset()
	b.sessionID.Store(uint64(row.ID))
	b.deps.Logger.Info("Recording session", "session", row.ID, "name", row.Name)
	return nil
}

// SetSessionID points the writer at an existing session row.
func (b *Backend) SetSessionID(id uint) {
	b.sessionID.Store(uint64(id))
}

// SessionID returns the session rows are written to, 0 when none is active.
func (b *Backend) SessionID() uint {
	return uint(b.sessionID.Load())
}

// EndSession flushes pending rows and stamps the session end time.
func (b *Backend) EndSession() error {
	id := b.SessionID()
	if id == 0 {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}

	end := sql.NullTime{Time: time.Now(), Valid: true}
	if err := b.deps.DB.Model(&model.Session{}).Where("id = ?", id).Update("end_time", end).Error; err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	b.sessionID.Store(0)
	b.deps.Rows.Reset()
	return nil
}

// AddEntity converts a core entity to GORM and pushes it to the write queue.
func (b *Backend) AddEntity(e *core.Entity) error {
	b.queues.Entities.Push(convert.CoreToEntity(*e))
	return nil
}

// RemoveEntity queues the leave time for the entity row.
func (b *Backend) RemoveEntity(r *core.EntityRemoval) error {
	b.queues.Removals.Push(*r)
	return nil
}

// RecordEntityState converts and queues an entity state.
func (b *Backend) RecordEntityState(s *core.EntityState) error {
	b.queues.EntityStates.Push(convert.CoreToEntityState(*s))
	return nil
}

// QueueLengths returns the number of pending rows per queue.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{
		"entities":      b.queues.Entities.Len(),
		"entity_states": b.queues.EntityStates.Len(),
		"removals":      b.queues.Removals.Len(),
	}
}

// GetLastDBWriteDuration returns the duration of the last writer cycle.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// Flush writes every queue once. Rows stay queued while no session is active.
func (b *Backend) Flush() error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	sessionID := b.SessionID()
	if sessionID == 0 || b.deps.DB == nil {
		return nil
	}

	start := time.Now()
	defer func() { b.lastWrite.Store(int64(time.Since(start))) }()

	db := b.deps.DB
	var errs []error

	// entities first so states and removals can reference them
	errs = append(errs, writeQueue(db, b.queues.Entities, "entities", b.deps.Logger,
		func(items []model.Entity) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		},
		func(items []model.Entity) {
			for _, e := range items {
				b.deps.Rows.Set(e.RelayID, e.ID)
			}
		}))

	errs = append(errs, writeQueue(db, b.queues.EntityStates, "entity states", b.deps.Logger,
		func(items []model.EntityState) {
			for i := range items {
				items[i].SessionID = sessionID
			}
		}, nil))

	errs = append(errs, b.writeRemovals(db))

	return errors.Join(errs...)
}

func (b *Backend) writeRemovals(db *gorm.DB) error {
	removals := b.queues.Removals.GetAndEmpty()
	if len(removals) == 0 {
		return nil
	}

	var pending []core.EntityRemoval
	var written []string
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, r := range removals {
			id, ok := b.deps.Rows.Get(r.RelayID)
			if !ok {
				pending = append(pending, r)
				continue
			}
			leave := sql.NullTime{Time: r.Time, Valid: true}
			if err := tx.Model(&model.Entity{}).Where("id = ?", id).Update("leave_time", leave).Error; err != nil {
				return err
			}
			written = append(written, r.RelayID)
		}
		return nil
	})
	if err != nil {
		b.deps.Logger.Error("Error writing removals", "error", err)
		b.queues.Removals.Requeue(removals...)
		return fmt.Errorf("writing removals: %w", err)
	}

	for _, relayID := range written {
		b.deps.Rows.Delete(relayID)
	}
	if len(pending) > 0 {
		// entity row not written yet; retry next cycle
		b.queues.Removals.Requeue(pending...)
	}
	return nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// On failure the items are put back at the head of the queue.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T), onSuccess func([]T)) error {
	if q.Empty() {
		return nil
	}

	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Requeue(items...)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tx.Commit().Error; err != nil {
		log.Error("Error committing rows", "table", name, "error", err)
		q.Requeue(items...)
		return fmt.Errorf("committing %s: %w", name, err)
	}

	if onSuccess != nil {
		onSuccess(items)
	}
	return nil
}

// writeLoop periodically drains the queues into the DB.
func (b *Backend) writeLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.deps.WriteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			// errors are logged per queue; rows stay queued for the next cycle
			_ = b.Flush()
		}
	}
}
