// Package handlers applies register, update and unregister events to the
// registry and forwards them to the session recorder.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/multidriver/relay/internal/cache"
	"github.com/multidriver/relay/internal/dispatcher"
	"github.com/multidriver/relay/internal/geo"
	"github.com/multidriver/relay/internal/registry"
	"github.com/multidriver/relay/internal/storage"
	"github.com/multidriver/relay/pkg/core"
	"github.com/multidriver/relay/pkg/protocol"
)

// Commands routed through the dispatcher, one per inbound message kind.
const (
	CmdRegister   = protocol.ElemRegister
	CmdUpdate     = protocol.ElemUpdate
	CmdUnregister = protocol.ElemUnregister
)

var (
	// ErrNoSession is returned when an update or unregister arrives from a worker without an id.
	ErrNoSession = errors.New("worker has no registered entity")
	// ErrIDMismatch is returned when a client names an id other than its own.
	ErrIDMismatch = errors.New("message id does not match worker id")
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Registry    *registry.Registry
	EntityCache *cache.EntityCache
	// Georef is optional; when set, recorded states carry WGS84 positions.
	Georef *geo.Georeferencer
	Logger *slog.Logger
}

// Service applies inbound client messages to the registry and forwards them to the recorder.
type Service struct {
	deps Dependencies

	mu      sync.RWMutex
	backend storage.Backend
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.EntityCache == nil {
		deps.EntityCache = cache.NewEntityCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:    deps,
		backend: storage.Nop{},
	}
}

// SetBackend sets the session recorder. nil disables recording.
func (s *Service) SetBackend(b storage.Backend) {
	if b == nil {
		b = storage.Nop{}
	}
	s.mu.Lock()
	s.backend = b
	s.mu.Unlock()
}

func (s *Service) recorder() storage.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend
}

// RegisterHandlers wires the service into d. A positive updateQueue makes
// update handling asynchronous with a queue of that size.
func (s *Service) RegisterHandlers(d *dispatcher.Dispatcher, updateQueue int) {
	d.Register(CmdRegister, s.HandleRegister, dispatcher.Logged())
	d.Register(CmdUnregister, s.HandleUnregister, dispatcher.Logged())

	if updateQueue > 0 {
		d.Register(CmdUpdate, s.HandleUpdate, dispatcher.Buffered(updateQueue), dispatcher.Blocking())
	} else {
		d.Register(CmdUpdate, s.HandleUpdate)
	}
}

// HandleRegister creates the entity and returns its id.
func (s *Service) HandleRegister(e dispatcher.Event) (any, error) {
	msg := e.Message
	id := s.deps.Registry.Register(msg.ModelPath, msg.DriverName)

	entity := core.Entity{
		RelayID:    id,
		ModelPath:  msg.ModelPath,
		DriverName: msg.DriverName,
		JoinTime:   e.Timestamp,
	}
	if err := s.recorder().AddEntity(&entity); err != nil {
		s.deps.Logger.Error("Failed to record entity", "entity", id, "error", err)
	}
	s.deps.EntityCache.Add(entity)

	s.deps.Logger.Info("Entity registered", "entity", id, "driver", msg.DriverName, "model", msg.ModelPath)
	return id, nil
}

// HandleUpdate overwrites the sender's motion. Updates for entities that
// have already left are dropped silently.
func (s *Service) HandleUpdate(e dispatcher.Event) (any, error) {
	id, err := senderID(e)
	if err != nil {
		return nil, err
	}

	if !s.deps.Registry.Update(id, e.Message.Motion) {
		return nil, nil
	}

	if _, ok := s.deps.EntityCache.Get(id); !ok {
		return nil, nil
	}
	state := s.stateFromMotion(id, e)
	if err := s.recorder().RecordEntityState(&state); err != nil {
		s.deps.Logger.Debug("Failed to record entity state", "entity", id, "error", err)
	}
	return nil, nil
}

// HandleUnregister removes the sender's entity. Repeated calls are no-ops.
func (s *Service) HandleUnregister(e dispatcher.Event) (any, error) {
	id, err := senderID(e)
	if err != nil {
		return nil, err
	}

	s.deps.Registry.Unregister(id)

	if s.deps.EntityCache.Remove(id) {
		removal := core.EntityRemoval{RelayID: id, Time: e.Timestamp}
		if err := s.recorder().RemoveEntity(&removal); err != nil {
			s.deps.Logger.Error("Failed to record entity removal", "entity", id, "error", err)
		}
		s.deps.Logger.Info("Entity unregistered", "entity", id)
	}
	return nil, nil
}

func senderID(e dispatcher.Event) (string, error) {
	if e.Worker == "" {
		return "", ErrNoSession
	}
	if e.Message.ID != "" && e.Message.ID != e.Worker {
		return "", fmt.Errorf("%w: got %q, worker is %q", ErrIDMismatch, e.Message.ID, e.Worker)
	}
	return e.Worker, nil
}

func (s *Service) stateFromMotion(id string, e dispatcher.Event) core.EntityState {
	m := e.Message.Motion
	state := core.EntityState{
		RelayID:         id,
		Time:            e.Timestamp,
		Position:        core.Position3D{X: m.Position.X, Y: m.Position.Y, Z: m.Position.Z},
		OrientationKind: core.OrientationNone,
		Steering:        m.Wheel.Steering,
		WheelPos:        m.Wheel.Pos,
	}

	switch m.Orientation.Kind {
	case protocol.OrientationHeading:
		state.OrientationKind = core.OrientationHeading
		state.Heading = m.Orientation.Heading
	case protocol.OrientationRotation:
		q := m.Orientation.Rotation
		state.OrientationKind = core.OrientationRotation
		state.Rotation = core.Quaternion{W: q.W, X: q.X, Y: q.Y, Z: q.Z}
	}

	if s.deps.Georef != nil {
		g := s.deps.Georef.Locate(state.Position)
		state.Geo = &g
	}
	return state
}
