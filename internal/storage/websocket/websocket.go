// Package websocket streams session data to a remote server over WebSocket.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/multidriver/relay/pkg/core"
	"github.com/multidriver/relay/pkg/streaming"
)

// Config holds WebSocket backend configuration.
type Config struct {
	URL    string
	Secret string
}

// Backend streams session data over WebSocket to a remote recorder.
// It implements storage.Backend but not storage.Uploadable.
type Backend struct {
	conn         *link
	cfg          Config
	nextEntityID atomic.Uint64
}

// New creates a new WebSocket storage backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		conn: newLink(logger.With("backend", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.open(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	env, err := streaming.NewEnvelope(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartSession sends the session and waits for server ack.
func (b *Backend) StartSession(s *core.Session) error {
	data, err := marshalEnvelope(streaming.TypeStartSession, streaming.StartSessionPayload{Session: s})
	if err != nil {
		return err
	}

	b.conn.setReplay(data)
	b.nextEntityID.Store(0)

	return b.conn.sendAndWait(data, streaming.TypeStartSession, ackTimeout)
}

// EndSession sends end_session and waits for server ack.
func (b *Backend) EndSession() error {
	data, err := marshalEnvelope(streaming.TypeEndSession, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndSession, ackTimeout)

	b.conn.setReplay(nil)

	return err
}

// AddEntity assigns an auto-increment ID and sends the entity.
func (b *Backend) AddEntity(e *core.Entity) error {
	e.ID = uint(b.nextEntityID.Add(1))
	return b.sendEnvelope(streaming.TypeAddEntity, e)
}

func (b *Backend) RecordEntityState(s *core.EntityState) error {
	return b.sendEnvelope(streaming.TypeEntityState, s)
}

func (b *Backend) RemoveEntity(r *core.EntityRemoval) error {
	return b.sendEnvelope(streaming.TypeRemoveEntity, r)
}

// QueueLengths reports messages waiting for the write loop.
func (b *Backend) QueueLengths() map[string]int {
	return map[string]int{"websocket": b.conn.pending()}
}

// Dropped returns how many messages were discarded because the outbox was full.
func (b *Backend) Dropped() uint64 {
	return b.conn.dropped.Load()
}
