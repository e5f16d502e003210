// Package worker implements the per-connection session: the registration
// handshake, the inbound line reader and the outbound write loop.
package worker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multidriver/relay/internal/dispatcher"
	"github.com/multidriver/relay/pkg/protocol"
)

const (
	writeWait      = 5 * time.Second
	maxLineSize    = 64 * 1024
	defaultSendCap = 256
)

var (
	// ErrNotRegistered is returned for update or unregister lines sent before the handshake.
	ErrNotRegistered = errors.New("client not registered")
	// ErrAlreadyRegistered is returned for a second register line on the same session.
	ErrAlreadyRegistered = errors.New("client already registered")

	errGoodbye = errors.New("client unregistered")
)

// Dispatcher routes worker events to their handlers.
type Dispatcher interface {
	Dispatch(e dispatcher.Event) (any, error)
}

// Worker owns one client connection.
type Worker struct {
	conn   net.Conn
	d      Dispatcher
	logger *slog.Logger

	mu sync.RWMutex
	id string

	alive     atomic.Bool
	dropped   atomic.Uint64
	sendCh    chan string
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a worker for conn. sendQueue bounds the number of pending outbound messages.
func New(conn net.Conn, d Dispatcher, logger *slog.Logger, sendQueue int) *Worker {
	if sendQueue <= 0 {
		sendQueue = defaultSendCap
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		conn:   conn,
		d:      d,
		logger: logger.With("remote", conn.RemoteAddr().String()),
		sendCh: make(chan string, sendQueue),
		done:   make(chan struct{}),
	}
	w.alive.Store(true)
	return w
}

// Start launches the read and write loops.
func (w *Worker) Start() {
	w.wg.Add(2)
	go w.readLoop()
	go w.writeLoop()
}

// ID returns the assigned entity id; false until the handshake completes.
func (w *Worker) ID() (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.id, w.id != ""
}

// IsAlive reports whether the session is still open.
func (w *Worker) IsAlive() bool {
	return w.alive.Load()
}

// Dropped returns how many outbound messages were discarded because the send queue was full.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// RemoteAddr returns the client address.
func (w *Worker) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// Deliver queues msg for transmission. Never blocks. A full queue closes the
// session, since the broadcast engine already counts msg as delivered.
func (w *Worker) Deliver(msg string) {
	if !w.alive.Load() {
		return
	}
	select {
	case w.sendCh <- msg:
	default:
		w.dropped.Add(1)
		w.logger.Warn("Send queue full, closing session", "worker", w.label())
		w.Close()
	}
}

// Close ends the session and unregisters its entity. Safe to call more than once.
func (w *Worker) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.alive.Store(false)
		close(w.done)
		err = w.conn.Close()
		w.unregister()
	})
	return err
}

// Wait blocks until both loops have exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) label() string {
	if id, ok := w.ID(); ok {
		return id
	}
	return "pending"
}

func (w *Worker) readLoop() {
	defer w.wg.Done()
	defer w.Close()

	scanner := bufio.NewScanner(w.conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		err := w.handleLine(line)
		if errors.Is(err, errGoodbye) {
			return
		}
		if err != nil {
			w.logger.Warn("Ignoring client message", "worker", w.label(), "error", err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		w.logger.Debug("Client read failed", "worker", w.label(), "error", err)
	}
}

func (w *Worker) handleLine(line string) error {
	msg, err := protocol.Parse(line)
	if err != nil {
		return err
	}

	id, registered := w.ID()
	e := dispatcher.Event{
		Command:   msg.Kind.String(),
		Worker:    id,
		Message:   msg,
		Timestamp: time.Now(),
	}

	switch msg.Kind {
	case protocol.KindRegister:
		if registered {
			return fmt.Errorf("%w as %s", ErrAlreadyRegistered, id)
		}
		result, err := w.d.Dispatch(e)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		newID, ok := result.(string)
		if !ok || newID == "" {
			return fmt.Errorf("register: unexpected result %v", result)
		}
		// the reply is queued before the id becomes visible to the broadcast tick,
		// so no update can overtake it
		w.reply(protocol.Registered(newID))
		w.mu.Lock()
		w.id = newID
		w.mu.Unlock()

		select {
		case <-w.done:
			// closed mid-handshake; Close saw no id
			w.unregister()
			return errGoodbye
		default:
		}
		w.logger.Info("Client registered", "worker", newID)
		return nil

	case protocol.KindUpdate:
		if !registered {
			return ErrNotRegistered
		}
		if _, err := w.d.Dispatch(e); err != nil {
			return fmt.Errorf("update: %w", err)
		}
		return nil

	case protocol.KindUnregister:
		if !registered {
			return ErrNotRegistered
		}
		return errGoodbye
	}
	return nil
}

// reply queues a handshake message, waiting for room instead of dropping it.
func (w *Worker) reply(msg string) {
	select {
	case w.sendCh <- msg:
	case <-w.done:
	}
}

func (w *Worker) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case msg := <-w.sendCh:
			if err := w.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				w.logger.Debug("SetWriteDeadline failed", "worker", w.label(), "error", err)
				w.Close()
				return
			}
			if _, err := io.WriteString(w.conn, msg+"\n"); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					w.logger.Warn("Write to client failed", "worker", w.label(), "error", err)
				}
				w.Close()
				return
			}
		}
	}
}

func (w *Worker) unregister() {
	id, ok := w.ID()
	if !ok {
		w.logger.Debug("Client disconnected before registering")
		return
	}
	_, err := w.d.Dispatch(dispatcher.Event{
		Command:   protocol.KindUnregister.String(),
		Worker:    id,
		Message:   protocol.Message{Kind: protocol.KindUnregister},
		Timestamp: time.Now(),
	})
	if err != nil {
		w.logger.Error("Failed to unregister client", "worker", id, "error", err)
		return
	}
	w.logger.Info("Client disconnected", "worker", id)
}
