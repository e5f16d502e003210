package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/multidriver/relay/pkg/streaming"
)

const (
	outboxSize   = 10_000
	ackBuffer    = 16
	maxReconnect = 10
	baseBackoff  = time.Second
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// link is the recorder's WebSocket. A single supervisor goroutine owns the
// socket: it writes queued messages and, when the socket fails, redials with
// backoff and replays the session start before resuming.
type link struct {
	target string // dial URL including the secret
	dialer *ws.Dialer
	outbox chan []byte
	acks   chan streaming.AckMessage
	done   chan struct{}
	exited chan struct{} // closed when the supervisor returns

	mu       sync.Mutex
	started  bool
	closed   bool
	replay   []byte // start_session envelope while a session is open
	closeErr error

	backoff time.Duration
	dropped atomic.Uint64
	logger  *slog.Logger
}

func newLink(logger *slog.Logger) *link {
	return &link{
		dialer:  &ws.Dialer{HandshakeTimeout: writeWait},
		outbox:  make(chan []byte, outboxSize),
		acks:    make(chan streaming.AckMessage, ackBuffer),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		backoff: baseBackoff,
		logger:  logger,
	}
}

// open dials rawURL with the secret as a query parameter and starts the supervisor.
func (l *link) open(rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("secret", secret)
	u.RawQuery = q.Encode()
	l.target = u.String()

	sock, err := l.dial()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = sock.Close()
		return errors.New("websocket link closed")
	}
	l.started = true
	go l.supervise(sock)
	return nil
}

func (l *link) dial() (*ws.Conn, error) {
	sock, _, err := l.dialer.Dial(l.target, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return sock, nil
}

func (l *link) supervise(sock *ws.Conn) {
	defer close(l.exited)

	var carry []byte
	for {
		failed := make(chan error, 1)
		go l.readAcks(sock, failed)

		var err error
		carry, err = l.pump(sock, carry, failed)
		if err == nil {
			l.shutdown(sock)
			return
		}

		l.logger.Warn("WebSocket connection lost", "error", err)
		_ = sock.Close()
		if sock = l.redial(); sock == nil {
			return
		}
	}
}

// pump writes queued messages until the socket fails or the link closes.
// On failure it returns the message that was not written so the next socket
// can retry it. A nil error means shutdown.
func (l *link) pump(sock *ws.Conn, carry []byte, failed <-chan error) ([]byte, error) {
	for {
		msg := carry
		carry = nil
		if msg == nil {
			select {
			case <-l.done:
				return nil, nil
			case err := <-failed:
				return nil, err
			case msg = <-l.outbox:
			}
		}
		if err := sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return msg, err
		}
		if err := sock.WriteMessage(ws.TextMessage, msg); err != nil {
			return msg, err
		}
	}
}

func (l *link) shutdown(sock *ws.Conn) {
	_ = sock.SetWriteDeadline(time.Now().Add(time.Second))
	_ = sock.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	err := sock.Close()

	l.mu.Lock()
	l.closeErr = err
	l.mu.Unlock()
}

// readAcks routes server acks to the acks channel and reports the first read error.
func (l *link) readAcks(sock *ws.Conn, failed chan<- error) {
	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			failed <- err
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(raw, &ack); err != nil || ack.Type != "ack" {
			l.logger.Debug("Ignoring non-ack message", "raw", string(raw))
			continue
		}
		select {
		case l.acks <- ack:
		default:
			l.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial returns a fresh socket with the open session replayed, or nil once
// the link is closed or every attempt failed.
func (l *link) redial() *ws.Conn {
	backoff := l.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		l.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-l.done:
			return nil
		case <-time.After(backoff):
		}

		sock, err := l.dial()
		if err == nil {
			if err = l.replayStart(sock); err == nil {
				l.logger.Info("WebSocket reconnected", "attempt", attempt)
				return sock
			}
			_ = sock.Close()
		}
		l.logger.Warn("Reconnect failed", "attempt", attempt, "error", err)
		backoff = min(backoff*2, maxBackoff)
	}

	l.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
	return nil
}

func (l *link) replayStart(sock *ws.Conn) error {
	l.mu.Lock()
	msg := l.replay
	l.mu.Unlock()
	if msg == nil {
		return nil
	}
	if err := sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := sock.WriteMessage(ws.TextMessage, msg); err != nil {
		return fmt.Errorf("replaying start_session: %w", err)
	}
	return nil
}

// setReplay stores the start_session envelope sent again after a reconnect; nil clears it.
func (l *link) setReplay(msg []byte) {
	l.mu.Lock()
	l.replay = msg
	l.mu.Unlock()
}

// send queues msg without blocking. A full outbox drops msg.
func (l *link) send(msg []byte) {
	select {
	case l.outbox <- msg:
	default:
		l.dropped.Add(1)
		l.logger.Warn("WebSocket outbox full, dropping message")
	}
}

func (l *link) pending() int {
	return len(l.outbox)
}

// sendAndWait queues msg and blocks until the server acks ackFor or timeout passes.
func (l *link) sendAndWait(msg []byte, ackFor string, timeout time.Duration) error {
	l.send(msg)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-l.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-l.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close stops the supervisor and waits for it to send the close frame.
func (l *link) close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	started := l.started
	l.mu.Unlock()

	if !started {
		return nil
	}
	<-l.exited

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeErr
}
