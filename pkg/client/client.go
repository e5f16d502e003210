// Package client is a driver-side connection to the relay: it performs the
// register handshake, sends motion reports and decodes the relay's updates.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/multidriver/relay/pkg/protocol"
)

const (
	handshakeTimeout = 5 * time.Second
	maxLineSize      = 64 * 1024
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("client closed")

// Conn is one registered driver.
type Conn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	id      string

	mu     sync.Mutex // serializes writes
	closed bool
}

// Dial connects to addr and registers a car. The handshake is bounded by ctx
// and a five second deadline, whichever ends first.
func Dial(ctx context.Context, addr, modelPath, driverName string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing relay: %w", err)
	}

	deadline := time.Now().Add(handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := nc.SetDeadline(deadline); err != nil {
		nc.Close()
		return nil, err
	}

	c := &Conn{conn: nc, scanner: bufio.NewScanner(nc)}
	c.scanner.Buffer(make([]byte, 4096), maxLineSize)

	if err := c.writeLine(protocol.Register(modelPath, driverName)); err != nil {
		nc.Close()
		return nil, fmt.Errorf("sending register: %w", err)
	}
	line, err := c.readLine()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("waiting for registered: %w", err)
	}
	if c.id, err = protocol.ParseRegistered(line); err != nil {
		nc.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	if err := nc.SetDeadline(time.Time{}); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

// ID returns the id the relay assigned to this car.
func (c *Conn) ID() string { return c.id }

// SendMotion reports the car's current motion.
func (c *Conn) SendMotion(m protocol.Motion) error {
	return c.writeLine(protocol.ClientUpdate(m))
}

// Next blocks for the next <update> and returns its fragments in order.
// A zero timeout waits indefinitely.
func (c *Conn) Next(timeout time.Duration) ([]protocol.Fragment, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	line, err := c.readLine()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeUpdate(line)
}

// Close sends <unregister /> and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, werr := io.WriteString(c.conn, protocol.Unregister()+"\n")
	c.closed = true
	c.mu.Unlock()

	if err := c.conn.Close(); err != nil {
		return err
	}
	if werr != nil && !errors.Is(werr, net.ErrClosed) {
		return fmt.Errorf("sending unregister: %w", werr)
	}
	return nil
}

func (c *Conn) writeLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *Conn) readLine() (string, error) {
	for c.scanner.Scan() {
		if line := strings.TrimSpace(c.scanner.Text()); line != "" {
			return line, nil
		}
	}
	if err := c.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
