// Package server runs the accept loop: it binds the listener, spawns a
// worker per connection and drives one broadcast tick per poll interval.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multidriver/relay/internal/broadcast"
	"github.com/multidriver/relay/internal/registry"
	"github.com/multidriver/relay/internal/worker"
)

// DefaultMaxFramerate is used when Config.MaxFramerate is not positive.
const DefaultMaxFramerate = 20

// ErrAlreadyListening is returned by Listen on a bound server.
var ErrAlreadyListening = errors.New("server already listening")

// Config holds listener settings.
type Config struct {
	Host         string
	Port         int
	MaxFramerate int
	SendQueue    int
}

// Interval is the accept wait, and therefore the minimum tick spacing.
func (c Config) Interval() time.Duration {
	fps := c.MaxFramerate
	if fps <= 0 {
		fps = DefaultMaxFramerate
	}
	interval := time.Duration(1000/fps) * time.Millisecond
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// Status is a point-in-time view of the relay.
type Status struct {
	Addr     string
	Running  bool
	Started  time.Time
	Workers  int
	Entities int
	Accepted uint64
	Dropped  uint64
	LastTick broadcast.Stats
}

// Server owns the listener, the worker list and the broadcast engine.
type Server struct {
	cfg      Config
	registry *registry.Registry
	engine   *broadcast.Engine
	d        worker.Dispatcher
	logger   *slog.Logger

	listener *net.TCPListener
	running  atomic.Bool
	accepted atomic.Uint64
	dropped  atomic.Uint64 // send queue overflows of pruned workers
	done     chan struct{}
	stopOnce sync.Once

	// lifecycle guards the Serve/Stop handshake
	lifecycle sync.Mutex
	serving   bool
	stopped   bool
	started   time.Time

	mu      sync.Mutex
	workers []*worker.Worker
}

// New creates a server relaying reg. d receives every worker event.
func New(cfg Config, reg *registry.Registry, d worker.Dispatcher, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := broadcast.New(reg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating broadcast engine: %w", err)
	}
	return &Server{
		cfg:      cfg,
		registry: reg,
		engine:   engine,
		d:        d,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Listen binds the TCP listener. Port 0 picks a free port.
func (s *Server) Listen() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.listen()
}

func (s *Server) listen() error {
	if s.listener != nil {
		return ErrAlreadyListening
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info("Relay listening", "addr", ln.Addr().String(), "interval", s.cfg.Interval())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until Stop. It binds first if Listen was not called.
func (s *Server) Serve() error {
	s.lifecycle.Lock()
	if s.stopped || s.serving {
		s.lifecycle.Unlock()
		return nil
	}
	if s.listener == nil {
		if err := s.listen(); err != nil {
			s.lifecycle.Unlock()
			return err
		}
	}
	s.serving = true
	s.started = time.Now()
	s.running.Store(true)
	s.lifecycle.Unlock()

	defer close(s.done)
	defer s.listener.Close()

	interval := s.cfg.Interval()

	for s.running.Load() {
		s.tick()

		if err := s.listener.SetDeadline(time.Now().Add(interval)); err != nil {
			return fmt.Errorf("setting accept deadline: %w", err)
		}
		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				break
			}
			s.running.Store(false)
			return fmt.Errorf("accepting connection: %w", err)
		}

		s.spawn(conn)
	}

	s.logger.Info("Accept loop stopped")
	return nil
}

func (s *Server) spawn(conn net.Conn) {
	w := worker.New(conn, s.d, s.logger, s.cfg.SendQueue)
	w.Start()
	s.accepted.Add(1)

	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()

	s.logger.Debug("Accepted connection", "remote", w.RemoteAddr())
}

func (s *Server) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]broadcast.Worker, len(s.workers))
	for i, w := range s.workers {
		list[i] = w
	}

	live, _ := s.engine.Tick(list)

	kept := make(map[*worker.Worker]struct{}, len(live))
	for _, w := range live {
		kept[w.(*worker.Worker)] = struct{}{}
	}
	for _, w := range s.workers {
		if _, ok := kept[w]; !ok {
			s.dropped.Add(w.Dropped())
		}
	}

	s.workers = s.workers[:0]
	for _, w := range live {
		s.workers = append(s.workers, w.(*worker.Worker))
	}
}

// Stop clears the running flag, waits for the loop to exit (at most one
// interval) and closes every worker.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.lifecycle.Lock()
		s.stopped = true
		serving := s.serving
		ln := s.listener
		s.running.Store(false)
		s.lifecycle.Unlock()

		if serving {
			<-s.done
		} else if ln != nil {
			ln.Close()
		}

		s.mu.Lock()
		workers := s.workers
		s.workers = nil
		s.mu.Unlock()

		for _, w := range workers {
			w.Close()
		}
		for _, w := range workers {
			w.Wait()
		}
		s.logger.Info("Relay stopped", "workers", len(workers))
	})
}

// Running reports whether the accept loop is active.
func (s *Server) Running() bool {
	return s.running.Load()
}

// Status returns a snapshot for monitoring.
func (s *Server) Status() Status {
	st := Status{
		Running:  s.running.Load(),
		Entities: s.registry.Len(),
		Accepted: s.accepted.Load(),
		LastTick: s.engine.LastStats(),
	}

	s.lifecycle.Lock()
	st.Started = s.started
	if s.listener != nil {
		st.Addr = s.listener.Addr().String()
	}
	s.lifecycle.Unlock()

	s.mu.Lock()
	st.Workers = len(s.workers)
	st.Dropped = s.dropped.Load()
	for _, w := range s.workers {
		st.Dropped += w.Dropped()
	}
	s.mu.Unlock()

	return st
}
