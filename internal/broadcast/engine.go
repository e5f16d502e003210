// Package broadcast computes, once per tick, the add/change/remove delta each
// connected consumer needs and hands it to that consumer's worker.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/multidriver/relay/internal/registry"
	"github.com/multidriver/relay/pkg/protocol"
)

// Worker is the view of a connection the engine needs.
type Worker interface {
	// ID returns the registered entity id, or false while the handshake is pending.
	ID() (string, bool)
	IsAlive() bool
	// Deliver queues msg for transmission. It must not block.
	Deliver(msg string)
}

// Stats summarizes one tick.
type Stats struct {
	Time      time.Time
	Duration  time.Duration
	Workers   int // live workers after pruning
	Pruned    int
	Skipped   int // handshake pending or registry entry gone
	Delivered int
	Adds      int
	Changes   int
	Removes   int
	Bytes     int
}

// Engine owns every consumer's known-peer set. Tick must only be called from
// one goroutine at a time.
type Engine struct {
	registry *registry.Registry
	logger   *slog.Logger

	known map[string]*peerSet

	mu   sync.RWMutex
	last Stats

	ticks     metric.Int64Counter
	fragments metric.Int64Counter
	messages  metric.Int64Counter
	bytes     metric.Int64Counter
	pruned    metric.Int64Counter
	workers   metric.Int64ObservableGauge
}

var (
	kindAdd    = metric.WithAttributes(attribute.String("kind", protocol.ElemAdd))
	kindChange = metric.WithAttributes(attribute.String("kind", protocol.ElemChange))
	kindRemove = metric.WithAttributes(attribute.String("kind", protocol.ElemRemove))
)

// New creates an engine reading reg. Uses the global OTel meter for metrics
// (no-op if not configured).
func New(reg *registry.Registry, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		registry: reg,
		logger:   logger,
		known:    make(map[string]*peerSet),
	}

	m := meter()
	var err error

	if e.ticks, err = m.Int64Counter("broadcast.ticks",
		metric.WithDescription("Broadcast ticks executed")); err != nil {
		return nil, fmt.Errorf("creating ticks counter: %w", err)
	}
	if e.fragments, err = m.Int64Counter("broadcast.fragments",
		metric.WithDescription("Delta fragments emitted, by kind")); err != nil {
		return nil, fmt.Errorf("creating fragments counter: %w", err)
	}
	if e.messages, err = m.Int64Counter("broadcast.messages",
		metric.WithDescription("Update messages handed to workers")); err != nil {
		return nil, fmt.Errorf("creating messages counter: %w", err)
	}
	if e.bytes, err = m.Int64Counter("broadcast.bytes",
		metric.WithDescription("Encoded update bytes handed to workers"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("creating bytes counter: %w", err)
	}
	if e.pruned, err = m.Int64Counter("broadcast.workers.pruned",
		metric.WithDescription("Dead workers removed from the worker list")); err != nil {
		return nil, fmt.Errorf("creating pruned counter: %w", err)
	}
	if e.workers, err = m.Int64ObservableGauge("broadcast.workers",
		metric.WithDescription("Live workers at the last tick")); err != nil {
		return nil, fmt.Errorf("creating workers gauge: %w", err)
	}
	if _, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(e.workers, int64(e.LastStats().Workers))
		return nil
	}, e.workers); err != nil {
		return nil, fmt.Errorf("registering workers callback: %w", err)
	}

	return e, nil
}

// Tick brings every live worker's view up to date and returns the workers
// that are still alive. Dead workers are dropped together with their
// known-peer state.
func (e *Engine) Tick(workers []Worker) ([]Worker, Stats) {
	start := time.Now()
	stats := Stats{Time: start}

	snapshot := e.registry.Snapshot()
	present := make(map[string]struct{}, len(snapshot))
	for _, ent := range snapshot {
		present[ent.ID] = struct{}{}
	}
	isPresent := func(id string) bool {
		_, ok := present[id]
		return ok
	}

	live := make([]Worker, 0, len(workers))
	for _, w := range workers {
		if !w.IsAlive() {
			e.forget(w)
			stats.Pruned++
			continue
		}
		live = append(live, w)

		id, ok := w.ID()
		if !ok {
			stats.Skipped++
			continue
		}
		if !e.registry.Contains(id) {
			e.logger.Debug("Skipping worker without registry entry", "worker", id)
			stats.Skipped++
			continue
		}

		known, ok := e.known[id]
		if !ok {
			known = newPeerSet()
			e.known[id] = known
		}

		var u protocol.Update
		for _, ent := range snapshot {
			if ent.ID == id {
				continue
			}
			if !known.has(ent.ID) {
				u.Add(ent.ID, ent.ModelPath, ent.DriverName)
				known.add(ent.ID)
			}
			if m, pending := ent.PendingFor(id); pending {
				u.Change(ent.ID, m)
			}
		}
		known.dropMissing(isPresent, u.Remove)

		msg := u.String()
		if msg == "" {
			continue
		}
		w.Deliver(msg)

		adds, changes, removes := u.Counts()
		stats.Adds += adds
		stats.Changes += changes
		stats.Removes += removes
		stats.Delivered++
		stats.Bytes += len(msg)
	}

	stats.Workers = len(live)
	stats.Duration = time.Since(start)
	e.record(stats)
	return live, stats
}

// peersOf returns the ids worker id has been told about, in announcement order.
func (e *Engine) peersOf(id string) []string {
	s, ok := e.known[id]
	if !ok {
		return nil
	}
	out := make([]string, s.len())
	copy(out, s.order)
	return out
}

// LastStats returns the statistics of the most recent tick.
func (e *Engine) LastStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.last
}

func (e *Engine) forget(w Worker) {
	id, ok := w.ID()
	if !ok {
		return
	}
	delete(e.known, id)
	e.registry.ForgetConsumer(id)
	e.logger.Debug("Pruned dead worker", "worker", id)
}

func (e *Engine) record(s Stats) {
	e.mu.Lock()
	e.last = s
	e.mu.Unlock()

	ctx := context.Background()
	e.ticks.Add(ctx, 1)
	if s.Adds > 0 {
		e.fragments.Add(ctx, int64(s.Adds), kindAdd)
	}
	if s.Changes > 0 {
		e.fragments.Add(ctx, int64(s.Changes), kindChange)
	}
	if s.Removes > 0 {
		e.fragments.Add(ctx, int64(s.Removes), kindRemove)
	}
	if s.Delivered > 0 {
		e.messages.Add(ctx, int64(s.Delivered))
		e.bytes.Add(ctx, int64(s.Bytes))
	}
	if s.Pruned > 0 {
		e.pruned.Add(ctx, int64(s.Pruned))
	}
}
