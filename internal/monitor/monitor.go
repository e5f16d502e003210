// Package monitor periodically samples the relay status and publishes it to a
// status file, InfluxDB and the recording database.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/internal/server"
	"github.com/multidriver/relay/internal/storage"

	"gorm.io/gorm"
)

// DefaultInterval is used when Dependencies.Interval is not set.
const DefaultInterval = time.Second

// StatusSource reports the relay status.
type StatusSource interface {
	Status() server.Status
}

// PointWriter receives one InfluxDB point per sample.
type PointWriter interface {
	Bucket() string
	WritePoint(bucket string, point *influxdb2_write.Point) error
}

// perfRecorder is implemented by the GORM-based backends.
type perfRecorder interface {
	DB() *gorm.DB
	SessionID() uint
}

type lastWriter interface {
	GetLastDBWriteDuration() time.Duration
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Server     StatusSource
	Backend    storage.Backend // optional
	Influx     PointWriter     // optional
	Logger     *slog.Logger
	Interval   time.Duration
	StatusFile string // empty disables the status file
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{deps: deps}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the status lines written to the status file and the matching performance row.
func (s *Service) GetStatus() (output []string, perf model.RelayPerformance) {
	status := s.deps.Server.Status()
	tick := status.LastTick

	perf = model.RelayPerformance{
		Time:           time.Now(),
		Workers:        uint32(status.Workers),
		Entities:       uint32(status.Entities),
		TickDurationMs: float32(tick.Duration.Microseconds()) / 1000,
		Delivered:      uint32(tick.Delivered),
		Bytes:          uint64(tick.Bytes),
	}

	queues := map[string]int{}
	if qp, ok := s.deps.Backend.(storage.QueueLengthProvider); ok {
		queues = qp.QueueLengths()
		perf.WriteQueueLengths = model.WriteQueueLengths{
			Entities:     uint32(queues["entities"]),
			EntityStates: uint32(queues["entity_states"]),
			Removals:     uint32(queues["removals"]),
		}
	}
	if lw, ok := s.deps.Backend.(lastWriter); ok {
		perf.LastWriteDurationMs = float32(lw.GetLastDBWriteDuration().Microseconds()) / 1000
	}

	output = append(output,
		fmt.Sprintf("addr: %s", status.Addr),
		fmt.Sprintf("running: %t", status.Running),
		fmt.Sprintf("uptime: %s", uptime(status.Started)),
		fmt.Sprintf("workers: %d", status.Workers),
		fmt.Sprintf("entities: %d", status.Entities),
		fmt.Sprintf("accepted: %d", status.Accepted),
		fmt.Sprintf("dropped: %d", status.Dropped),
	)
	if dc, ok := s.deps.Backend.(storage.DropCounter); ok {
		output = append(output, fmt.Sprintf("recorder dropped: %d", dc.Dropped()))
	}

	tickStr, err := json.MarshalIndent(tick, "", "  ")
	if err != nil {
		tickStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	output = append(output, string(tickStr))

	if len(queues) > 0 {
		queuesStr, err := json.MarshalIndent(queues, "", "  ")
		if err != nil {
			queuesStr = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		output = append(output, string(queuesStr))
	}

	return output, perf
}

func uptime(started time.Time) time.Duration {
	if started.IsZero() {
		return 0
	}
	return time.Since(started).Truncate(time.Second)
}

// Sample takes one status sample and publishes it.
func (s *Service) Sample() {
	logger := s.deps.Logger
	lines, perf := s.GetStatus()

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, lines); err != nil {
			logger.Error("Error writing status file", "path", s.deps.StatusFile, "error", err)
		}
	}

	if s.deps.Influx != nil {
		status := s.deps.Server.Status()
		point := influxdb2_write.NewPointWithMeasurement("relay_tick").
			AddTag("addr", status.Addr).
			AddField("workers", perf.Workers).
			AddField("entities", perf.Entities).
			AddField("delivered", perf.Delivered).
			AddField("bytes", perf.Bytes).
			AddField("tick_ms", perf.TickDurationMs).
			AddField("dropped", status.Dropped).
			SetTime(perf.Time)
		if err := s.deps.Influx.WritePoint(s.deps.Influx.Bucket(), point); err != nil {
			logger.Error("Error writing InfluxDB point", "error", err)
		}
	}

	// write model to the recording database
	if pr, ok := s.deps.Backend.(perfRecorder); ok && pr.DB() != nil {
		if id := pr.SessionID(); id != 0 {
			perf.SessionID = id
			if err := pr.DB().Create(&perf).Error; err != nil {
				logger.Error("Error writing perf model", "error", err)
			}
		}
	}
}

func writeStatusFile(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := f.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Sample()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
