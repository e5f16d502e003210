package monitor

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/multidriver/relay/internal/broadcast"
	"github.com/multidriver/relay/internal/database"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/internal/server"
	"github.com/multidriver/relay/internal/storage"
	gormstorage "github.com/multidriver/relay/internal/storage/gorm"
	"github.com/multidriver/relay/pkg/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct{ status server.Status }

func (f fakeServer) Status() server.Status { return f.status }

type fakeInflux struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
}

func (f *fakeInflux) Bucket() string { return "relay_performance" }

func (f *fakeInflux) WritePoint(bucket string, p *influxdb2_write.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, p)
	return nil
}

func (f *fakeInflux) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

func testStatus() server.Status {
	return server.Status{
		Addr:     "127.0.0.1:4242",
		Running:  true,
		Started:  time.Now().Add(-time.Minute),
		Workers:  3,
		Entities: 2,
		Accepted: 5,
		LastTick: broadcast.Stats{Duration: 1500 * time.Microsecond, Delivered: 4, Bytes: 512},
	}
}

func TestGetStatus(t *testing.T) {
	s := NewService(Dependencies{Server: fakeServer{testStatus()}})

	lines, perf := s.GetStatus()

	assert.Equal(t, uint32(3), perf.Workers)
	assert.Equal(t, uint32(2), perf.Entities)
	assert.Equal(t, uint32(4), perf.Delivered)
	assert.Equal(t, uint64(512), perf.Bytes)
	assert.Equal(t, float32(1.5), perf.TickDurationMs)

	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, "addr: 127.0.0.1:4242")
	assert.Contains(t, joined, "workers: 3")
	assert.Contains(t, joined, "uptime: 1m0s")
	assert.Contains(t, joined, `"Delivered": 4`)
}

type droppingBackend struct {
	storage.Nop
	n uint64
}

func (b droppingBackend) Dropped() uint64 { return b.n }

func TestGetStatus_RecorderDrops(t *testing.T) {
	s := NewService(Dependencies{Server: fakeServer{testStatus()}, Backend: droppingBackend{n: 7}})
	lines, _ := s.GetStatus()
	assert.Contains(t, lines, "recorder dropped: 7")

	s = NewService(Dependencies{Server: fakeServer{testStatus()}, Backend: storage.Nop{}})
	lines, _ = s.GetStatus()
	assert.NotContains(t, strings.Join(lines, "\n"), "recorder dropped")
}

func TestSample_WritesStatusFileAndInflux(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.txt")
	influx := &fakeInflux{}
	s := NewService(Dependencies{
		Server:     fakeServer{testStatus()},
		Influx:     influx,
		StatusFile: path,
	})

	s.Sample()
	s.Sample()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// rewritten, not appended
	assert.Equal(t, 1, strings.Count(string(raw), "addr: 127.0.0.1:4242"))
	assert.Equal(t, 2, influx.count())

	p := influx.points[0]
	assert.Equal(t, "relay_tick", p.Name())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "127.0.0.1:4242", p.TagList()[0].Value)
}

func TestSample_RecordsPerformanceRow(t *testing.T) {
	db, err := database.GetSqliteDB("", zerolog.Nop())
	require.NoError(t, err)
	backend := gormstorage.New(gormstorage.Dependencies{DB: db, WriteInterval: time.Hour})
	require.NoError(t, backend.Init())
	defer backend.Close()

	s := NewService(Dependencies{Server: fakeServer{testStatus()}, Backend: backend})

	// no session yet: nothing written
	s.Sample()
	var count int64
	db.Model(&model.RelayPerformance{}).Count(&count)
	assert.Equal(t, int64(0), count)

	session := &core.Session{Name: "perf", StartTime: time.Now()}
	require.NoError(t, backend.StartSession(session))
	require.NoError(t, backend.AddEntity(&core.Entity{RelayID: "mdv_1"}))
	s.Sample()

	var perf model.RelayPerformance
	require.NoError(t, db.First(&perf).Error)
	assert.Equal(t, session.ID, perf.SessionID)
	assert.Equal(t, uint32(3), perf.Workers)
	assert.Equal(t, uint32(1), perf.WriteQueueLengths.Entities)
}

func TestStartStop(t *testing.T) {
	influx := &fakeInflux{}
	s := NewService(Dependencies{
		Server:   fakeServer{testStatus()},
		Influx:   influx,
		Interval: 10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return influx.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	n := influx.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, influx.count())

	// stopping twice is a no-op
	s.Stop()
}
