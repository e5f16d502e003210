package influx

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/multidriver/relay/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable() config.InfluxConfig {
	return config.InfluxConfig{
		Enabled:  true,
		Host:     "127.0.0.1",
		Port:     "1",
		Protocol: "http",
		Token:    "t",
		Org:      "org",
		Bucket:   "relay_performance",
	}
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "b"}, zerolog.Nop(), "")
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
	assert.False(t, m.IsValid)
	assert.NoError(t, m.Close())
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(unreachable(), zerolog.Nop(), path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)
	assert.Equal(t, "relay_performance", m.Bucket())

	p := influxdb2_write.NewPointWithMeasurement("relay_tick").
		AddTag("addr", "127.0.0.1:4242").
		AddField("workers", 3).
		SetTime(time.Unix(0, 42))
	require.NoError(t, m.WritePoint(m.Bucket(), p))
	require.NoError(t, m.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	line := strings.TrimSpace(string(raw))
	assert.Equal(t, "relay_tick,addr=127.0.0.1:4242 workers=3i 42", line)
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(unreachable(), zerolog.Nop(), "")
	err := m.WritePoint("relay_performance", influxdb2_write.NewPointWithMeasurement("x").AddField("v", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup writer not available")
}
