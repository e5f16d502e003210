package otel

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Nil(t, p.LoggerProvider())
	assert.NotNil(t, p.Meter("test"))
	assert.NoError(t, p.Flush(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_EnabledWithoutExporters(t *testing.T) {
	_, err := New(Config{Enabled: true, ServiceName: "mdv-relay"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no log writer or endpoint")
}

func TestNew_FileExporter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(Config{
		Enabled:      true,
		ServiceName:  "mdv-relay",
		BatchTimeout: time.Second,
		LogWriter:    &buf,
	})
	require.NoError(t, err)
	require.NotNil(t, p.LoggerProvider())
	assert.True(t, p.Enabled())

	ctx := context.Background()
	assert.NoError(t, p.Flush(ctx))
	assert.NoError(t, p.Shutdown(ctx))
}
