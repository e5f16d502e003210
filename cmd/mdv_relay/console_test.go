package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/multidriver/relay/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr string
	}{
		{in: "4242", want: 4242},
		{in: " 80\r\n", want: 80},
		{in: "65535", want: 65535},
		{in: "", wantErr: "no port given"},
		{in: "abc", wantErr: `"abc" is not a number`},
		{in: "0", wantErr: "0 is out of range 1-65535"},
		{in: "70000", wantErr: "70000 is out of range 1-65535"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePort(tt.in)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("argument wins", func(t *testing.T) {
		c := newConsole(strings.NewReader("1111\n"), io.Discard)
		port, err := c.resolvePort([]string{"2222"}, 3333)
		require.NoError(t, err)
		assert.Equal(t, 2222, port)
	})

	t.Run("configured port", func(t *testing.T) {
		c := newConsole(strings.NewReader("1111\n"), io.Discard)
		port, err := c.resolvePort(nil, 3333)
		require.NoError(t, err)
		assert.Equal(t, 3333, port)
	})

	t.Run("prompt", func(t *testing.T) {
		var out bytes.Buffer
		c := newConsole(strings.NewReader("1111\n"), &out)
		port, err := c.resolvePort(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 1111, port)
		assert.Equal(t, "Port: ", out.String())
	})

	t.Run("prompt without newline", func(t *testing.T) {
		c := newConsole(strings.NewReader("1234"), io.Discard)
		port, err := c.resolvePort(nil, 0)
		require.NoError(t, err)
		assert.Equal(t, 1234, port)
	})

	t.Run("closed input", func(t *testing.T) {
		c := newConsole(strings.NewReader(""), io.Discard)
		_, err := c.resolvePort(nil, 0)
		assert.ErrorIs(t, err, errNoPort)
	})
}

func TestWaitForStop_Command(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("4242\nhello\n\ns\n  E \n"), &out)

	// the prompt consumes the first line; the rest reaches the stop reader
	port, err := c.resolvePort(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 4242, port)

	statusCalls := 0
	reason := c.waitForStop(context.Background(), "e", func() { statusCalls++ })

	assert.Equal(t, "stop command", reason)
	assert.Equal(t, 1, statusCalls)
	assert.Contains(t, out.String(), `Unknown command "hello"`)
}

func TestWaitForStop_Signal(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c := newConsole(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan string, 1)
	go func() { done <- c.waitForStop(ctx, "e", nil) }()

	cancel()
	select {
	case reason := <-done:
		assert.Equal(t, "signal", reason)
	case <-time.After(2 * time.Second):
		t.Fatal("waitForStop did not return after cancel")
	}
}

func TestWaitForStop_ClosedInputKeepsRunning(t *testing.T) {
	c := newConsole(strings.NewReader(""), io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.Equal(t, "signal", c.waitForStop(ctx, "e", nil))
}

func TestPrintBannerAndStatus(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader(""), &out)

	c.printBanner("127.0.0.1:4242", "e")
	assert.Contains(t, out.String(), "Relay listening on 127.0.0.1:4242")
	assert.Contains(t, out.String(), `"e" to stop`)

	out.Reset()
	c.printStatus(server.Status{Addr: "127.0.0.1:4242", Running: true, Workers: 2, Entities: 3})
	assert.Contains(t, out.String(), "workers=2 entities=3")
	assert.Contains(t, out.String(), "uptime=0s")
}
