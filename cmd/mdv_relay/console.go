package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/multidriver/relay/internal/server"
)

const statusCommand = "s"

var errNoPort = errors.New("no port given")

// console is the operator's terminal: port prompt, banner and stop command.
// The prompt and the stop reader share one buffered reader so no input is lost between them.
type console struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewReader(in), out: out}
}

// resolvePort takes the port from the first argument, then the configured port,
// then asks the operator.
func (c *console) resolvePort(args []string, configured int) (int, error) {
	if len(args) > 0 {
		return parsePort(args[0])
	}
	if configured > 0 {
		return parsePort(strconv.Itoa(configured))
	}

	fmt.Fprint(c.out, "Port: ")
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return 0, errNoPort
	}
	return parsePort(line)
}

func parsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errNoPort
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%d is out of range 1-65535", port)
	}
	return port, nil
}

func (c *console) printBanner(addr, stopCommand string) {
	fmt.Fprintf(c.out, "%s v%s (built %s)\n", AppName, CurrentVersion, BuildDate)
	fmt.Fprintf(c.out, "Relay listening on %s\n", addr)
	fmt.Fprintf(c.out, "Type %q for status, %q to stop\n", statusCommand, stopCommand)
}

func (c *console) printStatus(st server.Status) {
	fmt.Fprintf(c.out, "addr=%s running=%t workers=%d entities=%d accepted=%d dropped=%d uptime=%s\n",
		st.Addr, st.Running, st.Workers, st.Entities, st.Accepted, st.Dropped, since(st.Started))
	fmt.Fprintf(c.out, "last tick: delivered=%d bytes=%d took=%s\n",
		st.LastTick.Delivered, st.LastTick.Bytes, st.LastTick.Duration)
}

func since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return time.Since(t).Truncate(time.Second)
}

// waitForStop blocks until the operator enters stopCommand (case-insensitive) or ctx is done.
// Closed input is not a stop request; the relay then runs until ctx is done.
func (c *console) waitForStop(ctx context.Context, stopCommand string, onStatus func()) string {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "signal"
		case line := <-lines:
			cmd := strings.TrimSpace(line)
			switch {
			case cmd == "":
			case strings.EqualFold(cmd, stopCommand):
				return "stop command"
			case strings.EqualFold(cmd, statusCommand) && onStatus != nil:
				onStatus()
			default:
				fmt.Fprintf(c.out, "Unknown command %q, type %q to stop\n", cmd, stopCommand)
			}
		}
	}
}
