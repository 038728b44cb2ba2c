// Package dap implements the DAP proxy driver: a framed transport and
// protocol codec over github.com/google/go-dap, wrapping a spawned
// adapter subprocess (debugpy, dlv dap, an inspector bridge) as a
// driver.Driver.
package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
)

// maxHeaderBytes sizes the buffered reader over the adapter's stdout.
// Neither constant caps a message: go-dap's ReadProtocolMessage reads
// whatever header and Content-Length the adapter sends, and no check
// compares them against maxHeaderBytes or maxBodyBytes.
const (
	maxHeaderBytes = 8 * 1024
	maxBodyBytes   = 16 * 1024 * 1024
)

func logf(format string, args ...any) {
	fmt.Fprintf(stderr, "[cogdbg/dap] "+format+"\n", args...)
}

// client owns one adapter subprocess and the read loop that demultiplexes
// its stdout into responses and events, mirroring the actor pattern shown
// in the pack's DAP session wrappers: a single read loop forwards typed
// messages onto buffered channels, and roundTrip blocks on the matching
// response while draining events that arrive first.
type client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	seq int64

	mu        sync.Mutex
	responses map[int]chan dap.ResponseMessage
	events    chan dap.EventMessage
	readErr   chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// newClient spawns command with args and starts the read loop. The
// adapter's stderr is left attached to the gateway's own stderr so adapter
// diagnostics are visible without corrupting the stdout DAP stream. extraEnv
// is appended to the subprocess's inherited environment, used to carry a
// sandbox middleman's Landlock rule set through to the re-exec.
func newClient(ctx context.Context, command string, args []string, extraEnv []string) (*client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stderr = stderr
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("dap: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("dap: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("dap: spawn %s: %w", command, err)
	}

	c := &client{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReaderSize(stdout, maxHeaderBytes),
		responses: make(map[int]chan dap.ResponseMessage),
		events:    make(chan dap.EventMessage, 32),
		readErr:   make(chan error, 1),
		closed:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) readLoop() {
	for {
		msg, err := dap.ReadProtocolMessage(c.stdout)
		if err != nil {
			select {
			case c.readErr <- err:
			default:
			}
			close(c.events)
			return
		}
		switch m := msg.(type) {
		case dap.ResponseMessage:
			seq := m.GetResponse().RequestSeq
			c.mu.Lock()
			ch, ok := c.responses[seq]
			if ok {
				delete(c.responses, seq)
			}
			c.mu.Unlock()
			if ok {
				ch <- m
			}
		case dap.EventMessage:
			select {
			case c.events <- m:
			case <-c.closed:
				return
			}
		default:
			logf("unexpected message type %T", msg)
		}
	}
}

// nextSeq returns the next request sequence number.
func (c *client) nextSeq() int {
	return int(atomic.AddInt64(&c.seq, 1))
}

// send writes req and returns a channel that receives its matching
// response once the read loop demultiplexes it.
func (c *client) send(req dap.RequestMessage) (chan dap.ResponseMessage, error) {
	seq := req.GetRequest().Seq
	ch := make(chan dap.ResponseMessage, 1)
	c.mu.Lock()
	c.responses[seq] = ch
	c.mu.Unlock()

	if err := dap.WriteProtocolMessage(c.stdin, req); err != nil {
		c.mu.Lock()
		delete(c.responses, seq)
		c.mu.Unlock()
		return nil, fmt.Errorf("dap: write request: %w", err)
	}
	return ch, nil
}

// roundTrip sends req and waits for its response, returning the events
// observed along the way — mirroring the pack's session actors, which
// must not mistake a StoppedEvent or OutputEvent for the response to the
// in-flight request.
func (c *client) roundTrip(ctx context.Context, req dap.RequestMessage, onEvent func(dap.EventMessage)) (dap.ResponseMessage, error) {
	ch, err := c.send(req)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case resp := <-ch:
			return resp, nil
		case evt, ok := <-c.events:
			if !ok {
				return nil, c.drainErr()
			}
			if onEvent != nil {
				onEvent(evt)
			}
		case err := <-c.readErr:
			return nil, fmt.Errorf("dap: adapter closed: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, io.ErrClosedPipe
		}
	}
}

// waitEvent blocks until onEvent accepts an event as terminal (returns
// true), or the adapter closes, or ctx is done. Used to wait through
// intervening output while a run action is in flight after the adapter has
// already acknowledged the continue/next/stepIn/stepOut request.
func (c *client) waitEvent(ctx context.Context, onEvent func(dap.EventMessage) bool) (dap.EventMessage, error) {
	for {
		select {
		case evt, ok := <-c.events:
			if !ok {
				return nil, c.drainErr()
			}
			if onEvent(evt) {
				return evt, nil
			}
		case err := <-c.readErr:
			return nil, fmt.Errorf("dap: adapter closed: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, io.ErrClosedPipe
		}
	}
}

func (c *client) drainErr() error {
	select {
	case err := <-c.readErr:
		return fmt.Errorf("dap: adapter closed: %w", err)
	default:
		return io.ErrClosedPipe
	}
}

// close terminates the adapter subprocess. Safe to call more than once.
func (c *client) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		err = c.cmd.Wait()
	})
	return err
}
