package dap

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/go-dap"
)

// fakeAdapter is an in-process stand-in for a DAP adapter subprocess: it
// reads framed requests off one pipe and writes framed responses/events on
// another, letting client tests exercise real framing without spawning a
// process.
type fakeAdapter struct {
	reader *bufio.Reader
	writer io.Writer
}

func newFakeAdapterClient(t *testing.T) (*client, *fakeAdapter) {
	t.Helper()

	toAdapter, toAdapterWrite := io.Pipe()
	fromAdapterRead, fromAdapter := io.Pipe()

	c := &client{
		stdin:     toAdapterWrite,
		stdout:    bufio.NewReaderSize(fromAdapterRead, maxHeaderBytes),
		responses: make(map[int]chan dap.ResponseMessage),
		events:    make(chan dap.EventMessage, 32),
		readErr:   make(chan error, 1),
		closed:    make(chan struct{}),
	}
	go c.readLoop()

	return c, &fakeAdapter{reader: bufio.NewReader(toAdapter), writer: fromAdapter}
}

func (f *fakeAdapter) readRequest(t *testing.T) dap.RequestMessage {
	t.Helper()
	msg, err := dap.ReadProtocolMessage(f.reader)
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	req, ok := msg.(dap.RequestMessage)
	if !ok {
		t.Fatalf("expected request message, got %T", msg)
	}
	return req
}

func (f *fakeAdapter) write(t *testing.T, msg dap.Message) {
	t.Helper()
	if err := dap.WriteProtocolMessage(f.writer, msg); err != nil {
		t.Fatalf("write message: %v", err)
	}
}

func TestRoundTripSkipsInterveningEvents(t *testing.T) {
	c, adapter := newFakeAdapterClient(t)
	defer c.close()

	req := &dap.ContinueRequest{Request: dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
		Command:         "continue",
	}}
	req.Arguments = dap.ContinueArguments{ThreadId: 1}

	done := make(chan dap.ResponseMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := c.roundTrip(context.Background(), req, nil)
		if err != nil {
			errCh <- err
			return
		}
		done <- resp
	}()

	gotReq := adapter.readRequest(t)
	if gotReq.GetRequest().Command != "continue" {
		t.Fatalf("expected continue request, got %s", gotReq.GetRequest().Command)
	}

	// Adapter sends output events before the response, as real adapters do.
	adapter.write(t, &dap.OutputEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "event"}, Event: "output"},
		Body:  dap.OutputEventBody{Output: "starting up\n"},
	})
	adapter.write(t, &dap.ContinueResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 3, Type: "response"},
			RequestSeq:      1,
			Success:         true,
			Command:         "continue",
		},
	})

	select {
	case err := <-errCh:
		t.Fatalf("roundTrip errored: %v", err)
	case resp := <-done:
		if !resp.GetResponse().Success {
			t.Fatalf("expected successful response")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for round trip")
	}
}

func TestWaitEventStopsOnStopped(t *testing.T) {
	c, adapter := newFakeAdapterClient(t)
	defer c.close()

	resultCh := make(chan dap.EventMessage, 1)
	errCh := make(chan error, 1)
	go func() {
		evt, err := c.waitEvent(context.Background(), func(e dap.EventMessage) bool {
			_, ok := e.(*dap.StoppedEvent)
			return ok
		})
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- evt
	}()

	adapter.write(t, &dap.OutputEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "event"}, Event: "output"},
		Body:  dap.OutputEventBody{Output: "noise\n"},
	})
	adapter.write(t, &dap.StoppedEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "event"}, Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 7},
	})

	select {
	case err := <-errCh:
		t.Fatalf("waitEvent errored: %v", err)
	case evt := <-resultCh:
		stopped, ok := evt.(*dap.StoppedEvent)
		if !ok {
			t.Fatalf("expected *dap.StoppedEvent, got %T", evt)
		}
		if stopped.Body.ThreadId != 7 {
			t.Fatalf("expected thread 7, got %d", stopped.Body.ThreadId)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stopped event")
	}
}
