// Package rpc implements the gateway's stdio transport: a JSON-RPC 2.0
// request/response loop exposing the tool catalog (internal/tool) over
// stdin/stdout, and an ordered shutdown path that tears down every
// session the manager still owns.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/adamavenir/cogdbg/internal/driver"
	"github.com/adamavenir/cogdbg/internal/session"
	"github.com/adamavenir/cogdbg/internal/tool"
)

const protocolVersion = "2024-11-05"

// Standard JSON-RPC 2.0 error codes. Debugger-specific failures are mapped
// onto these rather than carrying a reserved application code: a backend
// precondition violation (not paused, unknown breakpoint, ...) is an
// invalid-params error, and a backend failure (spawn, handshake, crash) is
// an internal error.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Server is the JSON-RPC loop over a tool.Dispatcher and the session
// manager it shares with it. Exactly one Server runs per process; stdout
// is reserved for JSON-RPC traffic, so all logging goes to stderr.
type Server struct {
	name       string
	version    string
	sessions   *session.Manager
	dispatcher *tool.Dispatcher
	timeout    time.Duration
	mu         sync.Mutex
}

// SetTimeout bounds the context of every subsequent tools/call at d; a DAP
// request still in flight when it expires is abandoned and reported as an
// error. The native DWARF engine does not observe the context. Zero
// disables the bound.
func (s *Server) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
}

// NewServer builds a server wired to its own session manager, starting
// the idle/orphan reaper immediately.
func NewServer(name, version string) *Server {
	sessions := session.NewManager()
	sessions.StartReaper(context.Background())
	return &Server{
		name:       name,
		version:    version,
		sessions:   sessions,
		dispatcher: tool.NewDispatcher(sessions),
	}
}

// Sessions exposes the underlying manager, used by the command layer to
// wire signal-triggered shutdown.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Serve runs the request loop until in is exhausted, the context is
// canceled, or a "shutdown" notification arrives. It never itself closes
// sessions on EOF — callers that need an ordered teardown on process exit
// should call Sessions().DestroyAll from their own signal handler.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}

	decoder := json.NewDecoder(in)
	writer := bufio.NewWriter(out)
	encoder := json.NewEncoder(writer)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			logf("decode error: %v", err)
			s.writeResponse(encoder, writer, response{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: err.Error()}})
			continue
		}

		if req.JSONRPC != "2.0" || req.Method == "" {
			s.writeResponse(encoder, writer, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "malformed request"}})
			continue
		}

		isNotification := len(req.ID) == 0 || string(req.ID) == "null"
		if isNotification {
			if req.Method == "shutdown" {
				return nil
			}
			continue
		}

		result, rpcErr := s.handle(ctx, req)
		resp := response{JSONRPC: "2.0", ID: req.ID}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
		s.writeResponse(encoder, writer, resp)
	}
}

func (s *Server) writeResponse(encoder *json.Encoder, writer *bufio.Writer, resp response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := encoder.Encode(resp); err != nil {
		logf("encode error: %v", err)
		return
	}
	_ = writer.Flush()
}

func (s *Server) handle(ctx context.Context, req request) (any, *rpcError) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req.Params), nil
	case "tools/list":
		return map[string]any{"tools": tool.Catalog()}, nil
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	case "ping":
		return map[string]any{}, nil
	case "shutdown":
		return map[string]any{}, nil
	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
}

func (s *Server) handleInitialize(raw json.RawMessage) any {
	version := protocolVersion
	if len(raw) > 0 {
		var params struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		if err := json.Unmarshal(raw, &params); err == nil && params.ProtocolVersion != "" {
			version = params.ProtocolVersion
		}
	}
	return map[string]any{
		"protocolVersion": version,
		"serverInfo":      map[string]any{"name": s.name, "version": s.version},
		"capabilities":    map[string]any{"tools": map[string]any{}},
	}
}

func (s *Server) handleToolCall(ctx context.Context, raw json.RawMessage) (any, *rpcError) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	if params.Name == "" {
		return nil, &rpcError{Code: codeInvalidParams, Message: "missing tool name"}
	}
	if params.Arguments == nil {
		params.Arguments = json.RawMessage(`{}`)
	}

	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.dispatcher.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		return nil, classifyError(err)
	}
	return result, nil
}

// classifyError maps a driver/tool/session sentinel error onto a
// JSON-RPC error code. Anything outside the taxonomy below is reported
// as an internal error rather than leaking an unrecognized message shape
// to the agent.
func classifyError(err error) *rpcError {
	switch {
	case errors.Is(err, tool.ErrUnknownTool):
		return &rpcError{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, tool.ErrMissingField):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, session.ErrUnknownSession):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, driver.ErrUnsupportedLanguage),
		errors.Is(err, driver.ErrFileNotIndexed),
		errors.Is(err, driver.ErrLineHasNoCode),
		errors.Is(err, driver.ErrUnknownBreakpoint),
		errors.Is(err, driver.ErrUnknownReference),
		errors.Is(err, driver.ErrEvaluationFailed),
		errors.Is(err, driver.ErrBadFrame),
		errors.Is(err, driver.ErrNotPaused):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, driver.ErrSpawnFailed),
		errors.Is(err, driver.ErrAdapterHandshake),
		errors.Is(err, driver.ErrBackend):
		return &rpcError{Code: codeInternalError, Message: err.Error()}
	default:
		return &rpcError{Code: codeInternalError, Message: err.Error()}
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func logf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "[cogdbg] %s\n", fmt.Sprintf(format, args...))
}
