package driver

import (
	"context"
	"errors"
)

// Sentinel errors a driver may return. The dispatcher (internal/tool)
// checks these with errors.Is and maps them to JSON-RPC error codes; a
// driver should never need to invent a new taxonomy per backend.
var (
	ErrUnsupportedLanguage  = errors.New("driver: unsupported language")
	ErrSpawnFailed          = errors.New("driver: spawn failed")
	ErrAdapterHandshake     = errors.New("driver: adapter handshake failed")
	ErrNotPaused            = errors.New("driver: session is not paused")
	ErrBackend              = errors.New("driver: backend error")
	ErrFileNotIndexed       = errors.New("driver: file not indexed")
	ErrLineHasNoCode        = errors.New("driver: line has no code")
	ErrUnknownBreakpoint    = errors.New("driver: unknown breakpoint")
	ErrBadFrame             = errors.New("driver: bad frame")
	ErrUnknownReference     = errors.New("driver: unknown variable reference")
	ErrEvaluationFailed     = errors.New("driver: evaluation failed")
)

// Driver is the single capability set the tool dispatcher programs
// against. Both the DAP proxy (internal/dap) and the native DWARF engine
// (internal/dwarf) implement it; the session manager stores one owned
// instance per session and never reaches past this interface.
type Driver interface {
	// Launch starts (or attaches to) the debuggee described by cfg. On
	// success the driver is left in a paused state equivalent to
	// StopEntry; the caller is responsible for recording that as the
	// session's initial status.
	Launch(ctx context.Context, cfg LaunchConfig) error

	// Run performs a single execution-control action and blocks until the
	// backend reports a stop; there is no async/streaming variant.
	Run(ctx context.Context, action RunAction, args []string) (StopState, error)

	// SetBreakpoint plants or replaces a breakpoint at file:line.
	SetBreakpoint(ctx context.Context, spec BreakpointSpec) (Breakpoint, error)

	// RemoveBreakpoint clears a previously planted breakpoint by id.
	RemoveBreakpoint(ctx context.Context, id uint32) error

	// ListBreakpoints returns every breakpoint currently tracked by the
	// driver, in the order they were set.
	ListBreakpoints(ctx context.Context) ([]Breakpoint, error)

	// Inspect evaluates an expression, expands a variables reference, or
	// lists a scope's variables, depending on which field of req is set.
	Inspect(ctx context.Context, req InspectRequest) (InspectResult, error)

	// Stop forcibly terminates the debuggee and releases every resource
	// (subprocess, file descriptors, traced process) the driver holds.
	// It must be safe to call more than once.
	Stop(ctx context.Context) error
}
