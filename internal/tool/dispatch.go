package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adamavenir/cogdbg/internal/dap"
	"github.com/adamavenir/cogdbg/internal/driver"
	"github.com/adamavenir/cogdbg/internal/dwarf"
	"github.com/adamavenir/cogdbg/internal/session"
)

// ErrUnknownTool is returned for a tools/call naming something outside the
// catalog; the rpc package maps it to a JSON-RPC -32601.
var ErrUnknownTool = errors.New("tool: unknown tool")

// ErrMissingField is returned when a required argument is absent; the rpc
// package maps it to a JSON-RPC -32602.
var ErrMissingField = errors.New("tool: missing required field")

// Dispatcher routes tools/call onto the session manager and the driver
// each session owns.
type Dispatcher struct {
	Sessions *session.Manager
}

// NewDispatcher builds a dispatcher over an existing session manager.
func NewDispatcher(sessions *session.Manager) *Dispatcher {
	return &Dispatcher{Sessions: sessions}
}

// Call executes one tools/call by name, returning a JSON-serializable
// result or an error from the sentinel taxonomy above or from
// internal/driver.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case NameLaunch:
		return d.launch(ctx, args)
	case NameBreakpoint:
		return d.breakpoint(ctx, args)
	case NameRun:
		return d.run(ctx, args)
	case NameInspect:
		return d.inspect(ctx, args)
	case NameStop:
		return d.stop(ctx, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
}

type launchArgs struct {
	Program     string            `json:"program"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Cwd         string            `json:"cwd"`
	Language    string            `json:"language"`
	StopOnEntry bool              `json:"stop_on_entry"`
}

type launchResult struct {
	SessionID string            `json:"session_id"`
	Stop      driver.StopState  `json:"stop"`
}

func (d *Dispatcher) launch(ctx context.Context, raw json.RawMessage) (any, error) {
	var a launchArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if a.Program == "" {
		return nil, fmt.Errorf("%w: program", ErrMissingField)
	}

	language := a.Language
	if language == "" {
		language = languageFromExtension(a.Program)
	}

	drv, driverType := newDriverForLanguage(language)

	cfg := driver.LaunchConfig{
		Program:     a.Program,
		Args:        a.Args,
		Env:         a.Env,
		Cwd:         a.Cwd,
		Language:    language,
		StopOnEntry: a.StopOnEntry,
	}
	if err := drv.Launch(ctx, cfg); err != nil {
		return nil, err
	}

	s := d.Sessions.Create(drv, os.Getpid(), session.OrphanTerminate, driverType)
	_ = s.SetStatus(session.StatusStopped)

	return launchResult{SessionID: s.ID, Stop: driver.StopState{Reason: driver.StopEntry}}, nil
}

// languageFromExtension maps a program path's extension to a driver
// language hint: DAP-backed languages go to the DAP proxy, anything else
// to the native DWARF engine.
func languageFromExtension(program string) string {
	switch filepath.Ext(program) {
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".go":
		return "go"
	default:
		return "native"
	}
}

// newDriverForLanguage returns an unlaunched driver.Driver for language,
// and a short label recorded for session enumeration.
func newDriverForLanguage(language string) (driver.Driver, string) {
	switch language {
	case "python", "go", "javascript", "typescript", "node":
		return dap.NewProxy(), "dap"
	default:
		return dwarf.NewEngine(), "dwarf"
	}
}

type breakpointArgs struct {
	SessionID    string `json:"session_id"`
	Action       string `json:"action"`
	File         string `json:"file"`
	Line         int    `json:"line"`
	Condition    string `json:"condition"`
	HitCondition string `json:"hit_condition"`
	BreakpointID uint32 `json:"breakpoint_id"`
}

func (d *Dispatcher) breakpoint(ctx context.Context, raw json.RawMessage) (any, error) {
	var a breakpointArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if a.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	s, err := d.Sessions.Get(a.SessionID)
	if err != nil {
		return nil, err
	}

	switch a.Action {
	case "set":
		if a.File == "" || a.Line == 0 {
			return nil, fmt.Errorf("%w: file and line are required to set a breakpoint", ErrMissingField)
		}
		bp, err := s.Driver.SetBreakpoint(ctx, driver.BreakpointSpec{
			File: a.File, Line: a.Line, Condition: a.Condition, HitCondition: a.HitCondition,
		})
		if err != nil {
			return nil, err
		}
		return bp, nil
	case "remove":
		if a.BreakpointID == 0 {
			return nil, fmt.Errorf("%w: breakpoint_id", ErrMissingField)
		}
		if err := s.Driver.RemoveBreakpoint(ctx, a.BreakpointID); err != nil {
			return nil, err
		}
		return map[string]any{"removed": a.BreakpointID}, nil
	case "list":
		bps, err := s.Driver.ListBreakpoints(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"breakpoints": bps}, nil
	default:
		return nil, fmt.Errorf("%w: action must be one of set, remove, list", ErrMissingField)
	}
}

type runArgs struct {
	SessionID string   `json:"session_id"`
	Action    string   `json:"action"`
	Args      []string `json:"args"`
}

func (d *Dispatcher) run(ctx context.Context, raw json.RawMessage) (any, error) {
	var a runArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if a.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	if a.Action == "" {
		return nil, fmt.Errorf("%w: action", ErrMissingField)
	}
	s, err := d.Sessions.Get(a.SessionID)
	if err != nil {
		return nil, err
	}

	_ = s.SetStatus(session.StatusRunning)
	stop, err := s.Driver.Run(ctx, driver.RunAction(a.Action), a.Args)
	if err != nil {
		return nil, err
	}

	if stop.Reason == driver.StopExit {
		_ = s.SetStatus(session.StatusTerminated)
	} else {
		_ = s.SetStatus(session.StatusStopped)
	}
	return stop, nil
}

type inspectArgs struct {
	SessionID          string `json:"session_id"`
	Expression         string `json:"expression"`
	VariablesReference uint32 `json:"variables_reference"`
	Scope              string `json:"scope"`
	FrameID            int    `json:"frame_id"`
}

func (d *Dispatcher) inspect(ctx context.Context, raw json.RawMessage) (any, error) {
	var a inspectArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if a.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	s, err := d.Sessions.Get(a.SessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.Driver.Inspect(ctx, driver.InspectRequest{
		Expression:  a.Expression,
		VariableRef: a.VariablesReference,
		Scope:       a.Scope,
		FrameID:     a.FrameID,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type stopArgs struct {
	SessionID string `json:"session_id"`
}

func (d *Dispatcher) stop(ctx context.Context, raw json.RawMessage) (any, error) {
	var a stopArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingField, err)
	}
	if a.SessionID == "" {
		return nil, fmt.Errorf("%w: session_id", ErrMissingField)
	}
	if err := d.Sessions.Destroy(ctx, a.SessionID); err != nil {
		return nil, err
	}
	return map[string]any{"stopped": a.SessionID}, nil
}
