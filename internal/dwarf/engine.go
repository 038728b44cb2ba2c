package dwarf

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// Engine is the native driver.Driver: no adapter subprocess, no DAP wire
// protocol, just a traced process and a parsed binary.
type Engine struct {
	mu      sync.Mutex
	bin     *binary
	proc    *tracedProcess
	regs    *registry
	handles *handleTable

	cfg driver.LaunchConfig
}

// NewEngine returns an unlaunched native engine.
func NewEngine() *Engine {
	return &Engine{regs: newRegistry(), handles: newHandleTable()}
}

var _ driver.Driver = (*Engine)(nil)

// Launch parses program's DWARF info, spawns it under ptrace, and stops it
// at the entrypoint (or, if cfg.StopOnEntry is false, continues it only
// once the caller issues the first run operation — Launch itself always
// leaves the process stopped, matching Proxy's contract).
func (e *Engine) Launch(ctx context.Context, cfg driver.LaunchConfig) error {
	bin, err := openBinary(cfg.Program)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrSpawnFailed, err)
	}

	proc, err := startTraced(cfg.Program, cfg.Args, cfg.Env, cfg.Cwd)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrSpawnFailed, err)
	}

	e.mu.Lock()
	e.bin = bin
	e.proc = proc
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

func runActionValid(action driver.RunAction) bool {
	switch action {
	case driver.RunContinue, driver.RunStepInto, driver.RunStepOver, driver.RunStepOut, driver.RunRestart:
		return true
	default:
		return false
	}
}

// Run performs one execution-control action, returning once the traced
// process traps (breakpoint or step completion) or exits. step_over
// single-steps until the line changes, tracking the stack pointer to run
// through any call made from the current line; step_into simply
// single-steps until the line changes; step_out runs to the current
// frame's return address.
func (e *Engine) Run(ctx context.Context, action driver.RunAction, args []string) (driver.StopState, error) {
	if !runActionValid(action) {
		return driver.StopState{}, fmt.Errorf("%w: unknown run action %q", driver.ErrBackend, action)
	}

	e.mu.Lock()
	proc := e.proc
	e.mu.Unlock()
	if proc == nil {
		return driver.StopState{}, driver.ErrNotPaused
	}

	if action == driver.RunRestart {
		return e.restart(ctx, args)
	}

	// A previous stop at a planted breakpoint leaves its trap under the
	// program counter; step past it with the original bytes restored so
	// the resumed process does not trap on the same breakpoint again.
	if pb := e.breakpointAtPC(proc); pb != nil {
		if err := proc.stepOverTrap(pb); err != nil {
			return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
		}
		if proc.exited {
			e.handles.reset()
			code := proc.exitCode
			return driver.StopState{Reason: driver.StopExit, ExitCode: &code}, nil
		}
	}

	for {
		var err error
		switch action {
		case driver.RunContinue:
			err = e.continueToNextTrap(proc)
		case driver.RunStepInto:
			err = e.stepLine(proc)
		case driver.RunStepOver:
			err = e.stepOverLine(proc)
		case driver.RunStepOut:
			err = e.stepOut(proc)
		}
		if err != nil {
			return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
		}

		if proc.exited {
			e.handles.reset()
			code := proc.exitCode
			return driver.StopState{Reason: driver.StopExit, ExitCode: &code}, nil
		}

		pc, err := proc.programCounter()
		if err != nil {
			return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
		}

		pb, atBreakpoint := e.regs.byAddr(pc - trapAdjustment())
		if !atBreakpoint {
			e.handles.reset()
			return driver.StopState{Reason: stepStopReason(action)}, nil
		}

		if err := proc.rewindOverTrap(pb.Address); err != nil {
			return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
		}
		if hitConditionSatisfied(pb) {
			e.handles.reset()
			return driver.StopState{Reason: driver.StopBreakpoint}, nil
		}
		// Hit condition not yet satisfied: step past this
		// breakpoint and keep running without ever surfacing a stop for it.
		if err := proc.stepOverTrap(pb); err != nil {
			return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
		}
		action = driver.RunContinue
	}
}

func stepStopReason(action driver.RunAction) driver.StopReason {
	if action == driver.RunContinue {
		return driver.StopBreakpoint
	}
	return driver.StopStep
}

func (e *Engine) restart(ctx context.Context, args []string) (driver.StopState, error) {
	e.mu.Lock()
	proc := e.proc
	cfg := e.cfg
	existing := e.regs.list()
	e.mu.Unlock()

	if proc != nil {
		_ = proc.kill()
	}
	if len(args) > 0 {
		cfg.Args = args
	}

	e.regs = newRegistry()
	if err := e.Launch(ctx, cfg); err != nil {
		return driver.StopState{}, err
	}
	for _, bp := range existing {
		if _, err := e.SetBreakpoint(ctx, driver.BreakpointSpec{
			File: bp.File, Line: bp.Line, Condition: bp.Condition, HitCondition: bp.HitCondition,
		}); err != nil {
			return driver.StopState{}, err
		}
	}
	return driver.StopState{Reason: driver.StopEntry}, nil
}

// SetBreakpoint resolves file:line to an address via the line index and
// plants a trap there, sharing a single planted trap across specs that
// resolve to the same address.
func (e *Engine) SetBreakpoint(ctx context.Context, spec driver.BreakpointSpec) (driver.Breakpoint, error) {
	e.mu.Lock()
	bin := e.bin
	proc := e.proc
	e.mu.Unlock()
	if bin == nil || proc == nil {
		return driver.Breakpoint{}, driver.ErrNotPaused
	}

	addr, resolvedLine, err := bin.addressForLine(spec.File, spec.Line)
	if err != nil {
		return driver.Breakpoint{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.regs.byAddr(addr); ok {
		existing.Condition = spec.Condition
		existing.HitCondition = spec.HitCondition
		return existing.Breakpoint, nil
	}

	original, err := proc.plantTrap(addr)
	if err != nil {
		return driver.Breakpoint{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}

	bp := driver.Breakpoint{
		File:         spec.File,
		Line:         resolvedLine,
		Condition:    spec.Condition,
		HitCondition: spec.HitCondition,
		Verified:     true,
	}
	pb := e.regs.add(addr, original, bp)
	return pb.Breakpoint, nil
}

// RemoveBreakpoint restores the original instruction byte(s) at the
// breakpoint's address and forgets it.
func (e *Engine) RemoveBreakpoint(ctx context.Context, id uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	pb, ok := e.regs.removeByID(id)
	if !ok {
		return driver.ErrUnknownBreakpoint
	}
	if e.proc == nil {
		return driver.ErrNotPaused
	}
	if err := e.proc.removeTrap(pb.Address, pb.OriginalCode); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	return nil
}

// ListBreakpoints returns every planted breakpoint in id order.
func (e *Engine) ListBreakpoints(ctx context.Context) ([]driver.Breakpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.regs.list(), nil
}

// Stop kills the traced process. Safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	proc := e.proc
	e.proc = nil
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.kill()
}
