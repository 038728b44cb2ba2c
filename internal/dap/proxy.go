package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"

	"github.com/adamavenir/cogdbg/internal/driver"
	"github.com/adamavenir/cogdbg/internal/sandbox"
)

// adapterCommand resolves a language hint to the adapter subprocess
// command and args.
func adapterCommand(language string) (string, []string, error) {
	switch language {
	case "python":
		return "python3", []string{"-m", "debugpy.adapter"}, nil
	case "go":
		return "dlv", []string{"dap", "--listen=stdio"}, nil
	case "javascript", "typescript", "node":
		return "node", []string{"--inspect-brk=0"}, nil
	default:
		return "", nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedLanguage, language)
	}
}

// sandboxAdapterCommand wraps command/args so the adapter subprocess — and,
// transitively, the debuggee it spawns under the hood — runs confined to
// cfg's project directory. Landlock and sandbox-exec restrictions are
// inherited across a process's own further forks and execs, so confining
// the adapter confines what it launches even though the proxy never sees
// that inner spawn directly. Every platform without a confinement backend
// (anything but linux/darwin) runs the adapter unconfined.
func sandboxAdapterCommand(cfg driver.LaunchConfig, command string, args []string) (string, []string, []string, error) {
	policy := sandbox.Policy{ProjectDir: projectDirFor(cfg)}
	switch runtime.GOOS {
	case "linux":
		wrapped, wrappedArgs, env, err := sandbox.WrapLinux(policy, command, args)
		if err != nil {
			return "", nil, nil, err
		}
		return wrapped, wrappedArgs, env, nil
	case "darwin":
		wrapped, wrappedArgs, err := sandbox.WrapDarwin(policy, command, args)
		if err != nil {
			return "", nil, nil, err
		}
		return wrapped, wrappedArgs, nil, nil
	default:
		return command, args, nil, nil
	}
}

func projectDirFor(cfg driver.LaunchConfig) string {
	if cfg.Cwd != "" {
		return cfg.Cwd
	}
	if abs, err := filepath.Abs(filepath.Dir(cfg.Program)); err == nil {
		return abs
	}
	return filepath.Dir(cfg.Program)
}

// Proxy drives an adapter subprocess through the DAP protocol state
// machine: spawned -> initialized -> launched -> paused -> awaiting_stop
// -> done. It implements driver.Driver.
type Proxy struct {
	mu        sync.Mutex
	client    *client
	seq       int64
	breakpts  map[uint32]driver.Breakpoint
	nextBpID  uint32
	curThread int
	launchCfg driver.LaunchConfig
	done      bool
}

// NewProxy constructs an unlaunched proxy. Launch must be called before any
// other driver operation, matching driver.Driver's contract.
func NewProxy() *Proxy {
	return &Proxy{breakpts: make(map[uint32]driver.Breakpoint)}
}

var _ driver.Driver = (*Proxy)(nil)

func (p *Proxy) nextSeq() int { return int(atomic.AddInt64(&p.seq, 1)) }

func (p *Proxy) request(seq int, command string) dap.Request {
	return dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}
}

// Launch spawns the adapter and performs the initialize, launch and
// configurationDone requests, forwarding cfg.StopOnEntry as the launch
// request's stopOnEntry. It plants no breakpoints (callers set those
// afterward through SetBreakpoint) and returns once the adapter
// acknowledges configurationDone, without waiting for a stopped event.
func (p *Proxy) Launch(ctx context.Context, cfg driver.LaunchConfig) error {
	command, args, err := adapterCommand(cfg.Language)
	if err != nil {
		return err
	}
	command, args, sandboxEnv, err := sandboxAdapterCommand(cfg, command, args)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrSpawnFailed, err)
	}
	c, err := newClient(ctx, command, args, sandboxEnv)
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrSpawnFailed, err)
	}

	p.mu.Lock()
	p.client = c
	p.launchCfg = cfg
	p.mu.Unlock()

	initArgs, _ := json.Marshal(dap.InitializeRequestArguments{
		ClientID:                     "cogdbg",
		ClientName:                   "cogdbg",
		AdapterID:                    cfg.Language,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       false,
		SupportsRunInTerminalRequest: false,
	})
	initReq := &dap.InitializeRequest{Request: p.request(p.nextSeq(), "initialize")}
	initReq.Arguments = json.RawMessage(initArgs)
	if _, err := c.roundTrip(ctx, initReq, nil); err != nil {
		c.close()
		return fmt.Errorf("%w: initialize: %v", driver.ErrAdapterHandshake, err)
	}

	if err := p.launchOrAttach(ctx, c, cfg); err != nil {
		c.close()
		return err
	}

	cfgDone := &dap.ConfigurationDoneRequest{Request: p.request(p.nextSeq(), "configurationDone")}
	if _, err := c.roundTrip(ctx, cfgDone, p.observeEvent); err != nil {
		c.close()
		return fmt.Errorf("%w: configurationDone: %v", driver.ErrAdapterHandshake, err)
	}

	return nil
}

func (p *Proxy) launchOrAttach(ctx context.Context, c *client, cfg driver.LaunchConfig) error {
	body := map[string]any{
		"program":     cfg.Program,
		"args":        cfg.Args,
		"cwd":         cfg.Cwd,
		"env":         cfg.Env,
		"stopOnEntry": cfg.StopOnEntry,
	}
	raw, _ := json.Marshal(body)
	launchReq := &dap.LaunchRequest{Request: p.request(p.nextSeq(), "launch")}
	launchReq.Arguments = json.RawMessage(raw)
	if _, err := c.roundTrip(ctx, launchReq, p.observeEvent); err != nil {
		return fmt.Errorf("%w: launch: %v", driver.ErrAdapterHandshake, err)
	}
	return nil
}

// observeEvent updates curThread and other session-observable state as
// events arrive during a round trip; it never treats an event as the
// response being waited for.
func (p *Proxy) observeEvent(evt dap.EventMessage) {
	switch e := evt.(type) {
	case *dap.StoppedEvent:
		p.mu.Lock()
		p.curThread = e.Body.ThreadId
		p.mu.Unlock()
	case *dap.OutputEvent:
		logf("adapter output: %s", e.Body.Output)
	case *dap.TerminatedEvent, *dap.ExitedEvent:
		p.mu.Lock()
		p.done = true
		p.mu.Unlock()
	}
}

func runActionCommand(action driver.RunAction) (string, error) {
	switch action {
	case driver.RunContinue:
		return "continue", nil
	case driver.RunStepOver:
		return "next", nil
	case driver.RunStepInto:
		return "stepIn", nil
	case driver.RunStepOut:
		return "stepOut", nil
	case driver.RunRestart:
		return "restart", nil
	default:
		return "", fmt.Errorf("%w: unknown run action %q", driver.ErrBackend, action)
	}
}

// Run issues one execution-control request and blocks until the adapter
// reports the next stop: run is synchronous at the driver surface.
func (p *Proxy) Run(ctx context.Context, action driver.RunAction, args []string) (driver.StopState, error) {
	p.mu.Lock()
	c := p.client
	thread := p.curThread
	p.mu.Unlock()
	if c == nil {
		return driver.StopState{}, driver.ErrNotPaused
	}

	if action == driver.RunRestart {
		return p.restart(ctx, args)
	}

	cmd, err := runActionCommand(action)
	if err != nil {
		return driver.StopState{}, err
	}

	req, err := p.runRequest(cmd, thread)
	if err != nil {
		return driver.StopState{}, err
	}

	resp, err := c.roundTrip(ctx, req, p.observeEvent)
	if err != nil {
		return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	if !resp.GetResponse().Success {
		return driver.StopState{}, fmt.Errorf("%w: %s", driver.ErrBackend, resp.GetResponse().Message)
	}

	var stopEvt dap.EventMessage
	stopEvt, err = c.waitEvent(ctx, func(evt dap.EventMessage) bool {
		switch evt.(type) {
		case *dap.StoppedEvent, *dap.TerminatedEvent, *dap.ExitedEvent:
			return true
		default:
			p.observeEvent(evt)
			return false
		}
	})
	if err != nil {
		return driver.StopState{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	p.observeEvent(stopEvt)
	return stopStateFromEvent(stopEvt), nil
}

func (p *Proxy) runRequest(command string, thread int) (dap.RequestMessage, error) {
	args, _ := json.Marshal(map[string]any{"threadId": thread})
	seq := p.nextSeq()
	switch command {
	case "continue":
		r := &dap.ContinueRequest{Request: p.request(seq, command)}
		r.Arguments = dap.ContinueArguments{ThreadId: thread}
		return r, nil
	case "next":
		r := &dap.NextRequest{Request: p.request(seq, command)}
		r.Arguments = dap.NextArguments{ThreadId: thread}
		return r, nil
	case "stepIn":
		r := &dap.StepInRequest{Request: p.request(seq, command)}
		r.Arguments = dap.StepInArguments{ThreadId: thread}
		return r, nil
	case "stepOut":
		r := &dap.StepOutRequest{Request: p.request(seq, command)}
		r.Arguments = dap.StepOutArguments{ThreadId: thread}
		return r, nil
	default:
		_ = args
		return nil, fmt.Errorf("%w: unhandled run command %q", driver.ErrBackend, command)
	}
}

func stopStateFromEvent(evt dap.EventMessage) driver.StopState {
	switch e := evt.(type) {
	case *dap.StoppedEvent:
		reason := driver.StopBreakpoint
		switch e.Body.Reason {
		case "step":
			reason = driver.StopStep
		case "breakpoint":
			reason = driver.StopBreakpoint
		case "exception":
			reason = driver.StopException
		case "entry":
			reason = driver.StopEntry
		case "pause":
			reason = driver.StopPause
		}
		return driver.StopState{Reason: reason}
	case *dap.ExitedEvent:
		code := e.Body.ExitCode
		return driver.StopState{Reason: driver.StopExit, ExitCode: &code}
	case *dap.TerminatedEvent:
		return driver.StopState{Reason: driver.StopExit}
	default:
		return driver.StopState{Reason: driver.StopException}
	}
}

// restart performs disconnect-then-relaunch, replanting every previously
// registered breakpoint against the fresh process.
func (p *Proxy) restart(ctx context.Context, args []string) (driver.StopState, error) {
	p.mu.Lock()
	c := p.client
	cfg := p.launchCfg
	bps := make([]driver.Breakpoint, 0, len(p.breakpts))
	for _, bp := range p.breakpts {
		bps = append(bps, bp)
	}
	p.mu.Unlock()
	if c == nil {
		return driver.StopState{}, driver.ErrNotPaused
	}

	disconnectReq := &dap.DisconnectRequest{Request: p.request(p.nextSeq(), "disconnect")}
	disconnectReq.Arguments = dap.DisconnectArguments{TerminateDebuggee: true, Restart: true}
	_, _ = c.roundTrip(ctx, disconnectReq, nil)
	c.close()

	if len(args) > 0 {
		cfg.Args = args
	}
	if err := p.Launch(ctx, cfg); err != nil {
		return driver.StopState{}, err
	}
	for _, bp := range bps {
		if _, err := p.SetBreakpoint(ctx, driver.BreakpointSpec{
			File: bp.File, Line: bp.Line, Condition: bp.Condition, HitCondition: bp.HitCondition,
		}); err != nil {
			logf("restart: replant breakpoint %s:%d failed: %v", bp.File, bp.Line, err)
		}
	}
	return driver.StopState{Reason: driver.StopEntry}, nil
}

// SetBreakpoint replaces the full breakpoint set for spec.File with the
// union of previously-set breakpoints in that file plus spec, matching
// DAP's replace-all-per-source semantics.
func (p *Proxy) SetBreakpoint(ctx context.Context, spec driver.BreakpointSpec) (driver.Breakpoint, error) {
	p.mu.Lock()
	c := p.client
	p.nextBpID++
	id := p.nextBpID
	fileLines := map[int]driver.BreakpointSpec{spec.Line: spec}
	for _, bp := range p.breakpts {
		if bp.File == spec.File && bp.Line != spec.Line {
			fileLines[bp.Line] = driver.BreakpointSpec{File: bp.File, Line: bp.Line, Condition: bp.Condition, HitCondition: bp.HitCondition}
		}
	}
	p.mu.Unlock()
	if c == nil {
		return driver.Breakpoint{}, driver.ErrNotPaused
	}

	sourceBps := make([]dap.SourceBreakpoint, 0, len(fileLines))
	for _, s := range fileLines {
		sourceBps = append(sourceBps, dap.SourceBreakpoint{Line: s.Line, Condition: s.Condition, HitCondition: s.HitCondition})
	}
	req := &dap.SetBreakpointsRequest{Request: p.request(p.nextSeq(), "setBreakpoints")}
	req.Arguments = dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: spec.File},
		Breakpoints: sourceBps,
	}
	resp, err := c.roundTrip(ctx, req, p.observeEvent)
	if err != nil {
		return driver.Breakpoint{}, fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	setResp, ok := resp.(*dap.SetBreakpointsResponse)
	if !ok || len(setResp.Body.Breakpoints) == 0 {
		return driver.Breakpoint{}, fmt.Errorf("%w: adapter returned no breakpoint verification", driver.ErrBackend)
	}

	var verified dap.Breakpoint
	for _, b := range setResp.Body.Breakpoints {
		if b.Line == spec.Line {
			verified = b
			break
		}
	}

	bp := driver.Breakpoint{
		ID:           id,
		File:         spec.File,
		Line:         spec.Line,
		Condition:    spec.Condition,
		HitCondition: spec.HitCondition,
		Verified:     verified.Verified,
		Message:      verified.Message,
	}
	p.mu.Lock()
	p.breakpts[id] = bp
	p.mu.Unlock()
	return bp, nil
}

// RemoveBreakpoint clears a single breakpoint by re-sending the owning
// file's full breakpoint set without it.
func (p *Proxy) RemoveBreakpoint(ctx context.Context, id uint32) error {
	p.mu.Lock()
	c := p.client
	bp, ok := p.breakpts[id]
	if ok {
		delete(p.breakpts, id)
	}
	remaining := make([]dap.SourceBreakpoint, 0)
	for _, b := range p.breakpts {
		if b.File == bp.File {
			remaining = append(remaining, dap.SourceBreakpoint{Line: b.Line, Condition: b.Condition, HitCondition: b.HitCondition})
		}
	}
	p.mu.Unlock()
	if !ok {
		return driver.ErrUnknownBreakpoint
	}
	if c == nil {
		return driver.ErrNotPaused
	}

	req := &dap.SetBreakpointsRequest{Request: p.request(p.nextSeq(), "setBreakpoints")}
	req.Arguments = dap.SetBreakpointsArguments{Source: dap.Source{Path: bp.File}, Breakpoints: remaining}
	if _, err := c.roundTrip(ctx, req, p.observeEvent); err != nil {
		return fmt.Errorf("%w: %v", driver.ErrBackend, err)
	}
	return nil
}

// ListBreakpoints returns every tracked breakpoint, in id order.
func (p *Proxy) ListBreakpoints(ctx context.Context) ([]driver.Breakpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]driver.Breakpoint, 0, len(p.breakpts))
	for id := uint32(1); id <= p.nextBpID; id++ {
		if bp, ok := p.breakpts[id]; ok {
			out = append(out, bp)
		}
	}
	return out, nil
}

// Inspect evaluates an expression, expands a variables reference, or lists
// a scope, matching driver.InspectRequest's priority order.
func (p *Proxy) Inspect(ctx context.Context, req driver.InspectRequest) (driver.InspectResult, error) {
	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil {
		return driver.InspectResult{}, driver.ErrNotPaused
	}

	switch {
	case req.Expression != "":
		return p.evaluate(ctx, c, req)
	case req.VariableRef != 0:
		return p.variables(ctx, c, req.VariableRef)
	case req.Scope != "":
		return p.scopeVariables(ctx, c, req)
	default:
		return driver.InspectResult{}, fmt.Errorf("%w: inspect request has no expression, variable_ref, or scope", driver.ErrEvaluationFailed)
	}
}

// stackTrace fetches the adapter's current frame list for thread, each
// entry carrying the opaque FrameId a subsequent scopes/evaluate request
// must echo back — the adapter assigns these itself, and they are only
// ever valid once returned from this request, never as a raw index.
func (p *Proxy) stackTrace(ctx context.Context, c *client, thread int) ([]dap.StackFrame, error) {
	req := &dap.StackTraceRequest{Request: p.request(p.nextSeq(), "stackTrace")}
	req.Arguments = dap.StackTraceArguments{ThreadId: thread}
	resp, err := c.roundTrip(ctx, req, p.observeEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driver.ErrBadFrame, err)
	}
	stResp, ok := resp.(*dap.StackTraceResponse)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected response type", driver.ErrBadFrame)
	}
	return stResp.Body.StackFrames, nil
}

// resolveFrame maps cogdbg's positional frame index (0 = top of stack, per
// driver.InspectRequest.FrameID's contract) to the adapter's own frame
// handle, by position in a freshly-fetched stackTrace response.
func (p *Proxy) resolveFrame(ctx context.Context, c *client, frameID int) (dap.StackFrame, error) {
	p.mu.Lock()
	thread := p.curThread
	p.mu.Unlock()

	frames, err := p.stackTrace(ctx, c, thread)
	if err != nil {
		return dap.StackFrame{}, err
	}
	if frameID < 0 || frameID >= len(frames) {
		return dap.StackFrame{}, fmt.Errorf("%w: frame %d out of range (0..%d)", driver.ErrBadFrame, frameID, len(frames)-1)
	}
	return frames[frameID], nil
}

func frameFromDAP(f dap.StackFrame) driver.Frame {
	var sourcePath string
	if f.Source != nil {
		sourcePath = f.Source.Path
	}
	return driver.Frame{
		ID:         uint32(f.Id),
		Name:       f.Name,
		SourcePath: sourcePath,
		Line:       f.Line,
		Column:     f.Column,
	}
}

func (p *Proxy) evaluate(ctx context.Context, c *client, ir driver.InspectRequest) (driver.InspectResult, error) {
	frame, err := p.resolveFrame(ctx, c, ir.FrameID)
	if err != nil {
		return driver.InspectResult{}, err
	}

	req := &dap.EvaluateRequest{Request: p.request(p.nextSeq(), "evaluate")}
	req.Arguments = dap.EvaluateArguments{Expression: ir.Expression, FrameId: frame.Id, Context: "repl"}
	resp, err := c.roundTrip(ctx, req, p.observeEvent)
	if err != nil {
		return driver.InspectResult{}, fmt.Errorf("%w: %v", driver.ErrEvaluationFailed, err)
	}
	evalResp, ok := resp.(*dap.EvaluateResponse)
	if !ok || !evalResp.Success {
		return driver.InspectResult{}, fmt.Errorf("%w: %s", driver.ErrEvaluationFailed, resp.GetResponse().Message)
	}
	result := frameFromDAP(frame)
	return driver.InspectResult{
		Value:              evalResp.Body.Result,
		TypeName:           evalResp.Body.Type,
		VariablesReference: uint32(evalResp.Body.VariablesReference),
		Frame:              &result,
	}, nil
}

func (p *Proxy) variables(ctx context.Context, c *client, ref uint32) (driver.InspectResult, error) {
	req := &dap.VariablesRequest{Request: p.request(p.nextSeq(), "variables")}
	req.Arguments = dap.VariablesArguments{VariablesReference: int(ref)}
	resp, err := c.roundTrip(ctx, req, p.observeEvent)
	if err != nil {
		return driver.InspectResult{}, fmt.Errorf("%w: %v", driver.ErrUnknownReference, err)
	}
	varResp, ok := resp.(*dap.VariablesResponse)
	if !ok {
		return driver.InspectResult{}, fmt.Errorf("%w: unexpected response type", driver.ErrUnknownReference)
	}
	return driver.InspectResult{Variables: toDriverVariables(varResp.Body.Variables)}, nil
}

func (p *Proxy) scopeVariables(ctx context.Context, c *client, ir driver.InspectRequest) (driver.InspectResult, error) {
	var dapFrameID int
	var frame *driver.Frame
	if ir.Scope == driver.ScopeGlobals {
		// Globals aren't frame-scoped; the adapter returns them under any
		// frame's scope list, so frame 0 (or whatever is current) suffices,
		// and no frame is attached to the result.
		f, err := p.resolveFrame(ctx, c, 0)
		if err != nil {
			return driver.InspectResult{}, err
		}
		dapFrameID = f.Id
	} else {
		f, err := p.resolveFrame(ctx, c, ir.FrameID)
		if err != nil {
			return driver.InspectResult{}, err
		}
		dapFrameID = f.Id
		driverFrame := frameFromDAP(f)
		frame = &driverFrame
	}

	scopesReq := &dap.ScopesRequest{Request: p.request(p.nextSeq(), "scopes")}
	scopesReq.Arguments = dap.ScopesArguments{FrameId: dapFrameID}
	resp, err := c.roundTrip(ctx, scopesReq, p.observeEvent)
	if err != nil {
		return driver.InspectResult{}, fmt.Errorf("%w: %v", driver.ErrBadFrame, err)
	}
	scopesResp, ok := resp.(*dap.ScopesResponse)
	if !ok {
		return driver.InspectResult{}, fmt.Errorf("%w: unexpected response type", driver.ErrBadFrame)
	}

	for _, s := range scopesResp.Body.Scopes {
		if scopeMatches(s.Name, ir.Scope) {
			result, err := p.variables(ctx, c, uint32(s.VariablesReference))
			if err != nil {
				return driver.InspectResult{}, err
			}
			result.Frame = frame
			return result, nil
		}
	}
	return driver.InspectResult{}, fmt.Errorf("%w: no scope named %q", driver.ErrBadFrame, ir.Scope)
}

func scopeMatches(dapName, requested string) bool {
	switch requested {
	case driver.ScopeLocals:
		return dapName == "Locals"
	case driver.ScopeGlobals:
		return dapName == "Globals"
	case driver.ScopeArguments:
		return dapName == "Arguments"
	default:
		return false
	}
}

func toDriverVariables(vars []dap.Variable) []driver.Variable {
	out := make([]driver.Variable, 0, len(vars))
	for _, v := range vars {
		out = append(out, driver.Variable{
			Name:               v.Name,
			Value:              v.Value,
			TypeName:           v.Type,
			VariablesReference: uint32(v.VariablesReference),
		})
	}
	return out
}

// Stop terminates the adapter handshake-cleanly (terminate then disconnect)
// before killing the subprocess. Safe to call more than once.
func (p *Proxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil {
		return nil
	}

	termReq := &dap.TerminateRequest{Request: p.request(p.nextSeq(), "terminate")}
	_, _ = c.roundTrip(ctx, termReq, nil)

	disconnectReq := &dap.DisconnectRequest{Request: p.request(p.nextSeq(), "disconnect")}
	disconnectReq.Arguments = dap.DisconnectArguments{TerminateDebuggee: true}
	_, _ = c.roundTrip(ctx, disconnectReq, nil)

	return c.close()
}
