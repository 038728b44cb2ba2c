package tool

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/adamavenir/cogdbg/internal/driver"
	"github.com/adamavenir/cogdbg/internal/session"
)

// fakeDriver is a minimal driver.Driver stub for exercising dispatch
// routing without a real DAP or DWARF backend underneath it.
type fakeDriver struct {
	breakpoints []driver.Breakpoint
	runStop     driver.StopState
	runErr      error
	inspectRes  driver.InspectResult
	inspectErr  error
	stopped     bool
}

func (f *fakeDriver) Launch(ctx context.Context, cfg driver.LaunchConfig) error { return nil }
func (f *fakeDriver) Run(ctx context.Context, action driver.RunAction, args []string) (driver.StopState, error) {
	return f.runStop, f.runErr
}
func (f *fakeDriver) SetBreakpoint(ctx context.Context, spec driver.BreakpointSpec) (driver.Breakpoint, error) {
	bp := driver.Breakpoint{ID: uint32(len(f.breakpoints) + 1), File: spec.File, Line: spec.Line, Verified: true}
	f.breakpoints = append(f.breakpoints, bp)
	return bp, nil
}
func (f *fakeDriver) RemoveBreakpoint(ctx context.Context, id uint32) error {
	for i, bp := range f.breakpoints {
		if bp.ID == id {
			f.breakpoints = append(f.breakpoints[:i], f.breakpoints[i+1:]...)
			return nil
		}
	}
	return driver.ErrUnknownBreakpoint
}
func (f *fakeDriver) ListBreakpoints(ctx context.Context) ([]driver.Breakpoint, error) {
	return f.breakpoints, nil
}
func (f *fakeDriver) Inspect(ctx context.Context, req driver.InspectRequest) (driver.InspectResult, error) {
	return f.inspectRes, f.inspectErr
}
func (f *fakeDriver) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func newDispatcherWithSession(t *testing.T, fd *fakeDriver) (*Dispatcher, string) {
	t.Helper()
	sessions := session.NewManager()
	d := NewDispatcher(sessions)
	s := sessions.Create(fd, os.Getpid(), session.OrphanTerminate, "dwarf")
	return d, s.ID
}

func TestCallUnknownToolReturnsErrUnknownTool(t *testing.T) {
	d := NewDispatcher(session.NewManager())
	_, err := d.Call(context.Background(), "debug_nonexistent", json.RawMessage(`{}`))
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestLaunchRequiresProgram(t *testing.T) {
	d := NewDispatcher(session.NewManager())
	_, err := d.Call(context.Background(), NameLaunch, json.RawMessage(`{}`))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestLanguageFromExtension(t *testing.T) {
	cases := map[string]string{
		"main.py":     "python",
		"index.js":    "javascript",
		"index.mjs":   "javascript",
		"app.ts":      "typescript",
		"main.go":     "go",
		"a.out":       "native",
		"/bin/ls":     "native",
	}
	for program, want := range cases {
		if got := languageFromExtension(program); got != want {
			t.Errorf("languageFromExtension(%q) = %q, want %q", program, got, want)
		}
	}
}

func TestBreakpointRequiresSessionID(t *testing.T) {
	d := NewDispatcher(session.NewManager())
	_, err := d.Call(context.Background(), NameBreakpoint, json.RawMessage(`{"file":"main.go","line":1}`))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestBreakpointUnknownSession(t *testing.T) {
	d := NewDispatcher(session.NewManager())
	_, err := d.Call(context.Background(), NameBreakpoint, json.RawMessage(`{"session_id":"session-404","file":"main.go","line":1}`))
	if !errors.Is(err, session.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestBreakpointSetAndRemove(t *testing.T) {
	fd := &fakeDriver{}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(breakpointArgs{SessionID: sid, Action: "set", File: "main.go", Line: 12})
	res, err := d.Call(context.Background(), NameBreakpoint, raw)
	if err != nil {
		t.Fatalf("set breakpoint: %v", err)
	}
	bp, ok := res.(driver.Breakpoint)
	if !ok || bp.ID == 0 {
		t.Fatalf("unexpected set-breakpoint result: %#v", res)
	}

	raw, _ = json.Marshal(breakpointArgs{SessionID: sid, Action: "remove", BreakpointID: bp.ID})
	if _, err := d.Call(context.Background(), NameBreakpoint, raw); err != nil {
		t.Fatalf("remove breakpoint: %v", err)
	}
	if len(fd.breakpoints) != 0 {
		t.Fatalf("expected breakpoint removed, still have %d", len(fd.breakpoints))
	}
}

func TestBreakpointRemoveRequiresBreakpointID(t *testing.T) {
	fd := &fakeDriver{}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(breakpointArgs{SessionID: sid, Action: "remove"})
	_, err := d.Call(context.Background(), NameBreakpoint, raw)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestBreakpointList(t *testing.T) {
	fd := &fakeDriver{}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(breakpointArgs{SessionID: sid, Action: "set", File: "main.go", Line: 12})
	if _, err := d.Call(context.Background(), NameBreakpoint, raw); err != nil {
		t.Fatalf("set breakpoint: %v", err)
	}

	raw, _ = json.Marshal(breakpointArgs{SessionID: sid, Action: "list"})
	res, err := d.Call(context.Background(), NameBreakpoint, raw)
	if err != nil {
		t.Fatalf("list breakpoints: %v", err)
	}
	out, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("unexpected list-breakpoint result: %#v", res)
	}
	bps, ok := out["breakpoints"].([]driver.Breakpoint)
	if !ok || len(bps) != 1 {
		t.Fatalf("expected one breakpoint listed, got %#v", out["breakpoints"])
	}
}

func TestBreakpointUnknownAction(t *testing.T) {
	fd := &fakeDriver{}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(breakpointArgs{SessionID: sid, Action: "bogus"})
	_, err := d.Call(context.Background(), NameBreakpoint, raw)
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField for unknown action, got %v", err)
	}
}

func TestRunTransitionsSessionStatus(t *testing.T) {
	fd := &fakeDriver{runStop: driver.StopState{Reason: driver.StopBreakpoint}}
	d, sid := newDispatcherWithSession(t, fd)
	sessions := d.Sessions

	raw, _ := json.Marshal(runArgs{SessionID: sid, Action: string(driver.RunContinue)})
	if _, err := d.Call(context.Background(), NameRun, raw); err != nil {
		t.Fatalf("run: %v", err)
	}
	s, err := sessions.Get(sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status() != session.StatusStopped {
		t.Fatalf("expected status stopped after a breakpoint stop, got %s", s.Status())
	}
}

func TestRunExitTerminatesSession(t *testing.T) {
	code := 0
	fd := &fakeDriver{runStop: driver.StopState{Reason: driver.StopExit, ExitCode: &code}}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(runArgs{SessionID: sid, Action: string(driver.RunContinue)})
	if _, err := d.Call(context.Background(), NameRun, raw); err != nil {
		t.Fatalf("run: %v", err)
	}
	s, err := d.Sessions.Get(sid)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if s.Status() != session.StatusTerminated {
		t.Fatalf("expected status terminated after exit, got %s", s.Status())
	}
}

func TestInspectRoutesToDriver(t *testing.T) {
	fd := &fakeDriver{inspectRes: driver.InspectResult{Value: "42", TypeName: "int"}}
	d, sid := newDispatcherWithSession(t, fd)

	raw, _ := json.Marshal(inspectArgs{SessionID: sid, Expression: "x"})
	res, err := d.Call(context.Background(), NameInspect, raw)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	result, ok := res.(driver.InspectResult)
	if !ok || result.Value != "42" {
		t.Fatalf("unexpected inspect result: %#v", res)
	}
}

func TestStopDestroysSession(t *testing.T) {
	fd := &fakeDriver{}
	d, sid := newDispatcherWithSession(t, fd)

	if _, err := d.Call(context.Background(), NameStop, json.RawMessage(`{"session_id":"`+sid+`"}`)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !fd.stopped {
		t.Fatalf("expected underlying driver stopped")
	}
	if _, err := d.Sessions.Get(sid); !errors.Is(err, session.ErrUnknownSession) {
		t.Fatalf("expected session removed after stop")
	}
}
