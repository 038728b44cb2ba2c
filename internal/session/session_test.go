package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// fakeDriver is a minimal driver.Driver stub for exercising the manager
// without spinning up a real DAP or DWARF backend.
type fakeDriver struct {
	stopped bool
	stopErr error
}

func (f *fakeDriver) Launch(ctx context.Context, cfg driver.LaunchConfig) error { return nil }
func (f *fakeDriver) Run(ctx context.Context, action driver.RunAction, args []string) (driver.StopState, error) {
	return driver.StopState{Reason: driver.StopEntry}, nil
}
func (f *fakeDriver) SetBreakpoint(ctx context.Context, spec driver.BreakpointSpec) (driver.Breakpoint, error) {
	return driver.Breakpoint{}, nil
}
func (f *fakeDriver) RemoveBreakpoint(ctx context.Context, id uint32) error { return nil }
func (f *fakeDriver) ListBreakpoints(ctx context.Context) ([]driver.Breakpoint, error) {
	return nil, nil
}
func (f *fakeDriver) Inspect(ctx context.Context, req driver.InspectRequest) (driver.InspectResult, error) {
	return driver.InspectResult{}, nil
}
func (f *fakeDriver) Stop(ctx context.Context) error {
	f.stopped = true
	return f.stopErr
}

func TestManagerCreateAssignsMonotonicIDs(t *testing.T) {
	m := NewManager()
	s1 := m.Create(&fakeDriver{}, os.Getpid(), OrphanNone, "dwarf")
	s2 := m.Create(&fakeDriver{}, os.Getpid(), OrphanNone, "dwarf")

	if s1.ID != "session-1" {
		t.Fatalf("expected session-1, got %s", s1.ID)
	}
	if s2.ID != "session-2" {
		t.Fatalf("expected session-2, got %s", s2.ID)
	}
}

func TestManagerGetUnknownID(t *testing.T) {
	m := NewManager()
	if _, err := m.Get("session-404"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestManagerGetBumpsLastActivity(t *testing.T) {
	m := NewManager()
	s := m.Create(&fakeDriver{}, os.Getpid(), OrphanNone, "dwarf")
	before := s.LastActivity()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != s {
		t.Fatalf("expected same session pointer")
	}
	if got.LastActivity() < before {
		t.Fatalf("expected last activity to not regress")
	}
}

func TestSessionStatusCannotLeaveTerminated(t *testing.T) {
	s := &Session{ID: "session-1", status: StatusLaunching}
	if err := s.SetStatus(StatusTerminated); err != nil {
		t.Fatalf("set terminated: %v", err)
	}
	if err := s.SetStatus(StatusRunning); err == nil {
		t.Fatalf("expected error transitioning out of terminated")
	}
	if s.Status() != StatusTerminated {
		t.Fatalf("expected status to remain terminated, got %s", s.Status())
	}
}

func TestManagerDestroyStopsDriverAndFreesID(t *testing.T) {
	m := NewManager()
	fd := &fakeDriver{}
	s := m.Create(fd, os.Getpid(), OrphanNone, "dap")

	if err := m.Destroy(context.Background(), s.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if !fd.stopped {
		t.Fatalf("expected driver.Stop to be called")
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected id to be freed after destroy, got %v", err)
	}
}

func TestManagerDestroyAllUsesCreationOrder(t *testing.T) {
	m := NewManager()
	var order []string
	for i := 0; i < 3; i++ {
		fd := &fakeDriver{}
		s := m.Create(fd, os.Getpid(), OrphanNone, "dwarf")
		order = append(order, s.ID)
	}

	m.DestroyAll(context.Background())

	if len(m.Enumerate()) != 0 {
		t.Fatalf("expected all sessions destroyed")
	}
	if got := creationIndex(order[2]); got != 3 {
		t.Fatalf("expected session-3 creation index 3, got %d", got)
	}

	// DestroyAll tears down in the order sortByCreationOrder produces,
	// which must be numeric rather than lexical once N has two digits.
	ids := []string{"session-10", "session-2", "session-1"}
	sortByCreationOrder(ids)
	if ids[0] != "session-1" || ids[1] != "session-2" || ids[2] != "session-10" {
		t.Fatalf("expected creation order session-1, session-2, session-10, got %v", ids)
	}
}

func TestReaperTerminatesOrphanedSession(t *testing.T) {
	m := NewManager()
	fd := &fakeDriver{}
	// A pid that cannot possibly be alive.
	s := m.Create(fd, 999999, OrphanTerminate, "dwarf")

	m.reapOnce(context.Background())

	if !fd.stopped {
		t.Fatalf("expected orphaned session's driver to be stopped")
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected orphaned session removed from table")
	}
}

func TestReaperDetachLeavesDriverRunning(t *testing.T) {
	m := NewManager()
	fd := &fakeDriver{}
	s := m.Create(fd, 999999, OrphanDetach, "dwarf")

	m.reapOnce(context.Background())

	if fd.stopped {
		t.Fatalf("detach must not stop the driver")
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected bookkeeping removed even though driver is left running")
	}
}
