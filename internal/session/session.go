// Package session implements the session manager: identity assignment,
// per-session state, last-activity tracking, and the owner-pid/orphan-
// action reaper. It owns only the session table; a session's driver is
// reached only through the driver.Driver interface.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adamavenir/cogdbg/internal/driver"
)

// Status is a session's place in its state-machine DAG: launching ->
// {stopped, terminated}; stopped <-> running; any state -> terminated;
// no edge leaves terminated.
type Status string

const (
	StatusLaunching  Status = "launching"
	StatusRunning    Status = "running"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
)

// OrphanAction is the policy applied when a session's owner process
// disappears.
type OrphanAction string

const (
	OrphanNone      OrphanAction = "none"
	OrphanTerminate OrphanAction = "terminate"
	OrphanDetach    OrphanAction = "detach"
)

// ErrUnknownSession is returned by Get/Destroy for an id not present in
// the table, including ids freed by a prior Destroy.
var ErrUnknownSession = errors.New("session: unknown session id")

// Session is the anchor for one active debuggee.
type Session struct {
	ID            string
	Driver        driver.Driver
	OwnerPID      int
	OrphanAction  OrphanAction

	mu           sync.Mutex
	status       Status
	lastActivity int64 // monotonic milliseconds, see nowMillis
}

// Status returns the session's current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastActivity returns the last-activity timestamp in milliseconds.
func (s *Session) LastActivity() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetStatus transitions the session to status, enforcing the state
// machine's DAG. Transitions out of terminated are rejected.
func (s *Session) SetStatus(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusTerminated && status != StatusTerminated {
		return fmt.Errorf("session %s: cannot leave terminated state", s.ID)
	}
	if status == StatusLaunching && s.status != StatusLaunching {
		return fmt.Errorf("session %s: cannot return to launching from %s", s.ID, s.status)
	}
	if s.status == StatusLaunching && status == StatusRunning {
		return fmt.Errorf("session %s: cannot run before launch completes", s.ID)
	}
	s.status = status
	return nil
}

func (s *Session) touch() {
	s.mu.Lock()
	now := nowMillis()
	if now > s.lastActivity {
		s.lastActivity = now
	}
	s.mu.Unlock()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Summary is the enumeration-safe view of a session: id, status, and
// driver-type triple, never the driver itself.
type Summary struct {
	ID         string
	Status     Status
	DriverType string
}

// Manager maintains the id -> *Session map and assigns monotonic
// "session-N" identities.
type Manager struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	driverTypes map[string]string
	next        int

	reaperStop chan struct{}
	reaperDone chan struct{}
}

// NewManager returns an empty session manager. Call StartReaper to enable
// the optional orphan-detection background scan.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), driverTypes: make(map[string]string)}
}

// Create mints a new session id, stores the session, and returns it.
// driverType is recorded only for Enumerate's summary output.
func (m *Manager) Create(d driver.Driver, ownerPID int, orphan OrphanAction, driverType string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := fmt.Sprintf("session-%d", m.next)
	s := &Session{
		ID:           id,
		Driver:       d,
		OwnerPID:     ownerPID,
		OrphanAction: orphan,
		status:       StatusLaunching,
		lastActivity: nowMillis(),
	}
	m.sessions[id] = s
	m.driverTypes[id] = driverType
	return s
}

// Get returns the session for id and bumps its last-activity timestamp.
// Returns ErrUnknownSession if id is absent or was destroyed.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	s.touch()
	return s, nil
}

// Destroy releases the session's driver and frees its id. Safe to call on
// an id that no longer has a live driver reference held elsewhere; it is
// not safe to call twice concurrently with itself (the dispatcher holds
// one session per request, serialized by its cooperative scheduling
// model).
func (m *Manager) Destroy(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		delete(m.driverTypes, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	_ = s.SetStatus(StatusTerminated)
	if s.Driver != nil {
		return s.Driver.Stop(ctx)
	}
	return nil
}

// Enumerate returns every live session as an id/status/driver-type triple.
func (m *Manager) Enumerate() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Summary, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, Summary{ID: id, Status: s.Status(), DriverType: m.driverTypes[id]})
	}
	return out
}

// DestroyAll destroys every session in creation order, used on
// SIGINT/SIGTERM.
func (m *Manager) DestroyAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	// Creation order: "session-N" ids sort correctly as integers once
	// parsed, but a plain string sort would put session-10 before
	// session-2 because N is not zero-padded — use the numeric suffix.
	sortByCreationOrder(ids)
	for _, id := range ids {
		_ = m.Destroy(ctx, id)
	}
}
