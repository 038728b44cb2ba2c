package session

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// reaperInterval is how often the background scan checks for sessions
// whose owner process has died.
const reaperInterval = 5 * time.Second

// StartReaper launches the background scan for orphaned sessions. It is
// idempotent against a Manager that never calls it: the dispatcher works
// fine without a reaper running.
func (m *Manager) StartReaper(ctx context.Context) {
	m.mu.Lock()
	if m.reaperStop != nil {
		m.mu.Unlock()
		return
	}
	m.reaperStop = make(chan struct{})
	m.reaperDone = make(chan struct{})
	stop := m.reaperStop
	done := m.reaperDone
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(reaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.reapOnce(ctx)
			}
		}
	}()
}

// StopReaper halts the background scan and waits for it to exit. Safe to
// call even if StartReaper was never called.
func (m *Manager) StopReaper() {
	m.mu.Lock()
	stop := m.reaperStop
	done := m.reaperDone
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (m *Manager) reapOnce(ctx context.Context) {
	m.mu.Lock()
	var dead []*Session
	for _, s := range m.sessions {
		if s.OwnerPID <= 0 || s.OrphanAction == OrphanNone {
			continue
		}
		if s.Status() == StatusTerminated {
			continue
		}
		if !pidAlive(s.OwnerPID) {
			dead = append(dead, s)
		}
	}
	m.mu.Unlock()

	for _, s := range dead {
		switch s.OrphanAction {
		case OrphanTerminate:
			_ = m.Destroy(ctx, s.ID)
		case OrphanDetach:
			m.mu.Lock()
			delete(m.sessions, s.ID)
			delete(m.driverTypes, s.ID)
			m.mu.Unlock()
			_ = s.SetStatus(StatusTerminated)
		}
	}
}

// pidAlive reports whether pid currently exists, using the zero-signal
// probe idiom (syscall.Kill(pid, 0) fails with ESRCH once the process is
// gone; EPERM still means the process exists).
func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// sortByCreationOrder orders "session-N" ids by their numeric suffix so
// DestroyAll tears sessions down in creation order even once N reaches
// multiple digit widths.
func sortByCreationOrder(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return creationIndex(ids[i]) < creationIndex(ids[j])
	})
}

func creationIndex(id string) int {
	idx := strings.LastIndex(id, "-")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
