// Package initmgr implements the initialization state machine (C9): a
// strictly ordered phase sequence gating every mutation the interceptor,
// page bridge, and tab lifecycle perform, idempotent under repeated or
// out-of-order startup events. Grounded on the teacher's event-driven
// lifecycle (event/event.go's ordered callback registry) generalized from
// "dispatch callbacks in order" to "advance through states in order."
package initmgr

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one step of the startup sequence.
type State int

const (
	Loading State = iota
	LicenseInit
	LicenseReady
	AutoRestoreCheck
	SessionLoad
	Cleanup
	Ready
	Error
)

var stateNames = [...]string{"LOADING", "LICENSE_INIT", "LICENSE_READY", "AUTO_RESTORE_CHECK", "SESSION_LOAD", "CLEANUP", "READY", "ERROR"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

var order = []State{Loading, LicenseInit, LicenseReady, AutoRestoreCheck, SessionLoad, Cleanup, Ready}

// Phase is one step's work. Returning an error moves the machine to
// Error; the state machine does not retry phases itself.
type Phase func(ctx context.Context) error

// ErrAlreadyRunning names the condition of an Initialize call arriving
// while a run is already in progress. Initialize itself does not return
// it: such a call joins the in-progress run and returns that run's result.
var ErrAlreadyRunning = errors.New("initmgr: initialization already running")

// Manager drives the phase sequence and exposes the current state to
// gated consumers (C5/C6/C7).
type Manager struct {
	mu      sync.Mutex
	state   State
	phases  map[State]Phase
	running bool
	done    chan struct{}
	lastErr error
}

// New returns a Manager in state Loading. phases maps each non-terminal
// state (excluding Ready) to the work that must complete before
// advancing past it.
func New(phases map[State]Phase) *Manager {
	return &Manager{state: Loading, phases: phases}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsReady reports whether the machine has reached Ready. Interceptor,
// page bridge, and tab lifecycle hooks gate on this.
func (m *Manager) IsReady() bool {
	return m.State() == Ready
}

// Initialize runs the phase sequence from the current state to Ready (or
// Error). It is idempotent: a call while already Ready is a no-op: a call
// while a run is already in progress joins that run instead of
// restarting it, satisfying §4.9's duplicate-event tolerance.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Ready {
		m.mu.Unlock()
		return nil
	}
	if m.running {
		done := m.done
		m.mu.Unlock()
		select {
		case <-done:
			return m.lastErrSafe()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	err := m.run(ctx)

	m.mu.Lock()
	m.running = false
	m.lastErr = err
	close(done)
	m.mu.Unlock()
	return err
}

func (m *Manager) lastErrSafe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) run(ctx context.Context) error {
	m.mu.Lock()
	start := m.state
	m.mu.Unlock()

	begin := 0
	for i, s := range order {
		if s == start {
			begin = i
			break
		}
	}

	for _, s := range order[begin:] {
		if s != Ready {
			if phase, ok := m.phases[s]; ok {
				if err := phase(ctx); err != nil {
					m.mu.Lock()
					m.state = Error
					m.mu.Unlock()
					return err
				}
			}
		}
		m.mu.Lock()
		m.state = s
		m.mu.Unlock()
	}
	return nil
}

// WaitForReady blocks until the machine reaches Ready or ctx is done,
// whichever comes first. It does not itself trigger initialization.
func (m *Manager) WaitForReady(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.IsReady() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
