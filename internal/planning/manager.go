// Package planning tracks autonomous planning runs, one per working
// directory. Every mutation is written to <cwd>/.pi/messenger/crew/
// planning-state.json so a restarted process or a separate UI can pick it up.
package planning

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicobailon/pi-messenger-sub001/internal/feed"
	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
	"github.com/nicobailon/pi-messenger-sub001/internal/registry"
)

const (
	// DefaultStaleAfter is the default Stalled threshold.
	DefaultStaleAfter = 5 * time.Minute
	// DefaultMaxPasses is used when Start is given no pass limit.
	DefaultMaxPasses = 3
)

var (
	// ErrNoRun is returned when an operation needs an active run and there is none.
	ErrNoRun = errors.New("no active planning run")
	// ErrInvalidPhase is returned for unknown phases or a phase the operation cannot set.
	ErrInvalidPhase = errors.New("invalid planning phase")
)

// RestoreResult is returned by Restore.
type RestoreResult struct {
	State State
	// StaleCleared is true when an active run was dropped because its owner died.
	StaleCleared bool
}

type entry struct {
	state     State
	cancelled bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLiveness overrides the owner liveness probe used by Restore.
func WithLiveness(alive func(pid int) bool) Option {
	return func(m *Manager) { m.alive = alive }
}

// WithOwnerPID sets the pid stamped on started runs. Defaults to os.Getpid.
func WithOwnerPID(pid int) Option {
	return func(m *Manager) { m.pid = pid }
}

// WithFeed records transitions in the activity feed.
func WithFeed(f *feed.Feed) Option {
	return func(m *Manager) { m.feed = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// Manager owns the planning state of every directory this process touches.
// It is safe for concurrent use; concurrent writers in other processes are
// not coordinated.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry

	// overlay pending run id per cwd, and run ids the user has dismissed.
	pending   map[string]string
	dismissed map[string]struct{}

	now    func() time.Time
	alive  func(pid int) bool
	pid    int
	newID  func() string
	feed   *feed.Feed
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		entries:   make(map[string]*entry),
		pending:   make(map[string]string),
		dismissed: make(map[string]struct{}),
		now:       time.Now,
		alive:     registry.PIDAlive,
		pid:       os.Getpid(),
		newID:     uuid.NewString,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// entryLocked returns the entry for cwd, loading it from disk on first use.
func (m *Manager) entryLocked(cwd string) *entry {
	if e, ok := m.entries[cwd]; ok {
		return e
	}
	st, err := Load(cwd)
	if err != nil {
		m.logger.Warn("planning state unreadable, starting idle", "cwd", cwd, "error", err)
	}
	e := &entry{state: st}
	m.entries[cwd] = e
	return e
}

func (m *Manager) stamp(st *State) {
	t := m.now().UTC()
	st.UpdatedAt = &t
}

// State returns the current state for cwd.
func (m *Manager) State(cwd string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryLocked(cwd).state
}

// Cancelled reports whether cwd's run was cancelled in this process.
func (m *Manager) Cancelled(cwd string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryLocked(cwd).cancelled
}

// Start begins a new run in cwd, replacing whatever was there.
func (m *Manager) Start(cwd string, maxPasses int) (State, error) {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	m.mu.Lock()
	e := m.entryLocked(cwd)
	e.cancelled = false
	e.state = State{
		Active:    true,
		Cwd:       cwd,
		RunID:     m.newID(),
		Pass:      0,
		MaxPasses: maxPasses,
		Phase:     PhaseReadPRD,
		PID:       m.pid,
	}
	m.stamp(&e.state)
	st := e.state
	err := save(st)
	m.markLocked(cwd, st.RunID)
	m.mu.Unlock()

	if err != nil {
		return st, err
	}
	m.logger.Info("planning started", "cwd", cwd, "run_id", st.RunID, "max_passes", maxPasses)
	m.feed.Append(feed.Event{Type: feed.PlanningStarted, Text: fmt.Sprintf("run %s, %d passes", st.RunID, maxPasses)})
	return st, nil
}

// Advance moves the active run to phase. A nil pass leaves the pass number
// unchanged. After Cancel it does nothing.
func (m *Manager) Advance(cwd string, phase Phase, pass *int) (State, error) {
	if !phase.Valid() || phase == PhaseIdle || phase.Terminal() {
		return State{}, fmt.Errorf("%w: cannot advance to %q", ErrInvalidPhase, phase)
	}

	m.mu.Lock()
	e := m.entryLocked(cwd)
	if e.cancelled {
		st := e.state
		m.mu.Unlock()
		return st, nil
	}
	if !e.state.Active {
		m.mu.Unlock()
		return State{}, ErrNoRun
	}
	e.state.Phase = phase
	if pass != nil {
		e.state.Pass = *pass
	}
	m.stamp(&e.state)
	st := e.state
	err := save(st)
	m.mu.Unlock()

	if err != nil {
		return st, err
	}
	m.logger.Debug("planning advanced", "cwd", cwd, "phase", phase, "pass", st.Pass)
	m.feed.Append(feed.Event{Type: feed.PlanningAdvanced, Text: fmt.Sprintf("%s (pass %d/%d)", phase, st.Pass, st.MaxPasses)})
	return st, nil
}

// Finish ends the active run with PhaseCompleted or PhaseFailed. After
// Cancel it does nothing.
func (m *Manager) Finish(cwd string, phase Phase) (State, error) {
	if !phase.Terminal() {
		return State{}, fmt.Errorf("%w: %q is not terminal", ErrInvalidPhase, phase)
	}

	m.mu.Lock()
	e := m.entryLocked(cwd)
	if e.cancelled {
		st := e.state
		m.mu.Unlock()
		return st, nil
	}
	runID := e.state.RunID
	delete(m.pending, cwd)
	e.state.Active = false
	e.state.RunID = ""
	e.state.Phase = phase
	m.stamp(&e.state)
	st := e.state
	err := save(st)
	m.mu.Unlock()

	if err != nil {
		return st, err
	}
	m.logger.Info("planning finished", "cwd", cwd, "run_id", runID, "phase", phase)
	m.feed.Append(feed.Event{Type: feed.PlanningFinished, Text: string(phase)})
	return st, nil
}

// Cancel stops the run in cwd and resets it to idle. Later Advance and
// Finish calls are ignored until the next Start.
func (m *Manager) Cancel(cwd string) (State, error) {
	m.mu.Lock()
	e := m.entryLocked(cwd)
	e.cancelled = true
	delete(m.pending, cwd)
	e.state = idleState(cwd)
	m.stamp(&e.state)
	st := e.state
	err := save(st)
	m.mu.Unlock()

	if err != nil {
		return st, err
	}
	m.logger.Info("planning cancelled", "cwd", cwd)
	m.feed.Append(feed.Event{Type: feed.PlanningCanceled})
	return st, nil
}

// Restore reloads cwd's state from disk. An active run whose owner process
// is gone is cleared and reported with StaleCleared.
func (m *Manager) Restore(cwd string) (RestoreResult, error) {
	st, loadErr := Load(cwd)
	if loadErr != nil {
		m.logger.Warn("planning state unreadable, starting idle", "cwd", cwd, "error", loadErr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cwd]
	if !ok {
		e = &entry{}
		m.entries[cwd] = e
	}

	if st.Active && !m.alive(st.PID) {
		m.logger.Warn("clearing planning run with dead owner", "cwd", cwd, "run_id", st.RunID, "pid", st.PID)
		delete(m.pending, cwd)
		e.state = idleState(cwd)
		m.stamp(&e.state)
		return RestoreResult{State: e.state, StaleCleared: true}, save(e.state)
	}

	e.state = st
	if st.Active && st.RunID == "" {
		e.state.RunID = m.newID()
		return RestoreResult{State: e.state}, save(e.state)
	}
	return RestoreResult{State: e.state}, nil
}

// Stalled reports whether cwd's state has not been updated for at least
// threshold, and how old the last update is. A missing timestamp counts as
// stalled. threshold <= 0 uses DefaultStaleAfter.
func (m *Manager) Stalled(cwd string, threshold time.Duration) (bool, time.Duration) {
	if threshold <= 0 {
		threshold = DefaultStaleAfter
	}
	m.mu.Lock()
	updated := m.entryLocked(cwd).state.UpdatedAt
	m.mu.Unlock()

	if updated == nil {
		return true, 0
	}
	age := m.now().Sub(*updated)
	return age >= threshold, age
}
