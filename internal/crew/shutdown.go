package crew

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"
)

// Shutdown timing defaults.
const (
	DefaultShutdownGrace = 30 * time.Second
	TerminateGrace       = 5 * time.Second
)

// ShutdownState is a step of the graceful shutdown escalation.
type ShutdownState int

const (
	StateRunning ShutdownState = iota
	StateShutdownRequested
	StateMessageSent
	StateWaitingGrace
	StateTerminating
	StateWaitingTermGrace
	StateKilled
	StateExited
)

var stateNames = map[ShutdownState]string{
	StateRunning:           "running",
	StateShutdownRequested: "shutdown-requested",
	StateMessageSent:       "message-sent",
	StateWaitingGrace:      "waiting-grace",
	StateTerminating:       "terminating",
	StateWaitingTermGrace:  "waiting-term-grace",
	StateKilled:            "killed",
	StateExited:            "exited",
}

func (s ShutdownState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s ShutdownState) Terminal() bool {
	return s == StateKilled || s == StateExited
}

// transitions lists the legal successors of each state.
var transitions = map[ShutdownState][]ShutdownState{
	StateRunning:           {StateShutdownRequested, StateExited},
	StateShutdownRequested: {StateMessageSent, StateTerminating, StateExited},
	StateMessageSent:       {StateWaitingGrace, StateExited},
	StateWaitingGrace:      {StateTerminating, StateExited},
	StateTerminating:       {StateWaitingTermGrace, StateExited},
	StateWaitingTermGrace:  {StateKilled, StateExited},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to ShutdownState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ShutdownProcess is the process view the protocol needs.
type ShutdownProcess interface {
	Pid() int
	Signal(os.Signal) error
	Done() <-chan struct{}
}

// Clock abstracts timers so escalation can be tested without waiting.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Notifier delivers the cooperative shutdown request. Notify returns the
// worker identity it resolved (possibly "") and whether a message landed.
type Notifier interface {
	Notify(pid int) (identity string, delivered bool)
	Cleanup(identity string)
}

// ShutdownResult summarizes one protocol run.
type ShutdownResult struct {
	Final     ShutdownState
	Identity  string
	Delivered bool
	History   []ShutdownState
}

// Shutdown drives one worker through message → SIGTERM → SIGKILL.
// Natural exit ends the protocol at whichever step it is observed.
type Shutdown struct {
	proc      ShutdownProcess
	notifier  Notifier
	clock     Clock
	grace     time.Duration
	termGrace time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	state   ShutdownState
	history []ShutdownState
}

// NewShutdown prepares a protocol for proc. A zero grace uses the default.
func NewShutdown(proc ShutdownProcess, notifier Notifier, clock Clock, grace time.Duration, logger *slog.Logger) *Shutdown {
	if clock == nil {
		clock = realClock{}
	}
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	return &Shutdown{
		proc:      proc,
		notifier:  notifier,
		clock:     clock,
		grace:     grace,
		termGrace: TerminateGrace,
		logger:    logger,
		state:     StateRunning,
		history:   []ShutdownState{StateRunning},
	}
}

// State returns the current state.
func (s *Shutdown) State() ShutdownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Shutdown) transition(to ShutdownState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, to) {
		panic(fmt.Sprintf("crew: illegal shutdown transition %s -> %s", s.state, to))
	}
	s.state = to
	s.history = append(s.history, to)
	if s.logger != nil {
		s.logger.Debug("shutdown transition", "pid", s.proc.Pid(), "state", to.String())
	}
}

func (s *Shutdown) exited() bool {
	select {
	case <-s.proc.Done():
		return true
	default:
		return false
	}
}

// wait blocks until the process exits (true) or d elapses (false).
func (s *Shutdown) wait(d time.Duration) bool {
	if s.exited() {
		return true
	}
	select {
	case <-s.proc.Done():
		return true
	case <-s.clock.After(d):
		return s.exited()
	}
}

// Run executes the protocol to completion.
func (s *Shutdown) Run() ShutdownResult {
	res := ShutdownResult{}
	defer func() {
		if res.Identity != "" && s.notifier != nil {
			s.notifier.Cleanup(res.Identity)
		}
		s.mu.Lock()
		res.Final = s.state
		res.History = append([]ShutdownState(nil), s.history...)
		s.mu.Unlock()
	}()

	if s.exited() {
		s.transition(StateExited)
		return res
	}
	s.transition(StateShutdownRequested)

	if s.notifier != nil {
		res.Identity, res.Delivered = s.notifier.Notify(s.proc.Pid())
	}
	if s.exited() {
		s.transition(StateExited)
		return res
	}

	if res.Delivered {
		s.transition(StateMessageSent)
		s.transition(StateWaitingGrace)
		if s.wait(s.grace) {
			s.transition(StateExited)
			return res
		}
	}

	s.transition(StateTerminating)
	if err := s.proc.Signal(syscall.SIGTERM); err != nil && s.logger != nil {
		s.logger.Warn("SIGTERM failed", "pid", s.proc.Pid(), "error", err)
	}
	s.transition(StateWaitingTermGrace)
	if s.wait(s.termGrace) {
		s.transition(StateExited)
		return res
	}

	if err := s.proc.Signal(syscall.SIGKILL); err != nil && s.logger != nil {
		s.logger.Warn("SIGKILL failed", "pid", s.proc.Pid(), "error", err)
	}
	s.transition(StateKilled)
	return res
}
