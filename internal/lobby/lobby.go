// Package lobby keeps pre-spawned workers waiting for an assignment.
//
// A lobby worker owns a scratch directory and a liveness marker under
// <cwd>/.pi/messenger/crew/lobby. The worker deletes its marker when it
// leaves the lobby; the marker disappearing or the process exiting both
// remove the worker from the registry and clean up its files.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/crew"
	"github.com/nicobailon/pi-messenger-sub001/internal/fsutil"
	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
	"github.com/nicobailon/pi-messenger-sub001/internal/mailbox"
	"github.com/nicobailon/pi-messenger-sub001/internal/namer"
	"github.com/nicobailon/pi-messenger-sub001/internal/registry"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// DefaultAgent is the agent definition lobby workers run as.
const DefaultAgent = "crew-worker"

// WaitPrompt is the task text given to a freshly spawned lobby worker.
const WaitPrompt = "You are a lobby worker. Wait for a task assignment in your inbox, then do the assigned task."

// Environment variables passed to lobby workers.
const (
	EnvLobbyID      = "PI_CREW_LOBBY_ID"
	EnvMarker       = "PI_CREW_LOBBY_MARKER"
	EnvScratch      = "PI_CREW_SCRATCH_DIR"
	EnvCoordination = "PI_CREW_COORDINATION"
)

// ErrClosed is returned by Spawn after Close.
var ErrClosed = errors.New("lobby closed")

// Config wires a Lobby. Zero fields get working defaults.
type Config struct {
	Cwd      string
	Config   *config.Config
	Agents   crew.AgentSource
	Agent    string
	Registry *registry.Registry
	Mailbox  *mailbox.Mailbox
	Names    *namer.Namer
	Logger   *slog.Logger
}

type member struct {
	id      string
	name    string
	marker  string
	scratch string
	once    sync.Once
}

// Lobby spawns and tracks lobby workers for one directory.
type Lobby struct {
	cwd      string
	cfg      *config.Config
	agents   crew.AgentSource
	agent    string
	registry *registry.Registry
	mailbox  *mailbox.Mailbox
	names    *namer.Namer
	logger   *slog.Logger

	command func(name string, args ...string) *exec.Cmd

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	members map[string]*member // by marker path
	closed  bool
	wg      sync.WaitGroup
}

// New builds a Lobby from lc.
func New(lc Config) *Lobby {
	l := &Lobby{
		cwd:      lc.Cwd,
		cfg:      lc.Config,
		agents:   lc.Agents,
		agent:    lc.Agent,
		registry: lc.Registry,
		mailbox:  lc.Mailbox,
		names:    lc.Names,
		logger:   lc.Logger,
		command:  exec.Command,
		members:  make(map[string]*member),
	}
	if l.cfg == nil {
		l.cfg = config.Default()
	}
	if l.agent == "" {
		l.agent = DefaultAgent
	}
	if l.registry == nil {
		l.registry = registry.New()
	}
	if l.mailbox == nil {
		l.mailbox = mailbox.New(config.MessengerDir(l.cwd))
	}
	if l.names == nil {
		l.names = namer.New()
	}
	if l.logger == nil {
		l.logger = logging.Nop()
	}
	return l
}

// Dir is where liveness markers live.
func (l *Lobby) Dir() string {
	return filepath.Join(config.CrewDir(l.cwd), "lobby")
}

// Registry returns the registry lobby handles are kept in.
func (l *Lobby) Registry() *registry.Registry { return l.registry }

type markerFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Scratch   string    `json:"scratch"`
	StartedAt time.Time `json:"startedAt"`
}

// Spawn starts a lobby worker and registers it. Cancelling ctx terminates
// the worker.
func (l *Lobby) Spawn(ctx context.Context) (registry.Handle, error) {
	if err := l.ensureWatcher(); err != nil {
		return registry.Handle{}, err
	}

	id := "lobby-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	name := l.names.Next()
	m := &member{id: id, name: name, marker: filepath.Join(l.Dir(), id+".alive")}

	scratch, err := os.MkdirTemp("", "crew-"+id+"-")
	if err != nil {
		return registry.Handle{}, fmt.Errorf("create scratch dir: %w", err)
	}
	m.scratch = scratch

	if err := l.mailbox.EnsureInbox(name); err != nil {
		os.RemoveAll(scratch)
		return registry.Handle{}, fmt.Errorf("create inbox: %w", err)
	}

	inv := crew.Invocation{Role: models.RoleWorker}
	if l.agents != nil {
		if def, ok := l.agents.Get(l.agent); ok {
			inv = crew.Resolve(models.AgentTask{Agent: l.agent, Task: WaitPrompt}, def, &l.cfg.Crew)
		}
	}
	cmd := l.command(l.cfg.Crew.Runtime, crew.BuildArgs(inv, l.cfg.Crew.Extension, "", WaitPrompt)...)
	coordination := l.cfg.Crew.Coordination
	if coordination == "" {
		coordination = config.DefaultCoordination
	}
	cmd.Dir = l.cwd
	cmd.Env = crew.WorkerEnv(&l.cfg.Crew, models.RoleWorker, name,
		EnvLobbyID+"="+id,
		EnvMarker+"="+m.marker,
		EnvScratch+"="+scratch,
		EnvCoordination+"="+coordination,
	)

	proc, err := registry.StartProcess(cmd)
	if err != nil {
		os.RemoveAll(scratch)
		return registry.Handle{}, err
	}

	started := time.Now()
	h := registry.Handle{
		Kind:         registry.KindLobby,
		Cwd:          l.cwd,
		TaskID:       id,
		Name:         name,
		Process:      proc,
		Identity:     name,
		Coordination: coordination,
		StartedAt:    started,
		ScratchDir:   scratch,
		MarkerPath:   m.marker,
	}
	// Registered before the marker exists so an early removal is seen.
	l.registry.Register(h)
	l.mu.Lock()
	l.members[m.marker] = m
	l.mu.Unlock()

	data, _ := json.Marshal(markerFile{ID: id, Name: name, PID: proc.Pid(), Scratch: scratch, StartedAt: started})
	if err := fsutil.WriteFile(m.marker, data, 0o644); err != nil {
		_ = proc.Signal(os.Kill)
		<-proc.Done()
		l.release(m, "marker write failed")
		return registry.Handle{}, fmt.Errorf("write liveness marker: %w", err)
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		select {
		case <-proc.Done():
			l.release(m, "process exited")
		case <-ctx.Done():
			l.registry.KillByTask(l.cwd, id)
			<-proc.Done()
			l.release(m, "cancelled")
		}
	}()

	l.logger.Info("lobby worker spawned", "lobby_id", id, "name", name, "pid", proc.Pid())
	return h, nil
}

// Assign hands taskID to an idle lobby worker and posts the assignment to
// its inbox. The assignment is rolled back when the message cannot be
// delivered.
func (l *Lobby) Assign(lobbyID, taskID, text string) error {
	h, ok := l.registry.Get(l.cwd, lobbyID)
	if !ok || h.Kind != registry.KindLobby {
		return fmt.Errorf("lobby worker %s: %w", lobbyID, registry.ErrNotFound)
	}
	if h.AssignedTaskID != "" {
		return fmt.Errorf("lobby worker %s already assigned to %s", lobbyID, h.AssignedTaskID)
	}
	if err := l.registry.Assign(l.cwd, lobbyID, taskID); err != nil {
		return fmt.Errorf("assign %s: %w", lobbyID, err)
	}

	body := fmt.Sprintf("Assigned task %s.", taskID)
	if text != "" {
		body += "\n\n" + text
	}
	if _, err := l.mailbox.Deliver("crew", h.Name, body); err != nil {
		_ = l.registry.Assign(l.cwd, lobbyID, "")
		return fmt.Errorf("deliver assignment to %s: %w", h.Name, err)
	}
	l.logger.Info("lobby worker assigned", "lobby_id", lobbyID, "task_id", taskID, "name", h.Name)
	return nil
}

// Idle returns the unassigned live lobby workers, oldest first.
func (l *Lobby) Idle() []registry.Handle {
	idle := l.registry.IdleLobby(l.cwd)
	sort.Slice(idle, func(i, j int) bool { return idle[i].StartedAt.Before(idle[j].StartedAt) })
	return idle
}

// Close terminates every lobby worker, waits for them to be released and
// stops the marker watcher.
func (l *Lobby) Close() error {
	l.mu.Lock()
	l.closed = true
	ids := make([]string, 0, len(l.members))
	for _, m := range l.members {
		ids = append(ids, m.id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.registry.KillByTask(l.cwd, id)
	}
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}

func (l *Lobby) ensureWatcher() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.watcher != nil {
		return nil
	}
	if err := os.MkdirAll(l.Dir(), 0o755); err != nil {
		return fmt.Errorf("create lobby dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(l.Dir()); err != nil {
		w.Close()
		return fmt.Errorf("watch lobby dir: %w", err)
	}
	l.watcher = w
	go l.watch(w)
	return nil
}

func (l *Lobby) watch(w *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			l.mu.Lock()
			m := l.members[filepath.Clean(ev.Name)]
			l.mu.Unlock()
			if m == nil {
				continue
			}
			// The worker left the lobby; stop it if it has not exited yet.
			l.registry.KillByTask(l.cwd, m.id)
			l.release(m, "marker removed")
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("lobby watcher error", "error", err)
		}
	}
}

// release unregisters m and removes its files. It runs once per member.
func (l *Lobby) release(m *member, reason string) {
	m.once.Do(func() {
		l.mu.Lock()
		delete(l.members, m.marker)
		l.mu.Unlock()

		l.registry.Unregister(l.cwd, m.id)
		if err := os.Remove(m.marker); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("remove liveness marker", "path", m.marker, "error", err)
		}
		if err := os.RemoveAll(m.scratch); err != nil {
			l.logger.Warn("remove scratch dir", "path", m.scratch, "error", err)
		}
		l.logger.Info("lobby worker released", "lobby_id", m.id, "name", m.name, "reason", reason)
	})
}
