package registry

import (
	"errors"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ErrNotFound is returned when no handle matches a key.
var ErrNotFound = errors.New("worker not found")

// KillGrace is how long KillByTask waits after SIGTERM before sending SIGKILL.
const KillGrace = 5 * time.Second

// Kind distinguishes task workers from lobby workers.
type Kind string

const (
	// KindTask is a worker bound to exactly one task.
	KindTask Kind = "task"
	// KindLobby is a pre-spawned worker waiting for (or running) an assignment.
	KindLobby Kind = "lobby"
)

// Key identifies a handle. For lobby workers TaskID holds the lobby session id.
type Key struct {
	Cwd    string
	TaskID string
}

// Handle is the runtime record of one worker subprocess.
type Handle struct {
	Kind    Kind
	Cwd     string
	TaskID  string
	Name    string
	Process Process
	// Identity is the worker's coordination name, once it has registered one.
	Identity string

	// Lobby-only fields.
	AssignedTaskID string
	Coordination   string
	StartedAt      time.Time
	ScratchDir     string
	MarkerPath     string

	signaled bool
}

// Key returns the handle's registry key.
func (h Handle) Key() Key {
	return Key{Cwd: h.Cwd, TaskID: h.TaskID}
}

// Registry is the unified table of live worker handles.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	handles map[Key]*Handle

	killGrace time.Duration
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handles:   make(map[Key]*Handle),
		killGrace: KillGrace,
		afterFunc: time.AfterFunc,
	}
}

// Register adds or replaces the handle for h's key.
func (r *Registry) Register(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := h
	r.handles[h.Key()] = &stored
}

// Unregister removes the handle for (cwd, taskID). It returns false if none existed.
func (r *Registry) Unregister(cwd, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := Key{Cwd: cwd, TaskID: taskID}
	if _, ok := r.handles[k]; !ok {
		return false
	}
	delete(r.handles, k)
	return true
}

// Get returns the handle registered under (cwd, taskID).
func (r *Registry) Get(cwd, taskID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[Key{Cwd: cwd, TaskID: taskID}]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// FindByTask returns the worker executing taskID in cwd.
// A direct key match wins; otherwise a lobby worker whose assignment
// equals taskID is returned.
func (r *Registry) FindByTask(cwd, taskID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.findLocked(cwd, taskID)
	if h == nil {
		return Handle{}, false
	}
	return *h, true
}

func (r *Registry) findLocked(cwd, taskID string) *Handle {
	if h, ok := r.handles[Key{Cwd: cwd, TaskID: taskID}]; ok {
		return h
	}
	for _, h := range r.handles {
		if h.Kind == KindLobby && h.Cwd == cwd && h.AssignedTaskID != "" && h.AssignedTaskID == taskID {
			return h
		}
	}
	return nil
}

// IsAlive reports whether the worker for taskID is running and has not been told to stop.
func (r *Registry) IsAlive(cwd, taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := r.findLocked(cwd, taskID)
	return h != nil && aliveLocked(h)
}

func aliveLocked(h *Handle) bool {
	return !h.signaled && !Exited(h.Process)
}

// SetIdentity records the coordination identity a worker registered with.
func (r *Registry) SetIdentity(cwd, taskID, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.findLocked(cwd, taskID)
	if h == nil {
		return ErrNotFound
	}
	h.Identity = identity
	return nil
}

// Identity returns the registered coordination identity for taskID, if any.
func (r *Registry) Identity(cwd, taskID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h := r.findLocked(cwd, taskID); h != nil {
		return h.Identity
	}
	return ""
}

// Assign binds a lobby worker to a task. An empty taskID releases it.
func (r *Registry) Assign(cwd, lobbyID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[Key{Cwd: cwd, TaskID: lobbyID}]
	if !ok || h.Kind != KindLobby {
		return ErrNotFound
	}
	h.AssignedTaskID = taskID
	return nil
}

// KillByTask sends SIGTERM to the worker running taskID and schedules a
// SIGKILL after the kill grace period if it is still running then.
// The fallback timer does not block the caller. It returns false when no
// live worker was found.
func (r *Registry) KillByTask(cwd, taskID string) bool {
	r.mu.Lock()
	h := r.findLocked(cwd, taskID)
	if h == nil || !aliveLocked(h) {
		r.mu.Unlock()
		return false
	}
	h.signaled = true
	proc := h.Process
	r.mu.Unlock()

	_ = proc.Signal(syscall.SIGTERM)
	r.afterFunc(r.killGrace, func() {
		if !Exited(proc) {
			_ = proc.Signal(syscall.SIGKILL)
		}
	})
	return true
}

// KillAll sends SIGTERM to every live worker in cwd (all directories when
// cwd is empty) and removes them from the table without waiting for exit.
// It returns the number of workers signalled.
func (r *Registry) KillAll(cwd string) int {
	r.mu.Lock()
	var victims []Process
	for k, h := range r.handles {
		if cwd != "" && h.Cwd != cwd {
			continue
		}
		if !aliveLocked(h) {
			continue
		}
		h.signaled = true
		victims = append(victims, h.Process)
		delete(r.handles, k)
	}
	r.mu.Unlock()

	for _, p := range victims {
		_ = p.Signal(syscall.SIGTERM)
	}
	return len(victims)
}

// All returns every handle, optionally scoped to cwd, sorted by key.
func (r *Registry) All(cwd string) []Handle {
	return r.filter(func(h *Handle) bool {
		return cwd == "" || h.Cwd == cwd
	})
}

// Lobby returns the lobby workers in cwd.
func (r *Registry) Lobby(cwd string) []Handle {
	return r.filter(func(h *Handle) bool {
		return h.Kind == KindLobby && (cwd == "" || h.Cwd == cwd)
	})
}

// IdleLobby returns lobby workers in cwd that have no assignment and a live process.
func (r *Registry) IdleLobby(cwd string) []Handle {
	return r.filter(func(h *Handle) bool {
		return h.Kind == KindLobby && (cwd == "" || h.Cwd == cwd) &&
			h.AssignedTaskID == "" && aliveLocked(h)
	})
}

// Count returns the number of registered handles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

func (r *Registry) filter(keep func(*Handle) bool) []Handle {
	r.mu.RLock()
	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if keep(h) {
			out = append(out, *h)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Cwd != out[j].Cwd {
			return out[i].Cwd < out[j].Cwd
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}
