// Package progress holds the in-memory view of currently running workers.
//
// The orchestrator publishes a snapshot on every parsed progress event; a
// polling UI reads the table and subscribes for change notifications. The
// table has no say over worker lifecycle and is never persisted.
package progress

import (
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// LiveWorker is the latest known state of one running worker.
type LiveWorker struct {
	Cwd       string
	TaskID    string
	Agent     string
	Name      string
	Progress  models.Progress
	StartedAt time.Time
}

type key struct {
	cwd    string
	taskID string
}

type listener struct {
	id uint64
	fn func()
}

// Broadcast is a keyed table of live worker snapshots with change listeners.
// Listeners run synchronously after each mutation, outside the table lock.
type Broadcast struct {
	mu        sync.RWMutex
	workers   map[key]LiveWorker
	listeners []listener
	nextID    atomic.Uint64
	logger    *slog.Logger
}

// Option configures a Broadcast.
type Option func(*Broadcast)

// WithLogger sets the logger used to report panicking listeners.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcast) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast(opts ...Option) *Broadcast {
	b := &Broadcast{workers: make(map[key]LiveWorker), logger: logging.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Set stores w, replacing any earlier snapshot for the same (cwd, task id).
// The progress snapshot is deep-copied.
func (b *Broadcast) Set(w LiveWorker) {
	w.Progress = w.Progress.Clone()
	b.mu.Lock()
	b.workers[key{w.Cwd, w.TaskID}] = w
	b.mu.Unlock()
	b.notify()
}

// Remove deletes the snapshot for (cwd, taskID). Listeners are only
// notified when something was removed.
func (b *Broadcast) Remove(cwd, taskID string) {
	b.mu.Lock()
	k := key{cwd, taskID}
	_, ok := b.workers[k]
	delete(b.workers, k)
	b.mu.Unlock()
	if ok {
		b.notify()
	}
}

// Get returns the snapshot for (cwd, taskID).
func (b *Broadcast) Get(cwd, taskID string) (LiveWorker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	w, ok := b.workers[key{cwd, taskID}]
	if !ok {
		return LiveWorker{}, false
	}
	w.Progress = w.Progress.Clone()
	return w, true
}

// All returns every live worker ordered by start time.
func (b *Broadcast) All() []LiveWorker {
	return b.ForCwd("")
}

// ForCwd returns live workers in cwd ordered by start time. An empty cwd
// returns all workers.
func (b *Broadcast) ForCwd(cwd string) []LiveWorker {
	b.mu.RLock()
	out := make([]LiveWorker, 0, len(b.workers))
	for _, w := range b.workers {
		if cwd != "" && w.Cwd != cwd {
			continue
		}
		w.Progress = w.Progress.Clone()
		out = append(out, w)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out
}

// Len returns the number of live workers.
func (b *Broadcast) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.workers)
}

// Subscribe registers fn to be called after every mutation.
// The returned function removes the subscription.
func (b *Broadcast) Subscribe(fn func()) (unsubscribe func()) {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.listeners = append(b.listeners, listener{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, l := range b.listeners {
			if l.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

func (b *Broadcast) notify() {
	b.mu.RLock()
	ls := make([]listener, len(b.listeners))
	copy(ls, b.listeners)
	b.mu.RUnlock()

	for _, l := range ls {
		b.safeCall(l.fn)
	}
}

// safeCall keeps one panicking listener from starving the others.
func (b *Broadcast) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("progress listener panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
