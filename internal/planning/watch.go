package planning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn with the persisted state each time cwd's planning file is
// replaced or written, including by other processes. The Manager's view of
// cwd is updated before fn runs, so overlay calls made from fn see the new
// run. The watcher is registered before Watch returns and stops when ctx is
// done.
func (m *Manager) Watch(ctx context.Context, cwd string, fn func(State)) error {
	path := Path(cwd)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create planning dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// The file is replaced by rename, so watch the directory.
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Create|fsnotify.Write) {
					continue
				}
				st, err := Load(cwd)
				if err != nil {
					m.logger.Debug("skipping unreadable planning state", "path", path, "error", err)
					continue
				}
				m.mu.Lock()
				m.entryLocked(cwd).state = st
				m.mu.Unlock()
				fn(st)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.logger.Warn("planning watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
