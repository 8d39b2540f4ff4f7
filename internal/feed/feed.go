// Package feed appends crew activity to a JSONL file that other sessions
// in the same project can tail.
package feed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types written by the crew runtime.
const (
	TaskStarted      = "task.started"
	TaskCompleted    = "task.completed"
	TaskFailed       = "task.failed"
	PlanningStarted  = "planning.started"
	PlanningAdvanced = "planning.advanced"
	PlanningFinished = "planning.finished"
	PlanningCanceled = "planning.cancelled"
)

// Event is one feed line.
type Event struct {
	Time   time.Time `json:"ts"`
	Type   string    `json:"type"`
	Agent  string    `json:"agent,omitempty"`
	Name   string    `json:"name,omitempty"`
	TaskID string    `json:"taskId,omitempty"`
	Text   string    `json:"text,omitempty"`
}

// Feed is an append-only JSONL log. Writes are serialized.
type Feed struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// Path returns the feed location for a project.
func Path(cwd string) string {
	return filepath.Join(cwd, ".pi", "messenger", "feed.jsonl")
}

// New returns a Feed writing to path. A nil logger discards write errors.
func New(path string, logger *slog.Logger) *Feed {
	return &Feed{path: path, logger: logger}
}

// Append writes ev. Failures are logged and otherwise ignored.
func (f *Feed) Append(ev Event) {
	if f == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := f.write(ev); err != nil && f.logger != nil {
		f.logger.Warn("feed append failed", "type", ev.Type, "error", err)
	}
}

func (f *Feed) write(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	data = append(data, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create feed dir: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return fmt.Errorf("append feed: %w", err)
	}
	return file.Close()
}

// Tail returns the last n events, oldest first. Malformed lines are skipped.
func (f *Feed) Tail(n int) ([]Event, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
		if n > 0 && len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	return events, nil
}
