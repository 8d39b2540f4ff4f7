package crew

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/internal/fsutil"
)

// WriteOutcome reports the result of a best-effort write.
type WriteOutcome struct {
	Path string
	Err  error
}

// OK reports whether the write succeeded.
func (o WriteOutcome) OK() bool { return o.Err == nil && o.Path != "" }

// ArtifactWriter archives per-task debugging files. Every write is
// best-effort: failures are logged and returned, never fatal.
type ArtifactWriter struct {
	dir     string
	runID   string
	enabled bool
	logger  *slog.Logger
}

// NewArtifactWriter writes into dir using runID as the file prefix.
func NewArtifactWriter(dir, runID string, enabled bool, logger *slog.Logger) *ArtifactWriter {
	return &ArtifactWriter{dir: dir, runID: runID, enabled: enabled, logger: logger}
}

// Enabled reports whether artifacts are written at all.
func (w *ArtifactWriter) Enabled() bool { return w != nil && w.enabled }

// Dir returns the artifact directory.
func (w *ArtifactWriter) Dir() string { return w.dir }

func (w *ArtifactWriter) base(agent string, index int) string {
	name := w.runID + "_" + sanitize(agent)
	if index >= 0 {
		name = fmt.Sprintf("%s_%d", name, index)
	}
	return filepath.Join(w.dir, name)
}

// InputPath returns the path of the task input file.
func (w *ArtifactWriter) InputPath(agent string, index int) string {
	return w.base(agent, index) + "_input.md"
}

// OutputPath returns the path of the untruncated output file.
func (w *ArtifactWriter) OutputPath(agent string, index int) string {
	return w.base(agent, index) + "_output.md"
}

// EventsPath returns the path of the raw event stream.
func (w *ArtifactWriter) EventsPath(agent string, index int) string {
	return w.base(agent, index) + ".jsonl"
}

// MetadataPath returns the path of the metadata document.
func (w *ArtifactWriter) MetadataPath(agent string, index int) string {
	return w.base(agent, index) + "_meta.json"
}

// WriteInput archives the task text.
func (w *ArtifactWriter) WriteInput(agent string, index int, text string) WriteOutcome {
	return w.write(w.InputPath(agent, index), []byte(text))
}

// WriteOutput archives the untruncated output.
func (w *ArtifactWriter) WriteOutput(agent string, index int, text string) WriteOutcome {
	return w.write(w.OutputPath(agent, index), []byte(text))
}

// WriteMetadata archives meta as indented JSON.
func (w *ArtifactWriter) WriteMetadata(agent string, index int, meta any) WriteOutcome {
	path := w.MetadataPath(agent, index)
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return w.report(WriteOutcome{Path: path, Err: fmt.Errorf("marshal metadata: %w", err)})
	}
	return w.write(path, data)
}

func (w *ArtifactWriter) write(path string, data []byte) WriteOutcome {
	if !w.Enabled() {
		return WriteOutcome{}
	}
	return w.report(WriteOutcome{Path: path, Err: fsutil.WriteFile(path, data, 0o644)})
}

func (w *ArtifactWriter) report(o WriteOutcome) WriteOutcome {
	if o.Err != nil && w.logger != nil {
		w.logger.Warn("artifact write failed", "path", o.Path, "error", o.Err)
	}
	return o
}

// OpenEvents returns the raw event log for one task.
func (w *ArtifactWriter) OpenEvents(agent string, index int) *EventLog {
	if !w.Enabled() {
		return &EventLog{disabled: true}
	}
	return &EventLog{path: w.EventsPath(agent, index), logger: w.logger}
}

// EventLog appends raw progress lines. The first failed append disables
// the log for the rest of the task.
type EventLog struct {
	path     string
	logger   *slog.Logger
	mu       sync.Mutex
	f        *os.File
	disabled bool
	wrote    bool
	failure  error
}

// Append writes line plus a newline.
func (e *EventLog) Append(line []byte) WriteOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.disabled {
		return WriteOutcome{Path: e.path, Err: e.failure}
	}
	err := fsutil.Retry(func() error {
		if e.f == nil {
			if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			e.f = f
		}
		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		_, err := e.f.Write(buf)
		return err
	})
	if err == nil {
		e.wrote = true
	} else {
		e.disabled = true
		e.failure = err
		if e.f != nil {
			e.f.Close()
			e.f = nil
		}
		if e.logger != nil {
			e.logger.Warn("event log disabled", "path", e.path, "error", err)
		}
	}
	return WriteOutcome{Path: e.path, Err: err}
}

// Path returns the log file path, or "" when no line was written.
func (e *EventLog) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.wrote {
		return ""
	}
	return e.path
}

// Close closes the file.
func (e *EventLog) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f == nil {
		return nil
	}
	err := e.f.Close()
	e.f = nil
	return err
}

// CleanArtifacts removes files in dir last modified before cutoff.
func CleanArtifacts(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "agent"
	}
	return s
}
