// Package logging sets up the structured debug log for crew runs.
// Logs are JSON lines written to the project's control directory so a
// crashed run can be inspected afterwards.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the log file name inside the log directory.
const FileName = "crew.log"

// Dir returns the log directory for a project.
func Dir(cwd string) string {
	return filepath.Join(cwd, ".pi", "messenger", "crew", "logs")
}

// ParseLevel converts a level name to slog.Level. Unknown names map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a JSON logger writing to dir/crew.log. If dir is empty the
// logger writes to stderr. The returned closer must be called on shutdown.
func New(dir, level string) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	if dir == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nopCloser{}, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, opts)), f, nil
}

// ForProject opens the project log, falling back to a no-op logger when the
// log directory cannot be created.
func ForProject(cwd, level string) (*slog.Logger, io.Closer) {
	l, c, err := New(Dir(cwd), level)
	if err != nil {
		return Nop(), nopCloser{}
	}
	return l, c
}

// Nop returns a logger that discards everything.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
