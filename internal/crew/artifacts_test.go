package crew

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestArtifactPaths(t *testing.T) {
	w := NewArtifactWriter("/art", "run1", true, nil)
	tests := []struct {
		got, want string
	}{
		{w.InputPath("crew-worker", 0), "/art/run1_crew-worker_0_input.md"},
		{w.OutputPath("crew-worker", -1), "/art/run1_crew-worker_output.md"},
		{w.EventsPath("scope/agent", 2), "/art/run1_scope_agent_2.jsonl"},
		{w.MetadataPath("a b", 1), "/art/run1_a_b_1_meta.json"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestArtifactWrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	w := NewArtifactWriter(dir, "run1", true, nil)

	if o := w.WriteInput("worker", 0, "task text"); !o.OK() {
		t.Fatalf("WriteInput: %+v", o)
	}
	if o := w.WriteMetadata("worker", 0, map[string]int{"exitCode": 0}); !o.OK() {
		t.Fatalf("WriteMetadata: %+v", o)
	}
	data, _ := os.ReadFile(w.MetadataPath("worker", 0))
	var meta map[string]int
	if err := json.Unmarshal(data, &meta); err != nil {
		t.Errorf("metadata not JSON: %v", err)
	}

	log := w.OpenEvents("worker", 0)
	if log.Path() != "" {
		t.Error("Path should be empty before any write")
	}
	log.Append([]byte(`{"type":"a"}`))
	log.Append([]byte(`{"type":"b"}`))
	log.Close()

	events, _ := os.ReadFile(w.EventsPath("worker", 0))
	if got := strings.Count(string(events), "\n"); got != 2 {
		t.Errorf("expected 2 lines, got %d", got)
	}
	if log.Path() != w.EventsPath("worker", 0) {
		t.Errorf("Path = %q", log.Path())
	}
}

func TestArtifactsDisabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "artifacts")
	w := NewArtifactWriter(dir, "run1", false, nil)

	if o := w.WriteInput("worker", 0, "x"); o.OK() || o.Err != nil {
		t.Errorf("disabled write = %+v", o)
	}
	w.OpenEvents("worker", 0).Append([]byte("{}"))
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("disabled writer must not create the directory")
	}
}

func TestEventLogDisablesAfterFailure(t *testing.T) {
	base := t.TempDir()
	// A regular file where the directory should be makes every write fail.
	blocker := filepath.Join(base, "blocked")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := NewArtifactWriter(blocker, "run1", true, nil)

	log := w.OpenEvents("worker", 0)
	first := log.Append([]byte("{}"))
	if first.Err == nil {
		t.Fatal("expected the first append to fail")
	}
	second := log.Append([]byte("{}"))
	if second.Err == nil {
		t.Error("log should stay disabled")
	}
	if log.Path() != "" {
		t.Error("failed log should report no path")
	}

	// Other writes are still attempted independently.
	if o := w.WriteInput("worker", 0, "x"); o.Err == nil {
		t.Error("expected input write to fail too")
	}
}

func TestCleanArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old_input.md")
	fresh := filepath.Join(dir, "fresh_input.md")
	for _, p := range []string{old, fresh} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	n, err := CleanArtifacts(dir, time.Now().Add(-7*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("CleanArtifacts = %d, %v", n, err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh artifact removed")
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old artifact kept")
	}

	if n, err := CleanArtifacts(filepath.Join(dir, "none"), time.Now()); n != 0 || err != nil {
		t.Errorf("missing dir = %d, %v", n, err)
	}
}
