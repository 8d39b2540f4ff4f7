package feed

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messenger", "feed.jsonl")
	f := New(path, nil)

	f.Append(Event{Type: TaskStarted, TaskID: "task-1"})
	f.Append(Event{Type: TaskCompleted, TaskID: "task-1"})
	f.Append(Event{Type: TaskStarted, TaskID: "task-2"})

	all, err := f.Tail(0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].Time.IsZero() {
		t.Error("Append should stamp the event time")
	}

	last, _ := f.Tail(2)
	if len(last) != 2 || last[0].Type != TaskCompleted || last[1].TaskID != "task-2" {
		t.Errorf("Tail(2) = %+v", last)
	}
}

func TestTailSkipsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.jsonl")
	content := `{"type":"task.started"}` + "\nnot json\n" + `{"type":"task.failed"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	events, err := New(path, nil).Tail(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestNilFeedIsSafe(t *testing.T) {
	var f *Feed
	f.Append(Event{Type: TaskStarted})
}

func TestMissingFeed(t *testing.T) {
	events, err := New(filepath.Join(t.TempDir(), "none.jsonl"), nil).Tail(5)
	if err != nil || events != nil {
		t.Errorf("Tail on missing file = %v, %v", events, err)
	}
}
