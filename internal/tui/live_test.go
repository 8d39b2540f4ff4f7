package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nicobailon/pi-messenger-sub001/internal/progress"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

func liveWorker(cwd, taskID, name string, started time.Time) progress.LiveWorker {
	return progress.LiveWorker{
		Cwd:       cwd,
		TaskID:    taskID,
		Agent:     "crew-worker",
		Name:      name,
		StartedAt: started,
		Progress: models.Progress{
			Status:             models.ProgressRunning,
			ToolCount:          3,
			CurrentTool:        "bash",
			CurrentToolSummary: "go test ./...",
			Tokens:             models.Usage{Input: 1500, Output: 700, Cost: 0.0123},
		},
	}
}

func TestLiveView_TracksBroadcast(t *testing.T) {
	b := progress.NewBroadcast()
	started := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	b.Set(liveWorker("/proj", "t1", "BraveFox", started))
	b.Set(liveWorker("/other", "t9", "QuietOwl", started))

	v := NewLiveView("/proj", b, nil)
	v.now = func() time.Time { return started.Add(75 * time.Second) }

	out := v.View()
	if !strings.Contains(out, "BraveFox") || strings.Contains(out, "QuietOwl") {
		t.Errorf("view not scoped to cwd:\n%s", out)
	}
	if !strings.Contains(out, "1 running") || !strings.Contains(out, "2.2k tok") || !strings.Contains(out, "1m15s") {
		t.Errorf("view missing worker stats:\n%s", out)
	}

	b.Set(liveWorker("/proj", "t2", "CalmHeron", started))
	select {
	case <-v.changed:
	default:
		t.Fatal("broadcast change not signalled")
	}
	if _, cmd := v.Update(ChangedMsg{}); cmd == nil {
		t.Error("ChangedMsg should re-arm the change listener")
	}
	if out := v.View(); !strings.Contains(out, "CalmHeron") || !strings.Contains(out, "2 running") {
		t.Errorf("view not refreshed:\n%s", out)
	}
}

func TestLiveView_QuitCancelsOnce(t *testing.T) {
	b := progress.NewBroadcast()
	calls := 0
	v := NewLiveView("/proj", b, func() { calls++ })

	q := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}
	if _, cmd := v.Update(q); cmd != nil {
		t.Error("quit before done should not exit the program")
	}
	v.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if calls != 1 {
		t.Errorf("cancel called %d times, want 1", calls)
	}
	if !strings.Contains(v.View(), "cancelling") {
		t.Error("view does not show cancellation")
	}
}

func TestLiveView_Done(t *testing.T) {
	b := progress.NewBroadcast()
	v := NewLiveView("/proj", b, nil)

	v.Update(DoneMsg{Results: []models.AgentResult{
		{Agent: "crew-worker", Name: "BraveFox", Duration: 3 * time.Second},
		{Agent: "crew-worker", Name: "CalmHeron", ExitCode: 2, Error: "compile failed\nmore"},
	}})

	out := v.View()
	for _, want := range []string{"1/2 succeeded", "BraveFox", "CalmHeron", "exit 2", "compile failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("done view missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Error("done view shows more than the first error line")
	}

	// The listener is gone once done.
	b.Set(liveWorker("/proj", "t1", "Late", time.Now()))
	select {
	case <-v.changed:
		t.Error("listener still subscribed after DoneMsg")
	default:
	}

	if _, cmd := v.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")}); cmd == nil {
		t.Error("q after done should quit")
	}
}

func TestRenderWorker_IdleTool(t *testing.T) {
	w := liveWorker("/p", "t1", "", time.Now())
	w.Progress.CurrentTool = ""
	line := renderWorker(w, time.Now(), 200)
	if !strings.Contains(line, "t1") || !strings.Contains(line, "thinking") {
		t.Errorf("line = %q", line)
	}
}

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{formatTokensCompact(999), "999"},
		{formatTokensCompact(1500), "1.5k"},
		{formatTokensCompact(2500000), "2.5M"},
		{formatDuration(42 * time.Second), "42s"},
		{formatDuration(61 * time.Second), "1m1s"},
		{formatDuration(2*time.Hour + 5*time.Minute), "2h5m"},
		{clip("abcdefgh", 5), "ab..."},
		{clip("abc", 5), "abc"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
