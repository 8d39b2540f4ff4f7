package crew

import (
	"strings"
	"testing"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

func TestProgressAccumulator(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	acc := NewProgressAccumulator("crew-worker", start)
	acc.now = func() time.Time { return start.Add(3 * time.Second) }

	lines := []string{
		`{"type":"agent_start"}`,
		`{"type":"tool_execution_start","toolName":"bash","args":{"command":"go   test ./..."}}`,
		`{"type":"tool_execution_end","toolName":"bash","isError":true}`,
		`{"type":"tool_execution_start","toolName":"read","args":{"path":"main.go"}}`,
		`not json at all`,
		``,
		`{"type":"message_end","message":{"role":"user","content":[{"type":"text","text":"ignored"}]}}`,
		`{"type":"message_end","message":{"role":"assistant","model":"sonnet","content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"first"},{"type":"text","text":"second"}],"usage":{"input":100,"output":20,"cacheRead":5,"cacheWrite":1,"cost":{"total":0.25}}}}`,
		`{"type":"message_end","message":{"role":"assistant","stopReason":"error","errorMessage":"rate limited","content":[],"usage":{"input":1,"output":1}}}`,
		`{"type":"agent_end"}`,
	}

	parsed := 0
	for _, l := range lines {
		if acc.Apply([]byte(l)) {
			parsed++
		}
	}
	if parsed != 8 {
		t.Errorf("parsed = %d, want 8", parsed)
	}

	p := acc.Snapshot()
	if p.Events != 8 {
		t.Errorf("Events = %d, want 8", p.Events)
	}
	if p.ToolCount != 2 || len(p.Tools) != 2 {
		t.Fatalf("tools = %d/%d, want 2", p.ToolCount, len(p.Tools))
	}
	if !p.Tools[0].Failed || p.Tools[1].Failed {
		t.Errorf("failure flags = %v/%v", p.Tools[0].Failed, p.Tools[1].Failed)
	}
	if p.Tools[0].Summary != "go test ./..." {
		t.Errorf("bash summary = %q", p.Tools[0].Summary)
	}
	if p.CurrentTool != "" {
		t.Errorf("agent_end should clear current tool, got %q", p.CurrentTool)
	}
	if p.Turns != 2 {
		t.Errorf("Turns = %d, want 2", p.Turns)
	}
	want := models.Usage{Input: 101, Output: 21, CacheRead: 5, CacheWrite: 1, Cost: 0.25}
	if p.Tokens != want {
		t.Errorf("Tokens = %+v, want %+v", p.Tokens, want)
	}
	if p.Model != "sonnet" {
		t.Errorf("Model = %q", p.Model)
	}
	if p.Error != "rate limited" {
		t.Errorf("Error = %q", p.Error)
	}
	if p.Elapsed != 3*time.Second {
		t.Errorf("Elapsed = %v", p.Elapsed)
	}
	if acc.Output() != "first\nsecond" {
		t.Errorf("Output = %q", acc.Output())
	}
}

func TestProgressAccumulatorCurrentTool(t *testing.T) {
	acc := NewProgressAccumulator("a", time.Now())
	acc.Apply([]byte(`{"type":"tool_execution_start","toolName":"grep","args":{"pattern":"TODO"}}`))

	p := acc.Snapshot()
	if p.CurrentTool != "grep" || p.CurrentToolSummary != "TODO" {
		t.Errorf("current = %q/%q", p.CurrentTool, p.CurrentToolSummary)
	}

	acc.Apply([]byte(`{"type":"tool_execution_end","toolName":"grep"}`))
	if acc.Snapshot().CurrentTool != "" {
		t.Error("tool end should clear current tool")
	}
}

func TestProgressSnapshotIsolation(t *testing.T) {
	acc := NewProgressAccumulator("a", time.Now())
	acc.Apply([]byte(`{"type":"tool_execution_start","toolName":"ls","args":{"path":"."}}`))

	snap := acc.Snapshot()
	snap.Tools[0].Name = "mutated"

	if acc.Snapshot().Tools[0].Name != "ls" {
		t.Error("snapshot shares tool slice with accumulator")
	}
}

func TestProgressToolHistoryBounded(t *testing.T) {
	acc := NewProgressAccumulator("a", time.Now())
	for i := 0; i < maxRecentTools+5; i++ {
		acc.Apply([]byte(`{"type":"tool_execution_start","toolName":"read","args":{"path":"x"}}`))
	}
	p := acc.Snapshot()
	if len(p.Tools) != maxRecentTools {
		t.Errorf("history len = %d, want %d", len(p.Tools), maxRecentTools)
	}
	if p.ToolCount != maxRecentTools+5 {
		t.Errorf("ToolCount = %d", p.ToolCount)
	}
}

func TestProgressFinish(t *testing.T) {
	acc := NewProgressAccumulator("a", time.Now())
	acc.Finish(0)
	if acc.Snapshot().Status != models.ProgressCompleted {
		t.Error("exit 0 should complete")
	}
	acc.Finish(2)
	if acc.Snapshot().Status != models.ProgressFailed {
		t.Error("non-zero exit should fail")
	}
}

func TestSummarizeArgsLong(t *testing.T) {
	acc := NewProgressAccumulator("a", time.Now())
	cmd := strings.Repeat("x", 200)
	acc.Apply([]byte(`{"type":"tool_execution_start","toolName":"bash","args":{"command":"` + cmd + `"}}`))
	s := acc.Snapshot().Tools[0].Summary
	if len(s) != 80 || !strings.HasSuffix(s, "...") {
		t.Errorf("summary len %d: %q", len(s), s)
	}
}
