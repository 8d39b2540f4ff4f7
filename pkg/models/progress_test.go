package models

import (
	"testing"
	"time"
)

func TestProgressStatusValid(t *testing.T) {
	for _, s := range []ProgressStatus{ProgressRunning, ProgressCompleted, ProgressFailed} {
		if !s.Valid() {
			t.Errorf("ProgressStatus(%q).Valid() = false, want true", s)
		}
	}
	if ProgressStatus("done").Valid() {
		t.Error("ProgressStatus(\"done\").Valid() = true, want false")
	}
}

func TestProgressCloneIsDeep(t *testing.T) {
	p := Progress{
		Agent:  "crew-worker",
		Status: ProgressRunning,
		Tools: []ToolCall{
			{Name: "read", StartedAt: time.Now()},
		},
		Tokens: Usage{Input: 10, Output: 5},
	}

	c := p.Clone()
	c.Tools[0].Name = "bash"
	c.Tools = append(c.Tools, ToolCall{Name: "edit"})
	c.Tokens.Input = 99

	if p.Tools[0].Name != "read" {
		t.Errorf("original tool mutated through clone: %q", p.Tools[0].Name)
	}
	if len(p.Tools) != 1 {
		t.Errorf("original tools length = %d, want 1", len(p.Tools))
	}
	if p.Tokens.Input != 10 {
		t.Errorf("original tokens mutated: %d", p.Tokens.Input)
	}
}

func TestProgressCloneNilTools(t *testing.T) {
	c := Progress{}.Clone()
	if c.Tools != nil {
		t.Errorf("expected nil tools, got %v", c.Tools)
	}
}

func TestUsageTotal(t *testing.T) {
	u := Usage{Input: 100, Output: 40, CacheRead: 1000}
	if got := u.Total(); got != 140 {
		t.Errorf("Total() = %d, want 140", got)
	}
}

func TestOutputBudgetIsZero(t *testing.T) {
	if !(OutputBudget{}).IsZero() {
		t.Error("empty budget should be zero")
	}
	if (OutputBudget{Lines: 10}).IsZero() {
		t.Error("budget with lines should not be zero")
	}
}

func TestAgentResultSucceeded(t *testing.T) {
	if !(AgentResult{ExitCode: 0}).Succeeded() {
		t.Error("exit 0 should succeed")
	}
	if (AgentResult{ExitCode: 2}).Succeeded() {
		t.Error("exit 2 should not succeed")
	}
}
