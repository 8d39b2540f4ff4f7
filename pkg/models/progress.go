package models

import "time"

// ProgressStatus represents the state of a running worker.
type ProgressStatus string

const (
	// ProgressRunning indicates the worker process is still executing.
	ProgressRunning ProgressStatus = "running"
	// ProgressCompleted indicates the worker exited with code 0.
	ProgressCompleted ProgressStatus = "completed"
	// ProgressFailed indicates the worker exited with a non-zero code.
	ProgressFailed ProgressStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressRunning, ProgressCompleted, ProgressFailed:
		return true
	default:
		return false
	}
}

// ToolCall records a single tool invocation made by a worker.
type ToolCall struct {
	// Name is the tool name (e.g. "read", "bash").
	Name string `json:"name"`
	// Summary is a short human-readable description of the arguments.
	Summary string `json:"summary,omitempty"`
	// StartedAt is when the tool call began.
	StartedAt time.Time `json:"started_at"`
	// Failed is true when the tool reported an error.
	Failed bool `json:"failed,omitempty"`
}

// Usage aggregates token counts and cost reported by the worker runtime.
type Usage struct {
	Input      int64   `json:"input"`
	Output     int64   `json:"output"`
	CacheRead  int64   `json:"cache_read"`
	CacheWrite int64   `json:"cache_write"`
	Cost       float64 `json:"cost"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.Input + u.Output
}

// Progress is a snapshot of what a worker has done so far.
type Progress struct {
	// Agent is the agent identifier the worker runs as.
	Agent string `json:"agent"`
	// Status is the worker state.
	Status ProgressStatus `json:"status"`
	// Tools is the recent tool-call history, oldest first.
	Tools []ToolCall `json:"tools,omitempty"`
	// ToolCount is the total number of tool calls seen.
	ToolCount int `json:"tool_count"`
	// CurrentTool is the tool currently executing, if any.
	CurrentTool string `json:"current_tool,omitempty"`
	// CurrentToolSummary describes the arguments of CurrentTool.
	CurrentToolSummary string `json:"current_tool_summary,omitempty"`
	// Tokens is the aggregated usage.
	Tokens Usage `json:"tokens"`
	// Turns counts completed assistant messages.
	Turns int `json:"turns"`
	// Model is the model reported by the runtime.
	Model string `json:"model,omitempty"`
	// Events counts parsed progress events.
	Events int `json:"events"`
	// StartedAt is when the worker was spawned.
	StartedAt time.Time `json:"started_at"`
	// Elapsed is the time since StartedAt at the last update.
	Elapsed time.Duration `json:"elapsed"`
	// Error holds the last error reported by the runtime.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the snapshot.
func (p Progress) Clone() Progress {
	c := p
	if p.Tools != nil {
		c.Tools = make([]ToolCall, len(p.Tools))
		copy(c.Tools, p.Tools)
	}
	return c
}
