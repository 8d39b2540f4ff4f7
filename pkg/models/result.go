package models

import "time"

// Artifacts lists the debugging files written for one task execution.
// Empty fields were not written.
type Artifacts struct {
	Input    string `json:"input,omitempty"`
	Output   string `json:"output,omitempty"`
	Events   string `json:"events,omitempty"`
	Metadata string `json:"metadata,omitempty"`
}

// IsZero reports whether no artifact was written.
func (a Artifacts) IsZero() bool {
	return a.Input == "" && a.Output == "" && a.Events == "" && a.Metadata == ""
}

// AgentResult is produced exactly once per AgentTask, after the worker exits.
type AgentResult struct {
	// Agent is the agent identifier that ran.
	Agent string `json:"agent"`
	// TaskID is copied from the AgentTask.
	TaskID string `json:"task_id,omitempty"`
	// Name is the worker's generated display name.
	Name string `json:"name,omitempty"`
	// ExitCode is the process exit code.
	ExitCode int `json:"exit_code"`
	// Output is the final text, possibly truncated.
	Output string `json:"output"`
	// Truncated is true when Output was cut to the budget.
	Truncated bool `json:"truncated,omitempty"`
	// Progress is the final aggregated progress snapshot.
	Progress Progress `json:"progress"`
	// Error holds stderr (non-zero exit) or an internal failure reason.
	Error string `json:"error,omitempty"`
	// Artifacts lists written artifact files, if any.
	Artifacts *Artifacts `json:"artifacts,omitempty"`
	// GracefulShutdown is true when the worker was asked to shut down before exiting.
	GracefulShutdown bool `json:"graceful_shutdown,omitempty"`
	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the worker exited cleanly.
func (r AgentResult) Succeeded() bool {
	return r.ExitCode == 0
}
