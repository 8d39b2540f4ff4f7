package models

// OutputBudget caps the size of the text a worker hands back to its caller.
// A zero field means "no limit" for that dimension.
type OutputBudget struct {
	// Bytes is the maximum output size in bytes.
	Bytes int `json:"bytes,omitempty" yaml:"bytes,omitempty" mapstructure:"bytes"`
	// Lines is the maximum number of output lines.
	Lines int `json:"lines,omitempty" yaml:"lines,omitempty" mapstructure:"lines"`
}

// IsZero reports whether neither dimension is set.
func (b OutputBudget) IsZero() bool {
	return b.Bytes <= 0 && b.Lines <= 0
}

// AgentTask is one unit of delegated work. It is immutable once enqueued.
type AgentTask struct {
	// Agent is the identifier of the agent definition to run.
	Agent string `json:"agent" yaml:"agent"`
	// Task is the instruction text handed to the worker.
	Task string `json:"task" yaml:"task"`
	// TaskID optionally binds the work to a task in the task graph.
	TaskID string `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	// Model overrides the agent's default model.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// Output overrides the output budget for this task.
	Output *OutputBudget `json:"output,omitempty" yaml:"output,omitempty"`
}
