package crew

import (
	"path/filepath"
	"strings"

	"github.com/nicobailon/pi-messenger-sub001/internal/agents"
	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// builtinTools is the runtime's own tool set.
var builtinTools = map[string]bool{
	"read": true, "bash": true, "edit": true, "write": true,
	"grep": true, "find": true, "ls": true,
}

var extensionSuffixes = []string{".ts", ".js", ".mjs"}

// thinkingLevels are the effort suffixes a model name may carry.
var thinkingLevels = map[string]bool{
	"off": true, "minimal": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

// defaultBudgets applies when neither task, agent nor config set one.
var defaultBudgets = map[models.Role]models.OutputBudget{
	models.RolePlanner:  {Bytes: 100 * 1024, Lines: 2000},
	models.RoleWorker:   {Bytes: 50 * 1024, Lines: 1000},
	models.RoleReviewer: {Bytes: 50 * 1024, Lines: 1000},
	models.RoleAnalyst:  {Bytes: 100 * 1024, Lines: 2000},
}

// Invocation is the resolved subprocess command line.
type Invocation struct {
	Model    string
	Thinking string
	Tools    []string
	// Extensions are extension references taken from the tool list.
	Extensions []string
	Budget     models.OutputBudget
	Role       models.Role
}

// ResolveModel applies task override → agent default → none.
func ResolveModel(task models.AgentTask, def agents.Definition) string {
	if task.Model != "" {
		return task.Model
	}
	return def.Model
}

// ResolveThinking applies config role override → agent default. "off"
// means no preference.
func ResolveThinking(cfg *config.CrewConfig, def agents.Definition) string {
	level := ""
	if cfg != nil {
		level = cfg.ThinkingFor(def.Role)
	}
	if level == "" {
		level = def.Thinking
	}
	if strings.EqualFold(level, "off") {
		return ""
	}
	return level
}

// ResolveBudget applies task override → config role budget → agent
// max_output → built-in role default.
func ResolveBudget(task models.AgentTask, def agents.Definition, cfg *config.CrewConfig) models.OutputBudget {
	if task.Output != nil && !task.Output.IsZero() {
		return *task.Output
	}
	if cfg != nil {
		if b, ok := cfg.BudgetFor(def.Role); ok {
			return b
		}
	}
	if def.MaxOutput != nil && !def.MaxOutput.IsZero() {
		return *def.MaxOutput
	}
	if b, ok := defaultBudgets[def.Role]; ok {
		return b
	}
	return defaultBudgets[models.RoleWorker]
}

// ModelHasThinkingSuffix reports whether model ends in ":<level>".
func ModelHasThinkingSuffix(model string) bool {
	i := strings.LastIndexByte(model, ':')
	if i < 0 {
		return false
	}
	return thinkingLevels[strings.ToLower(model[i+1:])]
}

// SplitTools separates built-in tool names from extension references.
// Unknown bare names are dropped.
func SplitTools(entries []string) (tools, extensions []string) {
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if isExtensionRef(e) {
			extensions = append(extensions, e)
			continue
		}
		if builtinTools[e] {
			tools = append(tools, e)
		}
	}
	return tools, extensions
}

func isExtensionRef(s string) bool {
	if strings.ContainsRune(s, '/') || strings.ContainsRune(s, filepath.Separator) {
		return true
	}
	for _, suf := range extensionSuffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// Resolve computes everything the command line needs.
func Resolve(task models.AgentTask, def agents.Definition, cfg *config.CrewConfig) Invocation {
	role := def.Role
	if !role.Valid() {
		role = models.RoleWorker
		def.Role = role
	}
	inv := Invocation{
		Model:    ResolveModel(task, def),
		Thinking: ResolveThinking(cfg, def),
		Budget:   ResolveBudget(task, def, cfg),
		Role:     role,
	}
	inv.Tools, inv.Extensions = SplitTools(def.Tools)
	return inv
}

// BuildArgs renders the runtime argv. crewExtension is the orchestrator's
// own extension; systemPromptFile may be empty.
func BuildArgs(inv Invocation, crewExtension, systemPromptFile, taskText string) []string {
	args := []string{"--mode", "json", "--no-session"}
	if inv.Model != "" {
		args = append(args, "--model", inv.Model)
	}
	if inv.Thinking != "" && !ModelHasThinkingSuffix(inv.Model) {
		args = append(args, "--thinking", inv.Thinking)
	}
	if len(inv.Tools) > 0 {
		args = append(args, "--tools", strings.Join(inv.Tools, ","))
	}
	for _, ext := range inv.Extensions {
		args = append(args, "--extension", ext)
	}
	if crewExtension != "" {
		args = append(args, "--extension", crewExtension)
	}
	if systemPromptFile != "" {
		args = append(args, "--append-system-prompt", systemPromptFile)
	}
	return append(args, taskText)
}
