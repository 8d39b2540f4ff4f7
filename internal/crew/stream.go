package crew

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// maxRecentTools bounds the tool history kept in a snapshot.
const maxRecentTools = 20

// ProgressAccumulator folds a worker's event stream into a Progress.
// It is not safe for concurrent use; the stdout pump owns it.
type ProgressAccumulator struct {
	progress models.Progress
	lastText string
	now      func() time.Time
}

// NewProgressAccumulator starts a running snapshot for agent.
func NewProgressAccumulator(agent string, startedAt time.Time) *ProgressAccumulator {
	return &ProgressAccumulator{
		progress: models.Progress{
			Agent:     agent,
			Status:    models.ProgressRunning,
			StartedAt: startedAt,
		},
		now: time.Now,
	}
}

// Apply parses one stdout line. It returns false for blank or malformed
// lines, which leave the snapshot untouched.
func (a *ProgressAccumulator) Apply(line []byte) bool {
	if len(strings.TrimSpace(string(line))) == 0 || !gjson.ValidBytes(line) {
		return false
	}
	ev := gjson.ParseBytes(line)
	if !ev.IsObject() {
		return false
	}

	p := &a.progress
	p.Events++
	p.Elapsed = a.now().Sub(p.StartedAt)

	switch ev.Get("type").String() {
	case "tool_execution_start":
		name := ev.Get("toolName").String()
		summary := summarizeArgs(name, ev.Get("args"))
		p.Tools = append(p.Tools, models.ToolCall{
			Name:      name,
			Summary:   summary,
			StartedAt: a.now(),
		})
		if len(p.Tools) > maxRecentTools {
			p.Tools = p.Tools[len(p.Tools)-maxRecentTools:]
		}
		p.ToolCount++
		p.CurrentTool = name
		p.CurrentToolSummary = summary

	case "tool_execution_end":
		name := ev.Get("toolName").String()
		if ev.Get("isError").Bool() {
			for i := len(p.Tools) - 1; i >= 0; i-- {
				if p.Tools[i].Name == name {
					p.Tools[i].Failed = true
					break
				}
			}
		}
		if p.CurrentTool == name || name == "" {
			p.CurrentTool = ""
			p.CurrentToolSummary = ""
		}

	case "message_end":
		a.applyMessage(ev.Get("message"))

	case "agent_end":
		p.CurrentTool = ""
		p.CurrentToolSummary = ""
	}
	return true
}

func (a *ProgressAccumulator) applyMessage(msg gjson.Result) {
	if msg.Get("role").String() != "assistant" {
		return
	}
	p := &a.progress
	p.Turns++

	usage := msg.Get("usage")
	p.Tokens.Input += usage.Get("input").Int()
	p.Tokens.Output += usage.Get("output").Int()
	p.Tokens.CacheRead += usage.Get("cacheRead").Int()
	p.Tokens.CacheWrite += usage.Get("cacheWrite").Int()
	p.Tokens.Cost += usage.Get("cost.total").Float()

	if m := msg.Get("model").String(); m != "" {
		p.Model = m
	}
	if msg.Get("stopReason").String() == "error" {
		if e := msg.Get("errorMessage").String(); e != "" {
			p.Error = e
		}
	}

	var parts []string
	msg.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			if t := block.Get("text").String(); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	if text := strings.Join(parts, "\n"); text != "" {
		a.lastText = text
	}
}

// Snapshot returns a deep copy of the current progress.
func (a *ProgressAccumulator) Snapshot() models.Progress {
	return a.progress.Clone()
}

// Output returns the last assistant text seen.
func (a *ProgressAccumulator) Output() string {
	return a.lastText
}

// Finish marks the snapshot completed or failed from the exit code.
func (a *ProgressAccumulator) Finish(exitCode int) {
	p := &a.progress
	if exitCode == 0 {
		p.Status = models.ProgressCompleted
	} else {
		p.Status = models.ProgressFailed
	}
	p.CurrentTool = ""
	p.CurrentToolSummary = ""
	p.Elapsed = a.now().Sub(p.StartedAt)
}

// summarizeArgs renders tool arguments as a short one-line description.
func summarizeArgs(tool string, args gjson.Result) string {
	if !args.Exists() {
		return ""
	}
	var s string
	switch tool {
	case "bash":
		s = args.Get("command").String()
	case "read", "write", "edit":
		s = firstNonEmpty(args.Get("path").String(), args.Get("file_path").String())
	case "grep", "find":
		s = firstNonEmpty(args.Get("pattern").String(), args.Get("path").String())
	case "ls":
		s = args.Get("path").String()
	}
	if s == "" {
		s = args.Raw
	}
	s = strings.Join(strings.Fields(s), " ")
	const max = 80
	if len(s) > max {
		s = cutBytes(s, max-3) + "..."
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
