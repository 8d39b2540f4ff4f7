package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nicobailon/pi-messenger-sub001/internal/progress"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// Source is the live table the view renders.
type Source interface {
	ForCwd(cwd string) []progress.LiveWorker
	Subscribe(fn func()) (unsubscribe func())
}

// ChangedMsg is sent when the broadcast table changed.
type ChangedMsg struct{}

// DoneMsg ends the run. The view shows the results and waits for a key.
type DoneMsg struct {
	Results []models.AgentResult
}

type tickMsg time.Time

// LiveView is the bubbletea model for a running crew batch.
type LiveView struct {
	cwd     string
	source  Source
	cancel  func()
	changed chan struct{}
	unsub   func()
	spinner spinner.Model
	now     func() time.Time

	workers    []progress.LiveWorker
	results    []models.AgentResult
	done       bool
	cancelling bool
	width      int
}

// NewLiveView creates a view of source scoped to cwd. cancel is called once
// when the user quits before the run is done; it may be nil.
func NewLiveView(cwd string, source Source, cancel func()) *LiveView {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = toolStyle

	v := &LiveView{
		cwd:     cwd,
		source:  source,
		cancel:  cancel,
		changed: make(chan struct{}, 1),
		spinner: sp,
		now:     time.Now,
		width:   100,
	}
	v.unsub = source.Subscribe(func() {
		select {
		case v.changed <- struct{}{}:
		default:
		}
	})
	v.workers = source.ForCwd(cwd)
	return v
}

// NewLiveProgram wraps a LiveView in a tea.Program.
func NewLiveProgram(cwd string, source Source, cancel func()) (*tea.Program, *LiveView) {
	v := NewLiveView(cwd, source, cancel)
	return tea.NewProgram(v), v
}

// Init implements tea.Model.
func (v *LiveView) Init() tea.Cmd {
	return tea.Batch(v.spinner.Tick, v.waitForChange(), tick())
}

func (v *LiveView) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-v.changed
		return ChangedMsg{}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (v *LiveView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if v.done {
				return v, tea.Quit
			}
			if !v.cancelling {
				v.cancelling = true
				if v.cancel != nil {
					v.cancel()
				}
			}
		}

	case tea.WindowSizeMsg:
		v.width = msg.Width

	case ChangedMsg:
		v.workers = v.source.ForCwd(v.cwd)
		if !v.done {
			return v, v.waitForChange()
		}

	case tickMsg:
		if !v.done {
			return v, tick()
		}

	case DoneMsg:
		v.done = true
		v.results = msg.Results
		v.workers = nil
		if v.unsub != nil {
			v.unsub()
			v.unsub = nil
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		v.spinner, cmd = v.spinner.Update(msg)
		return v, cmd
	}
	return v, nil
}

// View implements tea.Model.
func (v *LiveView) View() string {
	var b strings.Builder

	if v.done {
		ok := 0
		for _, r := range v.results {
			if r.Succeeded() {
				ok++
			}
		}
		b.WriteString(titleStyle.Render(fmt.Sprintf("crew run finished: %d/%d succeeded", ok, len(v.results))))
		b.WriteString("\n\n")
		for _, r := range v.results {
			b.WriteString(renderResult(r, v.width))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(footerStyle.Render("press q to exit"))
		return b.String()
	}

	header := fmt.Sprintf("%s crew: %d running", v.spinner.View(), len(v.workers))
	if v.cancelling {
		header += failedStyle.Render("  cancelling...")
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")
	if len(v.workers) == 0 {
		b.WriteString(labelStyle.Render("  waiting for workers"))
		b.WriteString("\n")
	}
	now := v.now()
	for _, w := range v.workers {
		b.WriteString(renderWorker(w, now, v.width))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("q to cancel"))
	return b.String()
}

// renderWorker formats one live worker as a single line.
func renderWorker(w progress.LiveWorker, now time.Time, width int) string {
	p := w.Progress
	tool := p.CurrentTool
	if tool == "" {
		tool = "thinking"
	} else if p.CurrentToolSummary != "" {
		tool += " " + p.CurrentToolSummary
	}

	name := w.Name
	if name == "" {
		name = w.TaskID
	}

	var b strings.Builder
	b.WriteString(statusIcon(p.Status))
	b.WriteString(" ")
	b.WriteString(nameStyle.Render(name))
	b.WriteString(" ")
	b.WriteString(labelStyle.Render("(" + w.Agent + ")"))
	b.WriteString(" ")
	b.WriteString(valueStyle.Render(fmt.Sprintf("%d tools  %s tok  $%.4f  %s",
		p.ToolCount, formatTokensCompact(p.Tokens.Total()), p.Tokens.Cost, formatDuration(now.Sub(w.StartedAt)))))

	line := b.String()
	room := width - lipgloss.Width(line) - 3
	if room > 10 {
		line += "  " + toolStyle.Render(clip(tool, room))
	}
	return line
}

func renderResult(r models.AgentResult, width int) string {
	status := models.ProgressCompleted
	if !r.Succeeded() {
		status = models.ProgressFailed
	}
	name := r.Name
	if name == "" {
		name = r.Agent
	}
	line := fmt.Sprintf("%s %s %s", statusIcon(status), nameStyle.Render(name),
		labelStyle.Render(fmt.Sprintf("exit %d  %s", r.ExitCode, formatDuration(r.Duration))))
	if r.Error != "" {
		first, _, _ := strings.Cut(r.Error, "\n")
		line += "  " + failedStyle.Render(clip(first, max(width-lipgloss.Width(line)-3, 20)))
	}
	return line
}
