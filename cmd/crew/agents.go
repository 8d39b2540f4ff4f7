package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/agents"
	"github.com/nicobailon/pi-messenger-sub001/internal/crew"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List available agent definitions",
	Long: `List the agent definitions crew can run, with the model, thinking
level and output budget each resolves to under the current config.

Definitions are read from ~/.pi/agent/agents, then
.pi/messenger/crew/agents, then any crew.agent_dirs. A later directory
overrides an earlier one with the same agent name.`,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	catalog, err := agents.Discover(agents.DefaultDirs(p.cwd, p.cfg.Crew.AgentDirs...)...)
	if err != nil {
		return fmt.Errorf("discover agents: %w", err)
	}
	defs := catalog.List()
	if len(defs) == 0 {
		fmt.Println("No agent definitions found.")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if len(defs) > 0 {
		fmt.Fprintln(w, "NAME\tROLE\tMODEL\tTHINKING\tBUDGET\tSOURCE")
	}
	for _, d := range defs {
		inv := crew.Resolve(models.AgentTask{Agent: d.Name}, d, &p.cfg.Crew)
		model := inv.Model
		if model == "" {
			model = "-"
		}
		thinking := inv.Thinking
		if thinking == "" {
			thinking = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Name, inv.Role, model, thinking, formatBudget(inv.Budget.Bytes, inv.Budget.Lines), shortenHome(d.Source))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, path := range catalog.Skipped {
		printStatus("⚠", "skipped unreadable agent "+path, color.FgYellow)
	}
	return nil
}

func formatBudget(bytes, lines int) string {
	var parts []string
	if bytes > 0 {
		parts = append(parts, fmt.Sprintf("%dKB", bytes/1024))
	}
	if lines > 0 {
		parts = append(parts, fmt.Sprintf("%d lines", lines))
	}
	if len(parts) == 0 {
		return "unlimited"
	}
	return strings.Join(parts, "/")
}

func shortenHome(path string) string {
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, home) {
		return "~" + strings.TrimPrefix(path, home)
	}
	return path
}
