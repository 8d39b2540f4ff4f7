package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/agents"
	"github.com/nicobailon/pi-messenger-sub001/internal/lobby"
)

var (
	lobbyCount   int
	lobbyAgent   string
	lobbyAssigns []string
)

var lobbyCmd = &cobra.Command{
	Use:   "lobby",
	Short: "Keep pre-spawned workers waiting for assignments",
	Long: `Spawn workers that wait in the lobby until a task is assigned to
them through their inbox. Tasks given with --assign are handed to idle
workers in spawn order.

The command stays in the foreground until every worker has left the lobby
or it is interrupted, which terminates the remaining workers.`,
	Example: `  crew lobby -n 2
  crew lobby -n 2 --assign task-7="Fix the flaky pool test"`,
	RunE: runLobby,
}

func init() {
	lobbyCmd.Flags().IntVarP(&lobbyCount, "count", "n", 1, "Number of lobby workers to spawn")
	lobbyCmd.Flags().StringVar(&lobbyAgent, "agent", lobby.DefaultAgent, "Agent definition lobby workers run as")
	lobbyCmd.Flags().StringArrayVar(&lobbyAssigns, "assign", nil, "Assign task-id=text to an idle worker (repeatable)")
}

type lobbyAssignment struct {
	taskID string
	text   string
}

func parseAssignments(specs []string) ([]lobbyAssignment, error) {
	out := make([]lobbyAssignment, 0, len(specs))
	for _, s := range specs {
		id, text, _ := strings.Cut(s, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("invalid assignment %q: want task-id=text", s)
		}
		out = append(out, lobbyAssignment{taskID: id, text: strings.TrimSpace(text)})
	}
	return out, nil
}

func runLobby(cmd *cobra.Command, args []string) error {
	if lobbyCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	assigns, err := parseAssignments(lobbyAssigns)
	if err != nil {
		return err
	}
	if len(assigns) > lobbyCount {
		return fmt.Errorf("%d assignments for %d workers", len(assigns), lobbyCount)
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	catalog, err := agents.Discover(agents.DefaultDirs(p.cwd, p.cfg.Crew.AgentDirs...)...)
	if err != nil {
		return fmt.Errorf("discover agents: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := lobby.New(lobby.Config{
		Cwd:    p.cwd,
		Config: p.cfg,
		Agents: catalog,
		Agent:  lobbyAgent,
		Logger: p.logger,
	})
	defer l.Close()

	for i := 0; i < lobbyCount; i++ {
		h, err := l.Spawn(ctx)
		if err != nil {
			return fmt.Errorf("spawn lobby worker: %w", err)
		}
		printStatus("●", fmt.Sprintf("%s waiting (%s, pid %d)", h.Name, h.TaskID, h.Process.Pid()), color.FgCyan)
	}

	for _, a := range assigns {
		idle := l.Idle()
		if len(idle) == 0 {
			return fmt.Errorf("no idle lobby worker for %s", a.taskID)
		}
		h := idle[0]
		if err := l.Assign(h.TaskID, a.taskID, a.text); err != nil {
			return err
		}
		printStatus("→", fmt.Sprintf("%s assigned %s", h.Name, a.taskID), color.FgGreen)
	}

	reg := l.Registry()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			printStatus("■", "Stopping lobby workers", color.FgYellow)
			return l.Close()
		case <-ticker.C:
			if len(reg.Lobby(p.cwd)) == 0 {
				printStatus("✓", "All lobby workers have left", color.FgGreen)
				return nil
			}
		}
	}
}
