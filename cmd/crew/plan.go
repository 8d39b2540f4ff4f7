package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/feed"
	"github.com/nicobailon/pi-messenger-sub001/internal/planning"
)

var (
	planMaxPasses int
	planPass      int
	planOwnerPID  int
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Track the planning run for this project",
	Long: `Inspect and drive the project's planning state machine.

Phases: idle, read-prd, scan-code, docs, refs, gap-analysis, build-steps,
build-task-graph, review-pass, finalizing, completed, failed.

The state lives in .pi/messenger/crew/planning-state.json and is rewritten on
every transition.`,
}

var planStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new planning run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlanning(func(p *project, m *planning.Manager) error {
			passes := planMaxPasses
			if passes <= 0 {
				passes = p.cfg.Planning.MaxPasses
			}
			st, err := m.Start(p.cwd, passes)
			if err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("planning run %s started (%d passes)", st.RunID, st.MaxPasses), color.FgGreen)
			return nil
		})
	},
}

var planAdvanceCmd = &cobra.Command{
	Use:   "advance <phase>",
	Short: "Move the active run to a phase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, err := planning.ParsePhase(args[0])
		if err != nil {
			return err
		}
		return withPlanning(func(p *project, m *planning.Manager) error {
			var pass *int
			if cmd.Flags().Changed("pass") {
				pass = &planPass
			}
			st, err := m.Advance(p.cwd, phase, pass)
			if err != nil {
				return err
			}
			printState(st)
			return nil
		})
	},
}

var planFinishCmd = &cobra.Command{
	Use:   "finish <completed|failed>",
	Short: "End the active run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		phase, err := planning.ParsePhase(args[0])
		if err != nil {
			return err
		}
		return withPlanning(func(p *project, m *planning.Manager) error {
			st, err := m.Finish(p.cwd, phase)
			if err != nil {
				return err
			}
			printState(st)
			return nil
		})
	},
}

var planCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the run and reset to idle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlanning(func(p *project, m *planning.Manager) error {
			if _, err := m.Cancel(p.cwd); err != nil {
				return err
			}
			printStatus("✓", "planning cancelled", color.FgGreen)
			return nil
		})
	},
}

var planStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the planning state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlanning(func(p *project, m *planning.Manager) error {
			st := m.State(p.cwd)
			printState(st)
			if st.Active {
				if stalled, age := m.Stalled(p.cwd, p.cfg.Planning.StaleAfter); stalled {
					printStatus("⚠", fmt.Sprintf("no update for %s", age.Round(time.Second)), color.FgYellow)
				}
			}
			return nil
		})
	},
}

var planRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reload the state, clearing a run whose owner has died",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlanning(func(p *project, m *planning.Manager) error {
			res, err := m.Restore(p.cwd)
			if err != nil {
				return err
			}
			if res.StaleCleared {
				printStatus("⚠", "cleared a planning run whose owner is gone", color.FgYellow)
			}
			printState(res.State)
			return nil
		})
	},
}

var planWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow planning transitions until interrupted",
	Long: `Print every planning transition as it is written. A banner is shown
once when a new run starts; runs already announced are not shown again.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPlanning(func(p *project, m *planning.Manager) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watchPlanning(ctx, p, m)
		})
	},
}

func init() {
	planStartCmd.Flags().IntVar(&planMaxPasses, "max-passes", 0, "Maximum planning passes (default: planning.max_passes)")
	planStartCmd.Flags().IntVar(&planOwnerPID, "owner-pid", 0, "Process that owns the run (default: the calling shell)")
	planAdvanceCmd.Flags().IntVar(&planPass, "pass", 0, "Set the current pass number")

	planCmd.AddCommand(planStartCmd, planAdvanceCmd, planFinishCmd, planCancelCmd,
		planStatusCmd, planRestoreCmd, planWatchCmd)
}

// withPlanning opens the project and a Manager for it. The CLI exits right
// after each command, so runs are owned by the calling process.
func withPlanning(fn func(*project, *planning.Manager) error) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	owner := planOwnerPID
	if owner <= 0 {
		owner = os.Getppid()
	}
	m := planning.NewManager(
		planning.WithOwnerPID(owner),
		planning.WithFeed(feed.New(feed.Path(p.cwd), p.logger)),
		planning.WithLogger(p.logger),
	)
	return fn(p, m)
}

func watchPlanning(ctx context.Context, p *project, m *planning.Manager) error {
	if _, err := m.Restore(p.cwd); err != nil {
		return err
	}
	printState(m.State(p.cwd))

	err := m.Watch(ctx, p.cwd, func(st planning.State) {
		if st.Active && m.MarkOverlay(p.cwd, st.RunID) {
			if runID, ok := m.ConsumeOverlay(p.cwd); ok {
				fmt.Println(color.New(color.FgCyan, color.Bold).Sprintf("» planning run %s started", runID))
				m.DismissOverlay(runID)
			}
		}
		printState(st)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func printState(st planning.State) {
	phase := string(st.Phase)
	switch {
	case st.Phase == planning.PhaseCompleted:
		phase = color.GreenString(phase)
	case st.Phase == planning.PhaseFailed:
		phase = color.RedString(phase)
	case st.Active:
		phase = color.CyanString(phase)
	}

	line := "phase " + phase
	if st.Active {
		line += fmt.Sprintf("  pass %d/%d  run %s  owner %d", st.Pass, st.MaxPasses, st.RunID, st.PID)
	}
	if st.UpdatedAt != nil {
		line += "  updated " + st.UpdatedAt.Local().Format(time.TimeOnly)
	}
	fmt.Println(line)
}
