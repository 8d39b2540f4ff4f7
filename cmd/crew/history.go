package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/state"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past crew runs",
	Long: `Without arguments, list recent runs. With a run id, list the results
recorded for that run.

Runs still marked running whose owning process is gone are shown as
interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	if _, err := os.Stat(state.ProjectDBPath(p.cwd)); os.IsNotExist(err) {
		fmt.Println("No runs yet. Run 'crew run' to start one.")
		return nil
	}

	db, err := state.OpenProject(p.cwd)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()

	if _, err := db.MarkInterrupted(nil); err != nil {
		p.logger.Warn("interrupted run check failed", "error", err)
	}

	if len(args) == 1 {
		return displayRun(db, args[0])
	}
	return displayRuns(db)
}

func displayRuns(db *state.DB) error {
	runs, err := db.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tSTATUS\tTASKS\tOK\tFAILED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.StartedAt.Local().Format("2006-01-02 15:04"), statusColor(r.Status),
			r.TaskCount, r.Succeeded, r.Failed, duration)
	}
	return w.Flush()
}

func displayRun(db *state.DB, id string) error {
	run, err := db.GetRun(id)
	if errors.Is(err, state.ErrRunNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return err
	}
	results, err := db.ListResults(id)
	if err != nil {
		return err
	}

	fmt.Printf("Run %s  %s  %s\n\n", run.ID, statusColor(run.Status), run.Cwd)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tNAME\tTASK\tEXIT\tTOKENS\tCOST\tDURATION\tERROR")
	for _, r := range results {
		task := r.TaskID
		if task == "" {
			task = "-"
		}
		errText := firstLine(r.Error)
		if r.Graceful {
			errText = "(shut down) " + errText
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.4f\t%s\t%s\n",
			r.Agent, r.Name, task, r.ExitCode, r.TokensIn+r.TokensOut, r.Cost,
			r.Duration.Round(time.Millisecond), errText)
	}
	return w.Flush()
}

func statusColor(s state.RunStatus) string {
	switch s {
	case state.RunCompleted:
		return color.GreenString(string(s))
	case state.RunFailed:
		return color.RedString(string(s))
	case state.RunInterrupted:
		return color.YellowString(string(s))
	default:
		return color.CyanString(string(s))
	}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
