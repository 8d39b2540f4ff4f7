package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/mailbox"
	"github.com/nicobailon/pi-messenger-sub001/internal/registry"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List agents registered with the messenger",
	Long: `List the agents that have a descriptor in the project's messenger
registry, with whether their process is still alive.`,
	RunE: runWorkersList,
}

var workersKillCmd = &cobra.Command{
	Use:   "kill <name|pid>",
	Short: "Terminate a registered agent",
	Long: `Send SIGTERM to a registered agent, then SIGKILL if it is still
running after the kill grace period. Its descriptor is removed afterwards.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkersKill,
}

func init() {
	workersCmd.AddCommand(workersKillCmd)
}

func runWorkersList(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	descs, err := mailbox.New(config.MessengerDir(p.cwd)).Descriptors()
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if len(descs) == 0 {
		fmt.Println("No registered agents.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPID\tSTATE\tMODEL")
	for _, d := range descs {
		st := color.GreenString("alive")
		if !registry.PIDAlive(d.PID) {
			st = color.RedString("gone")
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Name, d.PID, st, d.Model)
	}
	return w.Flush()
}

func runWorkersKill(cmd *cobra.Command, args []string) error {
	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	mb := mailbox.New(config.MessengerDir(p.cwd))
	d, ok := mb.FindByName(args[0])
	if !ok {
		if pid, convErr := strconv.Atoi(args[0]); convErr == nil {
			d, ok = mb.FindByPID(pid)
		}
	}
	if !ok {
		return fmt.Errorf("no registered agent %q", args[0])
	}

	proc, err := registry.WatchPID(d.PID, 100*time.Millisecond)
	if err != nil {
		printStatus("⚠", fmt.Sprintf("%s (pid %d) is not running", d.Name, d.PID), color.FgYellow)
		return mb.RemoveDescriptor(d.Name)
	}
	defer proc.Release()

	reg := registry.New()
	reg.Register(registry.Handle{Kind: registry.KindTask, Cwd: p.cwd, TaskID: d.Name, Name: d.Name, Process: proc})
	reg.KillByTask(p.cwd, d.Name)
	p.logger.Info("killing agent", "name", d.Name, "pid", d.PID)

	select {
	case <-proc.Done():
		printStatus("✓", fmt.Sprintf("%s (pid %d) stopped", d.Name, d.PID), color.FgGreen)
	case <-time.After(registry.KillGrace + 2*time.Second):
		return fmt.Errorf("%s (pid %d) did not exit", d.Name, d.PID)
	}
	return mb.RemoveDescriptor(d.Name)
}
