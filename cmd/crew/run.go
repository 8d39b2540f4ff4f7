package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/nicobailon/pi-messenger-sub001/internal/agents"
	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/crew"
	"github.com/nicobailon/pi-messenger-sub001/internal/feed"
	"github.com/nicobailon/pi-messenger-sub001/internal/state"
	"github.com/nicobailon/pi-messenger-sub001/internal/tui"
	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

var (
	runFile        string
	runConcurrency int
	runTaskID      string
	runTUI         bool
	runJSON        bool
)

var runCmd = &cobra.Command{
	Use:   "run [agent] [task...]",
	Short: "Run agent tasks as worker subprocesses",
	Long: `Run one task given on the command line, or a batch read from a YAML file.

A task file is either a list of tasks or a mapping with an optional
concurrency and a tasks list:

  concurrency: 3
  tasks:
    - agent: crew-worker
      task_id: task-12
      task: Add retry to the upload client.
    - agent: crew-reviewer
      task: Review the upload client changes.

Interrupting the run (Ctrl+C) asks every running worker to shut down.
Sending SIGHUP re-reads crew.concurrency from config and applies it to the
next free slot.

Examples:
  crew run crew-worker "Fix the flaky cache test"
  crew run -f tasks.yaml -c 4
  crew run -f tasks.yaml --tui`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "YAML file with tasks")
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "Maximum concurrent workers (default: crew.concurrency)")
	runCmd.Flags().StringVar(&runTaskID, "task-id", "", "Task graph id for a command-line task")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live worker view")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print results as JSON")
}

// taskFile is the mapping form of a task file.
type taskFile struct {
	Concurrency int                `yaml:"concurrency"`
	Tasks       []models.AgentTask `yaml:"tasks"`
}

// parseTaskFile accepts either a task list or a taskFile mapping.
func parseTaskFile(data []byte) (taskFile, error) {
	var tf taskFile
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return tf, fmt.Errorf("parse task file: %w", err)
	}
	if len(node.Content) == 0 {
		return tf, errors.New("task file is empty")
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&tf.Tasks); err != nil {
			return tf, fmt.Errorf("decode tasks: %w", err)
		}
	case yaml.MappingNode:
		if err := root.Decode(&tf); err != nil {
			return tf, fmt.Errorf("decode task file: %w", err)
		}
	default:
		return tf, errors.New("task file must be a list or a mapping with tasks")
	}

	for i, t := range tf.Tasks {
		if strings.TrimSpace(t.Agent) == "" || strings.TrimSpace(t.Task) == "" {
			return tf, fmt.Errorf("task %d: agent and task are required", i+1)
		}
	}
	return tf, nil
}

func collectTasks(args []string) (taskFile, error) {
	if runFile != "" {
		if len(args) > 0 {
			return taskFile{}, errors.New("give either --file or an agent and task, not both")
		}
		data, err := os.ReadFile(runFile)
		if err != nil {
			return taskFile{}, fmt.Errorf("read task file: %w", err)
		}
		return parseTaskFile(data)
	}
	if len(args) < 2 {
		return taskFile{}, errors.New("need an agent and a task, or --file")
	}
	return taskFile{Tasks: []models.AgentTask{{
		Agent:  args[0],
		Task:   strings.Join(args[1:], " "),
		TaskID: runTaskID,
	}}}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	tf, err := collectTasks(args)
	if err != nil {
		return err
	}
	if len(tf.Tasks) == 0 {
		return errors.New("no tasks to run")
	}

	p, err := openProject()
	if err != nil {
		return err
	}
	defer p.Close()

	limit := p.cfg.Crew.Concurrency
	if tf.Concurrency > 0 {
		limit = tf.Concurrency
	}
	if runConcurrency > 0 {
		limit = runConcurrency
	}
	conc := crew.NewConcurrency(limit)

	catalog, err := agents.Discover(agents.DefaultDirs(p.cwd, p.cfg.Crew.AgentDirs...)...)
	if err != nil {
		return fmt.Errorf("discover agents: %w", err)
	}
	for _, path := range catalog.Skipped {
		printStatus("⚠", "skipped unreadable agent "+path, color.FgYellow)
	}

	var ledger crew.Ledger
	db, err := state.OpenProject(p.cwd)
	if err != nil {
		p.logger.Warn("run history unavailable", "error", err)
	} else {
		defer db.Close()
		if _, err := db.MarkInterrupted(nil); err != nil {
			p.logger.Warn("interrupted run check failed", "error", err)
		}
		ledger = db
	}

	runID := crew.NewRunID()
	runner := crew.NewRunner(crew.RunnerConfig{
		Cwd:    p.cwd,
		RunID:  runID,
		Config: p.cfg,
		Agents: catalog,
		Logger: p.logger,
	})
	pool := crew.NewPool(crew.PoolConfig{
		Runner:      runner,
		Concurrency: conc,
		RunID:       runID,
		Cwd:         p.cwd,
		Ledger:      ledger,
		Feed:        feed.New(feed.Path(p.cwd), p.logger),
		Logger:      p.logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go reloadOnHangup(ctx, p, conc)

	var results []models.AgentResult
	if runTUI {
		results = runWithTUI(ctx, stop, p, runner, pool, tf.Tasks)
	} else {
		if !runJSON {
			fmt.Printf("Running %d task(s), run %s, concurrency %d\n\n", len(tf.Tasks), runID, conc.Limit())
		}
		results = pool.Run(ctx, tf.Tasks)
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		printResults(results)
	}

	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d task(s) failed", failed, len(results))
	}
	return nil
}

func runWithTUI(ctx context.Context, cancel func(), p *project, runner *crew.Runner, pool *crew.Pool, tasks []models.AgentTask) []models.AgentResult {
	program, _ := tui.NewLiveProgram(p.cwd, runner.Broadcast(), cancel)
	done := make(chan []models.AgentResult, 1)
	go func() {
		results := pool.Run(ctx, tasks)
		done <- results
		program.Send(tui.DoneMsg{Results: results})
	}()
	if _, err := program.Run(); err != nil {
		p.logger.Warn("live view failed", "error", err)
		cancel()
	}
	return <-done
}

// reloadOnHangup applies crew.concurrency from a fresh config load on SIGHUP.
func reloadOnHangup(ctx context.Context, p *project, conc *crew.Concurrency) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(p.cwd)
			if err != nil {
				p.logger.Warn("config reload failed", "error", err)
				continue
			}
			conc.Set(cfg.Crew.Concurrency)
			p.logger.Info("concurrency reloaded", "limit", cfg.Crew.Concurrency)
		}
	}
}

func printResults(results []models.AgentResult) {
	for _, r := range results {
		symbol, attr := "✓", color.FgGreen
		if !r.Succeeded() {
			symbol, attr = "✗", color.FgRed
		}
		label := r.Agent
		if r.Name != "" {
			label = r.Name + " (" + r.Agent + ")"
		}
		if r.TaskID != "" {
			label += " [" + r.TaskID + "]"
		}
		printStatus(symbol, fmt.Sprintf("%s exit %d in %s", label, r.ExitCode, r.Duration.Round(time.Millisecond)), attr)

		if r.Error != "" {
			fmt.Println(color.RedString(indent(r.Error)))
		}
		if out := strings.TrimSpace(r.Output); out != "" {
			fmt.Println(indent(out))
		}
		if r.Truncated {
			fmt.Println(color.YellowString("    (output truncated)"))
		}
		if r.Artifacts != nil && r.Artifacts.Output != "" {
			fmt.Printf("    full output: %s\n", r.Artifacts.Output)
		}
		fmt.Println()
	}
}

func indent(s string) string {
	return "    " + strings.ReplaceAll(s, "\n", "\n    ")
}
