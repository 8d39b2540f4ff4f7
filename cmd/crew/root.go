package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/config"
	"github.com/nicobailon/pi-messenger-sub001/internal/logging"
)

var projectDir string

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Run and supervise pi worker subprocesses",
	Long: `crew runs batches of agent tasks as pi subprocesses with a bounded
concurrency limit, tracks planning runs, and keeps a history of results.

Workers are asked to stop through their messenger inbox before being
terminated, so an interrupted run still gets a chance to save its work.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "cwd", "C", "", "Project directory (default: current directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(lobbyCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(artifactsCmd)
	rootCmd.AddCommand(versionCmd)
}

// project is the per-invocation environment shared by commands.
type project struct {
	cwd    string
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func (p *project) Close() error {
	return p.closer.Close()
}

// openProject resolves the project directory, loads config and opens the
// project log.
func openProject() (*project, error) {
	cwd := projectDir
	if cwd == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		cwd = wd
	}
	cwd, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolve project directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	for _, w := range cfg.Warnings {
		printStatus("⚠", w, color.FgYellow)
	}

	logger, closer := logging.ForProject(cwd, cfg.Logging.Level)
	return &project{cwd: cwd, cfg: cfg, logger: logger, closer: closer}, nil
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
