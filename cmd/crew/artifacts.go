package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/crew"
)

var artifactsOlderThan string

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Manage debug artifacts written by runs",
}

var artifactsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete artifacts older than a cutoff",
	Long: `Delete files in the artifacts directory whose modification time is
older than --older-than. Durations accept Go syntax (36h) or days (7d).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		age, err := parseAge(artifactsOlderThan)
		if err != nil {
			return err
		}
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.Close()

		dir := p.cfg.Crew.ArtifactsDir(p.cwd)
		n, err := crew.CleanArtifacts(dir, time.Now().Add(-age))
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("removed %d artifact file(s) from %s", n, dir), color.FgGreen)
		return nil
	},
}

func init() {
	artifactsCleanCmd.Flags().StringVar(&artifactsOlderThan, "older-than", "7d", "Minimum age of files to delete")
	artifactsCmd.AddCommand(artifactsCleanCmd)
}

// parseAge accepts time.ParseDuration syntax plus a whole-day "Nd" form.
func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}
