package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nicobailon/pi-messenger-sub001/internal/feed"
)

var feedCount int

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show recent crew activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openProject()
		if err != nil {
			return err
		}
		defer p.Close()

		events, err := feed.New(feed.Path(p.cwd), p.logger).Tail(feedCount)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("No activity yet.")
			return nil
		}
		for _, ev := range events {
			who := ev.Name
			if who == "" {
				who = ev.Agent
			}
			if ev.TaskID != "" {
				who += " [" + ev.TaskID + "]"
			}
			fmt.Printf("%s  %s  %s  %s\n",
				color.HiBlackString(ev.Time.Local().Format(time.DateTime)), eventColor(ev.Type), who, ev.Text)
		}
		return nil
	},
}

func init() {
	feedCmd.Flags().IntVarP(&feedCount, "count", "n", 20, "Number of events to show")
}

func eventColor(t string) string {
	switch t {
	case feed.TaskCompleted, feed.PlanningFinished:
		return color.GreenString(t)
	case feed.TaskFailed, feed.PlanningCanceled:
		return color.RedString(t)
	default:
		return color.CyanString(t)
	}
}
