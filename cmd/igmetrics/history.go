package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"igmetrics/pkg/models"
)

var (
	historyDays   int
	historyLimit  int
	historyGrowth bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history <subject>",
	Short: "Show snapshot history for a subject",
	Long: `Print the subject's snapshot history, newest first. With --growth the
output is a follower-growth series instead, oldest first with per-point
deltas.`,
	Example: `  # Last 30 days of snapshots
  igmetrics history 42 --days 30

  # Follower growth series
  igmetrics history 42 --growth`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := parseSubjectArg(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{skipBrowser: true})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if historyGrowth {
			points, err := a.svc.Growth(ctx, subjectID, historyLimit)
			if err != nil {
				return fmt.Errorf("reading growth for subject %d: %w", subjectID, err)
			}
			return printJSON(points)
		}

		snapshots, err := a.svc.History(ctx, subjectID, historyLimit)
		if err != nil {
			return fmt.Errorf("reading history for subject %d: %w", subjectID, err)
		}

		if historyDays > 0 {
			cutoff := time.Now().UTC().AddDate(0, 0, -historyDays)
			filtered := make([]models.Snapshot, 0, len(snapshots))
			for _, snap := range snapshots {
				if snap.CapturedAt.After(cutoff) {
					filtered = append(filtered, snap)
				}
			}
			snapshots = filtered
		}
		return printJSON(snapshots)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVar(&historyDays, "days", 0, "only include snapshots captured in the last N days")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 100, "maximum number of snapshots to read")
	historyCmd.Flags().BoolVar(&historyGrowth, "growth", false, "print a follower-growth series")
}
