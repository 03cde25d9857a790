package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <subject>",
	Short: "Show how a subject is connected",
	Long: `Show the subject's connection mode, last sync outcome and token state.
An unlinked subject prints linked=false rather than failing.`,
	Example: `  igmetrics status 42`,
	Args:    cobra.ExactArgs(1),
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

		status, err := a.svc.ConnectionStatus(ctx, subjectID)
		if err != nil {
			return fmt.Errorf("reading status for subject %d: %w", subjectID, err)
		}
		return printJSON(status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
