package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var keepOAuth bool

// linkCmd represents the link command
var linkCmd = &cobra.Command{
	Use:   "link <subject> <username>",
	Short: "Link a subject to an Instagram username",
	Long: `Link a subject to an Instagram username in scraping mode and run an
initial fetch. An existing OAuth link is never downgraded; relinking
the same pair just updates the username.`,
	Example: `  igmetrics link 42 zuck`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		subjectID, err := parseSubjectArg(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		account, err := a.svc.LinkByUsername(ctx, subjectID, args[1])
		if err != nil {
			return fmt.Errorf("linking subject %d: %w", subjectID, err)
		}
		return printJSON(account)
	},
}

// unlinkCmd represents the unlink command
var unlinkCmd = &cobra.Command{
	Use:   "unlink <subject>",
	Short: "Unlink a subject's Instagram account",
	Long: `Deactivate the subject's linked account. The row and its snapshot
history are kept, so relinking later resumes where it left off.
Stored OAuth tokens are deactivated too unless --keep-oauth is set.`,
	Example: `  igmetrics unlink 42
  igmetrics unlink 42 --keep-oauth`,
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

		if err := a.svc.Unlink(ctx, subjectID, keepOAuth); err != nil {
			return fmt.Errorf("unlinking subject %d: %w", subjectID, err)
		}
		return printJSON(map[string]interface{}{
			"subject_id": subjectID,
			"unlinked":   true,
		})
	},
}

func init() {
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)

	unlinkCmd.Flags().BoolVar(&keepOAuth, "keep-oauth", false, "keep stored OAuth tokens active")
}
