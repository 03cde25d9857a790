package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/service"
)

var (
	forceRefresh bool
	queued       bool
	skipBrowser  bool
	fetchTimeout time.Duration
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch <subject>",
	Short: "Fetch current profile metrics for a linked subject",
	Long: `Fetch profile metrics for a subject.

Fresh cached data is served without any outbound request. On a cache
miss the data is acquired through OAuth when an active token exists,
falling back to the scraping backends otherwise.`,
	Example: `  # Serve cached data or fetch synchronously
  igmetrics fetch 42

  # Bypass the cache
  igmetrics fetch 42 --force-refresh

  # Enqueue a background refresh on a cache miss and wait for it
  igmetrics fetch 42 --queued

  # Leave the browser backend out of the cascade
  igmetrics fetch 42 --skip-browser`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().BoolVar(&forceRefresh, "force-refresh", false, "invalidate the cached snapshot before fetching")
	fetchCmd.Flags().BoolVar(&queued, "queued", false, "refresh through the background queue on a cache miss")
	fetchCmd.Flags().BoolVar(&skipBrowser, "skip-browser", false, "exclude the browser backend")
	fetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 2*time.Minute, "overall fetch timeout")
}

func runFetch(cmd *cobra.Command, args []string) error {
	subjectID, err := parseSubjectArg(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(appOptions{skipBrowser: skipBrowser, startQueue: queued})
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	if queued {
		return fetchQueued(ctx, a, subjectID)
	}

	result, err := a.svc.GetData(ctx, subjectID, service.Options{
		ForceRefresh: forceRefresh,
		SkipBrowser:  skipBrowser,
	})
	if err != nil {
		return fmt.Errorf("fetching data for subject %d: %w", subjectID, err)
	}
	return printJSON(result)
}

// fetchQueued polls until the queued refresh lands in the cache.
func fetchQueued(ctx context.Context, a *app, subjectID int64) error {
	for {
		result, err := a.svc.GetDataQueued(ctx, subjectID)
		if err == nil {
			return printJSON(result)
		}
		if !errors.Is(err, errs.ErrNoFreshData) {
			return fmt.Errorf("fetching data for subject %d: %w", subjectID, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for queued refresh of subject %d", subjectID)
		case <-time.After(500 * time.Millisecond):
		}
	}
}
