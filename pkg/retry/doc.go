// Package retry runs operations with configurable retry behavior. It
// backs the scrape orchestrator's per-backend attempt loop but carries
// no scraping-specific logic of its own.
//
// The default predicate consults the error taxonomy in
// igmetrics/pkg/errors: network, rate limit, and server errors are
// retried, while auth, not found, and parsing errors fail fast.
// Context cancellation always stops the loop.
//
// Basic usage:
//
//	err := retry.Do(func() error {
//		return sendRequest(username)
//	}, nil)
//
//	// Custom configuration
//	cfg := &retry.Config{
//		MaxAttempts: 5,
//		Backoff: &retry.ExponentialBackoff{
//			BaseDelay:    2 * time.Second,
//			MaxDelay:     30 * time.Second,
//			Multiplier:   2.0,
//			JitterFactor: 0.1,
//		},
//		RetryIf: retry.DefaultRetryIf,
//		Logger:  logger.GetLogger(),
//	}
//	err := retry.Do(operation, cfg)
package retry
