package scrape

import (
	"context"
	"fmt"
	"time"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
	"igmetrics/pkg/retry"
)

// Options control a single orchestrated scrape.
type Options struct {
	// SkipBrowser drops the browser backend from the attempt order.
	SkipBrowser bool
	// MaxAttempts overrides the per-backend attempt budget when positive.
	MaxAttempts int
}

// Orchestrator runs the scraping backends in priority order. Each backend
// gets its own retry budget with exponential backoff; the first success
// short-circuits the rest. When every backend is exhausted the caller gets
// ErrAllBackendsFailed and nothing else: fabricating metrics is forbidden.
type Orchestrator struct {
	backends    []Backend
	maxAttempts int
	backoffBase time.Duration
	logger      logger.Logger
}

// NewOrchestrator creates an orchestrator over the given backends, tried
// in slice order.
func NewOrchestrator(backends []Backend, maxAttempts int, backoffBase time.Duration, log logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.GetLogger()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &Orchestrator{
		backends:    backends,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      log,
	}
}

// Scrape fetches profile data for the username, trying backends in order.
func (o *Orchestrator) Scrape(ctx context.Context, username string, opts Options) (*models.ProfileData, error) {
	maxAttempts := o.maxAttempts
	if opts.MaxAttempts > 0 {
		maxAttempts = opts.MaxAttempts
	}

	var lastErr error
	attempted := 0

	for _, backend := range o.backends {
		if opts.SkipBrowser && backend.Name() == BackendBrowser {
			continue
		}
		attempted++

		data, err := o.tryBackend(ctx, backend, username, maxAttempts)
		if err == nil {
			logger.LogScrape(username, backend.Name(), true, nil)
			return data, nil
		}

		lastErr = err
		logger.LogScrape(username, backend.Name(), false, err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if attempted == 0 {
		return nil, fmt.Errorf("no backends available: %w", errs.ErrAllBackendsFailed)
	}

	o.logger.ErrorWithFields("all backends exhausted", map[string]interface{}{
		"username":   username,
		"backends":   attempted,
		"last_error": lastErr.Error(),
	})

	return nil, fmt.Errorf("%w: last error: %v", errs.ErrAllBackendsFailed, lastErr)
}

// tryBackend runs one backend with its own retry budget. Non-retryable
// errors (auth, not found, parsing) fail the backend immediately.
func (o *Orchestrator) tryBackend(ctx context.Context, backend Backend, username string, maxAttempts int) (*models.ProfileData, error) {
	var data *models.ProfileData

	cfg := &retry.Config{
		MaxAttempts: maxAttempts,
		Backoff: &retry.ExponentialBackoff{
			BaseDelay:  o.backoffBase,
			MaxDelay:   time.Minute,
			Multiplier: 2.0,
		},
		RetryIf: retry.DefaultRetryIf,
		Context: ctx,
		Logger:  o.logger,
	}

	err := retry.Do(func() error {
		fetched, err := backend.Fetch(ctx, username)
		if err != nil {
			return err
		}
		data = fetched
		return nil
	}, cfg)

	if err != nil {
		return nil, err
	}
	return data, nil
}
