package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"igmetrics/internal/queue"
	"igmetrics/pkg/config"
	"igmetrics/pkg/graph"
	"igmetrics/pkg/instagram"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/ratelimit"
	"igmetrics/pkg/scrape"
	"igmetrics/pkg/service"
	"igmetrics/pkg/store"
	"igmetrics/pkg/token"
)

// app holds the assembled pipeline for one command invocation.
type app struct {
	cfg      *config.Config
	log      logger.Logger
	store    *store.Store
	svc      *service.Service
	queue    *queue.Queue
	renderer scrape.Renderer
	cipher   *token.Cipher
}

// tokenCipher returns the configured cipher or a setup error when no
// token secret is set.
func (a *app) tokenCipher() (*token.Cipher, error) {
	if a.cipher == nil {
		return nil, fmt.Errorf("no token secret configured; set IGMETRICS_TOKEN_SECRET or token.secret in the config file")
	}
	return a.cipher, nil
}

type appOptions struct {
	// skipBrowser leaves the playwright backend out of the cascade.
	skipBrowser bool
	// startQueue launches background workers for queued refreshes.
	startQueue bool
}

func newApp(opts appOptions) (*app, error) {
	flags := make(map[string]interface{})
	if storePath != "" {
		flags["store"] = storePath
	}
	if logLevel != "info" {
		flags["log-level"] = logLevel
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Info("igmetrics starting")

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	cache := store.NewCache(st, cfg.Scrape.CacheTTL)

	client := instagram.NewClient(cfg.HTTP.Timeout, cfg.HTTP.RequestsPerMinute, log)
	if cfg.HTTP.UserAgent != "" {
		// A configured user agent pins the whole rotation pool.
		client.SetUserAgents([]string{cfg.HTTP.UserAgent})
	}

	a := &app{cfg: cfg, log: log, store: st}

	var backends []scrape.Backend
	if !opts.skipBrowser {
		renderer, err := scrape.NewPlaywrightRenderer(cfg.Scrape.BrowserNavTimeout, log)
		if err != nil {
			log.WarnWithFields("Browser backend unavailable, continuing without it", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			a.renderer = renderer
			backends = append(backends, scrape.NewBrowserBackend(renderer, instagram.BaseURL, cfg.Scrape.MaxPosts, log))
		}
	}
	backends = append(backends,
		scrape.NewHTTPBackend(client, cfg.Scrape.MaxPosts, log),
		scrape.NewMetaBackend(client, log),
	)

	orchestrator := scrape.NewOrchestrator(backends, cfg.Scrape.MaxAttempts, cfg.Scrape.BackoffBase, log)

	var cipher *token.Cipher
	if cfg.Token.Secret != "" {
		cipher, err = token.NewCipher(cfg.Token.Secret)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("initializing token cipher: %w", err)
		}
	}
	a.cipher = cipher

	graphClient := graph.NewClient(cfg.Graph.AppID, cfg.Graph.AppSecret, cfg.Graph.RedirectURI, cfg.Graph.BaseURL, cfg.Graph.Timeout, log)
	limiter := ratelimit.NewMinInterval(cfg.Scrape.MinInterval)

	a.svc = service.New(cfg, st, cache, graphClient, orchestrator, cipher, limiter, log)

	// Only a running queue is attached. One-shot commands leave it nil so
	// the router fetches synchronously instead of scheduling work that no
	// worker would ever pick up.
	if opts.startQueue {
		a.queue = queue.New(queue.Config{
			Workers:       cfg.Queue.Workers,
			MaxAttempts:   cfg.Queue.MaxAttempts,
			BackoffBase:   cfg.Queue.BackoffBase,
			KeepCompleted: cfg.Queue.KeepCompleted,
			KeepFailed:    cfg.Queue.KeepFailed,
		}, a.svc, a.svc, log)
		a.svc.AttachQueue(a.queue)
		a.queue.Start()
	}

	return a, nil
}

func (a *app) close() {
	if a.queue != nil {
		a.queue.Stop()
	}
	if a.renderer != nil {
		if err := a.renderer.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close browser renderer")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.WithError(err).Warn("Failed to close store")
		}
	}
}

func parseSubjectArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("subject must be a numeric id, got %q", arg)
	}
	return id, nil
}

// printJSON writes the value to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
