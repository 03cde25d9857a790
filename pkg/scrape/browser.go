package scrape

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/playwright-community/playwright-go"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/instagram"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
)

// Renderer loads a URL in a real browser context and returns the settled
// page HTML. It exists so the browser backend can be tested against canned
// HTML without launching anything.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
	Close() error
}

// PlaywrightRenderer drives a headless Chromium via Playwright.
type PlaywrightRenderer struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	userAgents []string
	navTimeout time.Duration
	logger     logger.Logger
}

// NewPlaywrightRenderer launches a headless browser. The caller owns the
// returned renderer and must Close it.
func NewPlaywrightRenderer(navTimeout time.Duration, log logger.Logger) (*PlaywrightRenderer, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not launch playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}

	return &PlaywrightRenderer{
		pw:         pw,
		browser:    browser,
		userAgents: randomizedAgents(),
		navTimeout: navTimeout,
		logger:     log,
	}, nil
}

// randomizedAgents returns a shuffled copy of the default user agent pool
func randomizedAgents() []string {
	agents := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	}
	rand.Shuffle(len(agents), func(i, j int) {
		agents[i], agents[j] = agents[j], agents[i]
	})
	return agents
}

// Render navigates to the URL in a fresh browser context and returns the
// page content once the network goes idle.
func (r *PlaywrightRenderer) Render(ctx context.Context, url string) (string, error) {
	browserCtx, err := r.browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(r.userAgents[rand.Intn(len(r.userAgents))]),
		Viewport: &playwright.Size{
			Width:  1920,
			Height: 1080,
		},
		JavaScriptEnabled: playwright.Bool(true),
		BypassCSP:         playwright.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("could not create browser context: %w", err)
	}
	defer browserCtx.Close()

	page, err := browserCtx.NewPage()
	if err != nil {
		return "", fmt.Errorf("could not create page: %w", err)
	}

	// Hide the automation fingerprint before any page script runs
	page.AddInitScript(playwright.Script{
		Content: playwright.String(`
			Object.defineProperty(navigator, 'webdriver', {
				get: () => undefined,
			});
			Object.defineProperty(navigator, 'languages', {
				get: () => ['en-US', 'en'],
			});
			window.chrome = { runtime: {} };
		`),
	})

	deadline := r.navTimeout
	if ctxDeadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(ctxDeadline); remaining < deadline {
			deadline = remaining
		}
	}

	r.logger.DebugWithFields("rendering page", map[string]interface{}{
		"url":     url,
		"timeout": deadline,
	})

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(deadline.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return "", &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("navigation failed: %v", err),
			Code:    0,
		}
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("could not read page content: %w", err)
	}

	return content, nil
}

// Close shuts down the browser and the driver process.
func (r *PlaywrightRenderer) Close() error {
	if err := r.browser.Close(); err != nil {
		r.pw.Stop()
		return err
	}
	return r.pw.Stop()
}

// BrowserBackend extracts profile data from a fully rendered page. It is
// the strongest backend: pages rendered with JavaScript expose embedded
// state objects that plain HTTP responses increasingly omit.
type BrowserBackend struct {
	renderer Renderer
	baseURL  string
	maxPosts int
	logger   logger.Logger
}

// NewBrowserBackend creates a browser-automation backend over a renderer.
func NewBrowserBackend(renderer Renderer, baseURL string, maxPosts int, log logger.Logger) *BrowserBackend {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = instagram.BaseURL
	}
	return &BrowserBackend{
		renderer: renderer,
		baseURL:  baseURL,
		maxPosts: maxPosts,
		logger:   log,
	}
}

func (b *BrowserBackend) Name() string { return BackendBrowser }

// Fetch renders the profile page and tries the extraction paths in order
// of strength: embedded state object, newer embedded-data object, script
// tag scanning, then meta tags.
func (b *BrowserBackend) Fetch(ctx context.Context, username string) (*models.ProfileData, error) {
	html, err := b.renderer.Render(ctx, instagram.ProfilePageURL(b.baseURL, username))
	if err != nil {
		return nil, err
	}

	data, path, err := b.extract(html, username)
	if err != nil {
		return nil, err
	}

	b.logger.DebugWithFields("browser extraction succeeded", map[string]interface{}{
		"username": username,
		"path":     path,
	})

	data.Method = BackendBrowser
	return data, nil
}

func (b *BrowserBackend) extract(html, username string) (*models.ProfileData, string, error) {
	if user, err := extractSharedData(html); err == nil {
		return BuildProfileData(user, BackendBrowser, b.maxPosts), PathSharedData, nil
	}

	if user, err := extractAdditionalData(html); err == nil {
		return BuildProfileData(user, BackendBrowser, b.maxPosts), PathAdditionalData, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", parseErr("rendered page is not parseable HTML: %v", err)
	}

	if user, err := extractScriptJSON(doc); err == nil {
		return BuildProfileData(user, BackendBrowser, b.maxPosts), PathScriptScan, nil
	}

	data, err := extractMetaTags(doc, username)
	if err != nil {
		return nil, "", parseErr("all extraction paths failed for rendered page")
	}
	return data, PathMetaTags, nil
}
