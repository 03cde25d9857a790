package scrape

import (
	"context"

	"igmetrics/pkg/models"
)

// Backend names, also recorded as the acquisition method on snapshots.
const (
	BackendBrowser = "browser"
	BackendHTTP    = "http"
	BackendMeta    = "meta"
)

// Backend is one concrete strategy for extracting public profile data for
// a username. Backends are tried in priority order by the orchestrator and
// each must either return real data or an error, never a placeholder.
type Backend interface {
	Name() string
	Fetch(ctx context.Context, username string) (*models.ProfileData, error)
}
