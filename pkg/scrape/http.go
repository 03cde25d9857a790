package scrape

import (
	"context"

	"igmetrics/pkg/instagram"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
)

// HTTPBackend fetches the web profile JSON document directly, without a
// browser. Faster and cheaper than rendering, but the endpoint demands
// convincing browser-like headers and fails more often.
type HTTPBackend struct {
	client   *instagram.Client
	maxPosts int
	logger   logger.Logger
}

// NewHTTPBackend creates a direct-HTTP backend over the shared client.
func NewHTTPBackend(client *instagram.Client, maxPosts int, log logger.Logger) *HTTPBackend {
	if log == nil {
		log = logger.GetLogger()
	}
	return &HTTPBackend{
		client:   client,
		maxPosts: maxPosts,
		logger:   log,
	}
}

func (b *HTTPBackend) Name() string { return BackendHTTP }

func (b *HTTPBackend) Fetch(ctx context.Context, username string) (*models.ProfileData, error) {
	resp, err := b.client.FetchWebProfile(ctx, username)
	if err != nil {
		return nil, err
	}

	if resp.Data.User.Username == "" {
		return nil, parseErr("profile document has no user for %q", username)
	}

	return BuildProfileData(&resp.Data.User, BackendHTTP, b.maxPosts), nil
}
