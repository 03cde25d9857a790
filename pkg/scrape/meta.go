package scrape

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"igmetrics/pkg/instagram"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
)

// MetaBackend is the last-resort strategy: fetch the raw profile page and
// read follower counts out of its meta tags. It yields no posts and no
// engagement figures, but meta tags survive most markup changes.
type MetaBackend struct {
	client *instagram.Client
	logger logger.Logger
}

// NewMetaBackend creates a meta-tags-only backend over the shared client.
func NewMetaBackend(client *instagram.Client, log logger.Logger) *MetaBackend {
	if log == nil {
		log = logger.GetLogger()
	}
	return &MetaBackend{
		client: client,
		logger: log,
	}
}

func (b *MetaBackend) Name() string { return BackendMeta }

func (b *MetaBackend) Fetch(ctx context.Context, username string) (*models.ProfileData, error) {
	html, err := b.client.FetchProfilePage(ctx, username)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, parseErr("profile page is not parseable HTML: %v", err)
	}

	return extractMetaTags(doc, username)
}
