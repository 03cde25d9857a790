package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"igmetrics/internal/queue"
	"igmetrics/pkg/config"
	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/instagram"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
	"igmetrics/pkg/ratelimit"
	"igmetrics/pkg/scrape"
	"igmetrics/pkg/store"
	"igmetrics/pkg/token"
)

// Scraper runs the backend cascade for a username.
type Scraper interface {
	Scrape(ctx context.Context, username string, opts scrape.Options) (*models.ProfileData, error)
}

// GraphAPI fetches profile data through the official API with an access token.
type GraphAPI interface {
	FetchProfileData(ctx context.Context, accessToken string, maxPosts int) (*models.ProfileData, error)
}

// Enqueuer schedules background refresh jobs.
type Enqueuer interface {
	Enqueue(subjectID, username string, opts queue.Options) (string, error)
	Stats() queue.Stats
}

// Options control a single GetData call.
type Options struct {
	// ForceRefresh invalidates the cached snapshot before fetching.
	ForceRefresh bool
	// SkipBrowser excludes the browser backend from the cascade.
	SkipBrowser bool
}

// Stats aggregates cache and queue counters for inspection.
type Stats struct {
	CacheHits   int64       `json:"cache_hits"`
	CacheMisses int64       `json:"cache_misses"`
	Queue       queue.Stats `json:"queue"`
}

type flight struct {
	done chan struct{}
	res  *models.Result
	err  error
}

// Service routes data requests between the OAuth path and the scraping
// path, caching results and falling back so that callers always get
// either real captured data or an error, never fabricated numbers.
type Service struct {
	cfg     *config.Config
	store   *store.Store
	cache   *store.Cache
	graph   GraphAPI
	scraper Scraper
	cipher  *token.Cipher
	limiter ratelimit.KeyedLimiter
	log     logger.Logger

	queue Enqueuer

	mu       sync.Mutex
	inflight map[int64]*flight

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64

	now func() time.Time
}

// New builds a Service. The queue is attached separately because it is
// constructed with the service as its fetcher and sink.
func New(cfg *config.Config, st *store.Store, cache *store.Cache, graph GraphAPI, scraper Scraper, cipher *token.Cipher, limiter ratelimit.KeyedLimiter, log logger.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		cache:    cache,
		graph:    graph,
		scraper:  scraper,
		cipher:   cipher,
		limiter:  limiter,
		log:      log,
		inflight: make(map[int64]*flight),
		now:      time.Now,
	}
}

// AttachQueue wires the background refresh queue. Without one, cache
// hits are still served but no background refreshes are scheduled and
// GetDataQueued degrades to a synchronous fetch.
func (s *Service) AttachQueue(q Enqueuer) {
	s.queue = q
}

// GetData returns profile data for the subject: cached when fresh,
// fetched via OAuth or scraping otherwise. A stale snapshot is served
// as a last resort when every fetch path fails.
func (s *Service) GetData(ctx context.Context, subjectID int64, opts Options) (*models.Result, error) {
	account, err := s.store.Account(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return nil, err
	}

	if opts.ForceRefresh {
		if err := s.cache.Invalidate(ctx, subjectID, models.PlatformInstagram); err != nil {
			return nil, fmt.Errorf("invalidating cache: %w", err)
		}
	}

	snap, err := s.cache.Get(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		s.cacheHits.Add(1)
		s.maybeScheduleRefresh(subjectID, account.Username, snap)
		return resultFromSnapshot(snap, false), nil
	}
	s.cacheMisses.Add(1)

	return s.fetchDeduped(ctx, subjectID, account, opts)
}

// GetDataQueued serves the cache when fresh and otherwise enqueues a
// high-priority refresh, returning ErrNoFreshData so the caller can
// poll. Without an attached queue it falls back to a synchronous fetch.
func (s *Service) GetDataQueued(ctx context.Context, subjectID int64) (*models.Result, error) {
	account, err := s.store.Account(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return nil, err
	}

	snap, err := s.cache.Get(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		s.cacheHits.Add(1)
		return resultFromSnapshot(snap, false), nil
	}
	s.cacheMisses.Add(1)

	if s.queue == nil {
		return s.fetchDeduped(ctx, subjectID, account, Options{})
	}

	jobID, err := s.queue.Enqueue(formatSubject(subjectID), account.Username, queue.Options{Priority: queue.PriorityHigh})
	if err != nil {
		return nil, err
	}
	s.log.DebugWithFields("Refresh queued for cold cache", map[string]interface{}{
		"subject_id": subjectID,
		"job_id":     jobID,
	})
	return nil, errs.ErrNoFreshData
}

// LinkByUsername links the subject to an Instagram username in scraping
// mode and performs an initial fetch. The link survives a failed fetch;
// the failure is recorded on the account's sync fields.
func (s *Service) LinkByUsername(ctx context.Context, subjectID int64, username string) (*models.LinkedAccount, error) {
	// Instagram usernames are case-insensitive; store them lowercased.
	username = strings.ToLower(instagram.SanitizeUsername(username))
	if !instagram.IsValidUsername(username) {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "invalid username %q", username)
	}

	account, err := s.store.Link(ctx, subjectID, models.PlatformInstagram, username, models.ModeScraping)
	if err != nil {
		return nil, err
	}

	if _, err := s.GetData(ctx, subjectID, Options{ForceRefresh: true}); err != nil {
		s.log.WarnWithFields("Initial fetch after link failed", map[string]interface{}{
			"subject_id": subjectID,
			"username":   username,
			"error":      err.Error(),
		})
	}

	return account, nil
}

// Unlink soft-deactivates the subject's account. Tokens are deactivated
// too unless keepOAuth is set, so a later relink can resume OAuth mode.
func (s *Service) Unlink(ctx context.Context, subjectID int64, keepOAuth bool) error {
	account, err := s.store.Account(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return err
	}

	if err := s.store.Deactivate(ctx, subjectID, models.PlatformInstagram); err != nil {
		return err
	}
	if !keepOAuth {
		if err := s.store.DeactivateTokens(ctx, subjectID, models.PlatformInstagram); err != nil {
			return err
		}
	}

	s.limiter.Reset(account.Username)
	return nil
}

// ConnectionStatus reports how the subject is linked. An unlinked
// subject yields Linked=false rather than an error.
func (s *Service) ConnectionStatus(ctx context.Context, subjectID int64) (*models.ConnectionStatus, error) {
	account, err := s.store.Account(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		if errors.Is(err, errs.ErrNotLinked) {
			return &models.ConnectionStatus{Linked: false}, nil
		}
		return nil, err
	}

	status := &models.ConnectionStatus{
		Linked:            true,
		Mode:              account.Mode,
		Username:          account.Username,
		LastSyncAt:        account.LastSyncAt,
		LastSyncStatus:    account.LastSyncStatus,
		LastError:         account.LastError,
		CanUpgradeToOAuth: account.Mode == models.ModeScraping,
	}

	tok, err := s.store.ActiveToken(ctx, subjectID, models.PlatformInstagram)
	if err == nil {
		status.TokenActive = !tok.Expired(s.now())
		expires := tok.ExpiresAt
		status.TokenExpiresAt = &expires
	} else if !errors.Is(err, errs.ErrNoActiveToken) {
		return nil, err
	}

	return status, nil
}

// History returns the newest snapshots for the subject, most recent first.
func (s *Service) History(ctx context.Context, subjectID int64, limit int) ([]models.Snapshot, error) {
	return s.store.History(ctx, subjectID, models.PlatformInstagram, limit)
}

// Growth derives a follower-growth series from history, oldest first,
// with per-point deltas against the preceding snapshot.
func (s *Service) Growth(ctx context.Context, subjectID int64, limit int) ([]models.GrowthPoint, error) {
	history, err := s.store.History(ctx, subjectID, models.PlatformInstagram, limit)
	if err != nil {
		return nil, err
	}

	points := make([]models.GrowthPoint, 0, len(history))
	// History arrives newest first; walk it backwards.
	for i := len(history) - 1; i >= 0; i-- {
		snap := history[i]
		point := models.GrowthPoint{
			CapturedAt:     snap.CapturedAt,
			Followers:      snap.Metrics.Followers,
			EngagementRate: snap.Metrics.EngagementRate,
		}
		if n := len(points); n > 0 {
			point.FollowerDelta = snap.Metrics.Followers - points[n-1].Followers
		}
		points = append(points, point)
	}
	return points, nil
}

// Stats reports cache hit counters and, when a queue is attached, its
// job counts.
func (s *Service) Stats() Stats {
	out := Stats{
		CacheHits:   s.cacheHits.Load(),
		CacheMisses: s.cacheMisses.Load(),
	}
	if s.queue != nil {
		out.Queue = s.queue.Stats()
	}
	return out
}

// Fetch implements queue.Fetcher: rate-limit then scrape. OAuth is not
// consulted here because queued jobs exist to refresh scraped data.
func (s *Service) Fetch(ctx context.Context, job queue.Job) (*models.ProfileData, error) {
	subjectID, err := parseSubject(job.SubjectID)
	if err != nil {
		return nil, err
	}

	data, err := s.scrapeOnce(ctx, job.Username, Options{SkipBrowser: job.SkipBrowser})
	if err != nil {
		if markErr := s.store.MarkSync(ctx, subjectID, models.PlatformInstagram, models.SyncStatusError, err.Error()); markErr != nil {
			s.log.WarnWithFields("Failed to record sync error", map[string]interface{}{
				"subject_id": subjectID,
				"error":      markErr.Error(),
			})
		}
		return nil, err
	}
	return data, nil
}

// Persist implements queue.Sink: store a fetched payload as the current
// snapshot plus a history row.
func (s *Service) Persist(ctx context.Context, subjectID string, data *models.ProfileData) error {
	id, err := parseSubject(subjectID)
	if err != nil {
		return err
	}
	_, err = s.persist(ctx, id, data)
	return err
}

func (s *Service) fetchDeduped(ctx context.Context, subjectID int64, account *models.LinkedAccount, opts Options) (*models.Result, error) {
	s.mu.Lock()
	if f, ok := s.inflight[subjectID]; ok {
		s.mu.Unlock()
		select {
		case <-f.done:
			return f.res, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight[subjectID] = f
	s.mu.Unlock()

	f.res, f.err = s.fetch(ctx, subjectID, account, opts)

	s.mu.Lock()
	delete(s.inflight, subjectID)
	s.mu.Unlock()
	close(f.done)

	return f.res, f.err
}

// fetch runs the OAuth path when available, falling back to scraping on
// any OAuth failure. A total failure serves a stale snapshot if one
// exists and propagates the error otherwise.
func (s *Service) fetch(ctx context.Context, subjectID int64, account *models.LinkedAccount, opts Options) (*models.Result, error) {
	if account.Mode == models.ModeOAuth {
		if data, err := s.fetchOAuth(ctx, subjectID); err == nil {
			snap, perr := s.persist(ctx, subjectID, data)
			if perr != nil {
				return nil, perr
			}
			return resultFromSnapshot(snap, false), nil
		} else {
			s.log.WarnWithFields("OAuth fetch failed, falling back to scraping", map[string]interface{}{
				"subject_id": subjectID,
				"error":      err.Error(),
			})
		}
	}

	data, err := s.scrapeOnce(ctx, account.Username, opts)
	if err != nil {
		if markErr := s.store.MarkSync(ctx, subjectID, models.PlatformInstagram, models.SyncStatusError, err.Error()); markErr != nil {
			s.log.WarnWithFields("Failed to record sync error", map[string]interface{}{
				"subject_id": subjectID,
				"error":      markErr.Error(),
			})
		}

		stale, staleErr := s.cache.Stale(ctx, subjectID, models.PlatformInstagram)
		if staleErr == nil && stale != nil {
			s.log.InfoWithFields("Serving stale snapshot after failed refresh", map[string]interface{}{
				"subject_id": subjectID,
				"age_hours":  stale.Age(s.now()).Hours(),
			})
			return resultFromSnapshot(stale, true), nil
		}
		return nil, err
	}

	snap, err := s.persist(ctx, subjectID, data)
	if err != nil {
		return nil, err
	}
	return resultFromSnapshot(snap, false), nil
}

// fetchOAuth loads and decrypts the active token and calls the Graph
// API. Expired tokens fail fast without a network call.
func (s *Service) fetchOAuth(ctx context.Context, subjectID int64) (*models.ProfileData, error) {
	if s.graph == nil || s.cipher == nil {
		return nil, errs.ErrNoActiveToken
	}

	tok, err := s.store.ActiveToken(ctx, subjectID, models.PlatformInstagram)
	if err != nil {
		return nil, err
	}
	if tok.Expired(s.now()) {
		return nil, errs.ErrTokenExpired
	}

	accessToken, err := s.cipher.DecryptString(tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}

	return s.graph.FetchProfileData(ctx, accessToken, s.cfg.Scrape.MaxPosts)
}

func (s *Service) scrapeOnce(ctx context.Context, username string, opts Options) (*models.ProfileData, error) {
	if err := s.limiter.Acquire(ctx, username); err != nil {
		return nil, err
	}
	return s.scraper.Scrape(ctx, username, scrape.Options{SkipBrowser: opts.SkipBrowser})
}

// persist records a capture as the current snapshot and a history row,
// then marks the sync successful.
func (s *Service) persist(ctx context.Context, subjectID int64, data *models.ProfileData) (*models.Snapshot, error) {
	snap := snapshotFrom(subjectID, data)

	if err := s.cache.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("storing current snapshot: %w", err)
	}
	if _, err := s.store.AppendHistory(ctx, snap); err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	if err := s.store.MarkSync(ctx, subjectID, models.PlatformInstagram, models.SyncStatusSuccess, ""); err != nil {
		s.log.WarnWithFields("Failed to record sync success", map[string]interface{}{
			"subject_id": subjectID,
			"error":      err.Error(),
		})
	}
	if days := s.cfg.Store.RetentionDays; days > 0 {
		cutoff := s.now().UTC().AddDate(0, 0, -days)
		if _, err := s.store.PruneHistory(ctx, subjectID, models.PlatformInstagram, cutoff); err != nil {
			s.log.WarnWithFields("Failed to prune snapshot history", map[string]interface{}{
				"subject_id": subjectID,
				"error":      err.Error(),
			})
		}
	}
	return snap, nil
}

// maybeScheduleRefresh enqueues a low-priority refresh when a served
// cache hit is older than the refresh threshold.
func (s *Service) maybeScheduleRefresh(subjectID int64, username string, snap *models.Snapshot) {
	if s.queue == nil {
		return
	}
	if snap.Age(s.now()) <= s.cfg.Scrape.RefreshAfter {
		return
	}

	jobID, err := s.queue.Enqueue(formatSubject(subjectID), username, queue.Options{Priority: queue.PriorityLow})
	if err != nil {
		s.log.WarnWithFields("Failed to schedule background refresh", map[string]interface{}{
			"subject_id": subjectID,
			"error":      err.Error(),
		})
		return
	}
	s.log.DebugWithFields("Background refresh scheduled", map[string]interface{}{
		"subject_id": subjectID,
		"job_id":     jobID,
	})
}

func resultFromSnapshot(snap *models.Snapshot, stale bool) *models.Result {
	method := models.ModeScraping
	if snap.Method == models.ModeOAuth {
		method = models.ModeOAuth
	}
	return &models.Result{
		ConnectionMethod: method,
		HasPhotos:        len(snap.RecentPosts) > 0,
		Stale:            stale,
		Profile:          snap.Profile,
		Metrics:          snap.Metrics,
		RecentPosts:      snap.RecentPosts,
		TopPost:          snap.TopPost,
		LastUpdated:      snap.CapturedAt,
	}
}

func snapshotFrom(subjectID int64, data *models.ProfileData) *models.Snapshot {
	return &models.Snapshot{
		SubjectID:   subjectID,
		Platform:    models.PlatformInstagram,
		Method:      data.Method,
		Profile:     data.Profile,
		Metrics:     data.Metrics,
		RecentPosts: data.RecentPosts,
		TopPost:     data.TopPost,
		CapturedAt:  data.CapturedAt,
	}
}

func formatSubject(id int64) string {
	return strconv.FormatInt(id, 10)
}

func parseSubject(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject id %q: %w", s, err)
	}
	return id, nil
}
