package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igmetrics/internal/queue"
	"igmetrics/pkg/config"
	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
	"igmetrics/pkg/ratelimit"
	"igmetrics/pkg/scrape"
	"igmetrics/pkg/store"
	"igmetrics/pkg/token"
)

type fakeScraper struct {
	mu    sync.Mutex
	calls int
	data  *models.ProfileData
	err   error
}

func (f *fakeScraper) Scrape(_ context.Context, username string, _ scrape.Options) (*models.ProfileData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	data := *f.data
	data.Username = username
	data.CapturedAt = time.Now().UTC()
	return &data, nil
}

func (f *fakeScraper) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGraph struct {
	mu        sync.Mutex
	calls     int
	lastToken string
	data      *models.ProfileData
	err       error
}

func (f *fakeGraph) FetchProfileData(_ context.Context, accessToken string, _ int) (*models.ProfileData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastToken = accessToken
	if f.err != nil {
		return nil, f.err
	}
	data := *f.data
	data.CapturedAt = time.Now().UTC()
	return &data, nil
}

type enqueueCall struct {
	subjectID string
	username  string
	opts      queue.Options
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (f *fakeEnqueuer) Enqueue(subjectID, username string, opts queue.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, enqueueCall{subjectID, username, opts})
	return "job-1", nil
}

func (f *fakeEnqueuer) Stats() queue.Stats { return queue.Stats{} }

func (f *fakeEnqueuer) enqueued() []enqueueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enqueueCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func scrapedData() *models.ProfileData {
	return &models.ProfileData{
		Method:   scrape.BackendHTTP,
		Username: "alice",
		Profile:  models.Profile{Username: "alice", FullName: "Alice"},
		Metrics:  models.Metrics{Followers: 1000, Following: 50, Posts: 3, EngagementRate: 4.2, AvgLikes: 42},
		RecentPosts: []models.Post{
			{ID: "1", Shortcode: "abc", Likes: 40, Comments: 2},
		},
		TopPost: &models.Post{ID: "1", Shortcode: "abc", Likes: 40, Comments: 2},
	}
}

func oauthData() *models.ProfileData {
	data := scrapedData()
	data.Method = models.ModeOAuth
	return data
}

type testEnv struct {
	svc     *Service
	store   *store.Store
	cache   *store.Cache
	scraper *fakeScraper
	graph   *fakeGraph
	cipher  *token.Cipher
	cfg     *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	cache := store.NewCache(st, cfg.Scrape.CacheTTL)
	scraper := &fakeScraper{data: scrapedData()}
	graph := &fakeGraph{data: oauthData()}
	cipher, err := token.NewCipher("test-secret")
	require.NoError(t, err)

	svc := New(cfg, st, cache, graph, scraper, cipher, ratelimit.NewMinInterval(0), logger.NewNopLogger())

	return &testEnv{svc: svc, store: st, cache: cache, scraper: scraper, graph: graph, cipher: cipher, cfg: cfg}
}

func (e *testEnv) link(t *testing.T, subjectID int64, mode string) {
	t.Helper()
	_, err := e.store.Link(context.Background(), subjectID, models.PlatformInstagram, "alice", mode)
	require.NoError(t, err)
}

func (e *testEnv) saveToken(t *testing.T, subjectID int64, plaintext string, expiresAt time.Time) {
	t.Helper()
	encrypted, err := e.cipher.EncryptString(plaintext)
	require.NoError(t, err)
	err = e.store.SaveToken(context.Background(), &models.OAuthToken{
		SubjectID:   subjectID,
		Platform:    models.PlatformInstagram,
		AccessToken: encrypted,
		ExpiresAt:   expiresAt,
	})
	require.NoError(t, err)
}

func TestGetDataNotLinked(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GetData(context.Background(), 1, Options{})
	assert.ErrorIs(t, err, errs.ErrNotLinked)
}

func TestGetDataScrapesAndPersists(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ModeScraping, res.ConnectionMethod)
	assert.True(t, res.HasPhotos)
	assert.False(t, res.Stale)
	assert.Equal(t, int64(1000), res.Metrics.Followers)

	history, err := env.store.History(context.Background(), 1, models.PlatformInstagram, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	account, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, account.LastSyncStatus)
}

func TestPersistPrunesExpiredHistory(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	env.cfg.Store.RetentionDays = 30

	old := snapshotFrom(1, scrapedData())
	old.CapturedAt = time.Now().UTC().AddDate(0, 0, -45)
	old.Metrics.Followers = 5
	_, err := env.store.AppendHistory(context.Background(), old)
	require.NoError(t, err)

	_, err = env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	history, err := env.store.History(context.Background(), 1, models.PlatformInstagram, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].Metrics.Followers)
}

func TestGetDataCacheHitMakesNoOutboundCalls(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	first, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	second, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, env.scraper.callCount())
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.LastUpdated, second.LastUpdated)
}

func TestGetDataForceRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	_, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	_, err = env.svc.GetData(context.Background(), 1, Options{ForceRefresh: true})
	require.NoError(t, err)

	assert.Equal(t, 2, env.scraper.callCount())
}

func TestGetDataOAuthPath(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "plain-access-token", time.Now().Add(time.Hour))

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ModeOAuth, res.ConnectionMethod)
	assert.Equal(t, "plain-access-token", env.graph.lastToken)
	assert.Equal(t, 0, env.scraper.callCount())
}

func TestGetDataExpiredTokenFallsBackToScraping(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "stale-token", time.Now().Add(-time.Hour))

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ModeScraping, res.ConnectionMethod)
	assert.Equal(t, 0, env.graph.calls)
	assert.Equal(t, 1, env.scraper.callCount())
}

func TestGetDataGraphFailureFallsBackToScraping(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "valid-token", time.Now().Add(time.Hour))
	env.graph.err = errors.New("graph api down")

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	assert.Equal(t, models.ModeScraping, res.ConnectionMethod)
	assert.Equal(t, 1, env.scraper.callCount())
}

func TestGetDataTotalFailureReturnsNoData(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	env.scraper.err = errs.ErrAllBackendsFailed

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	assert.ErrorIs(t, err, errs.ErrAllBackendsFailed)
	assert.Nil(t, res)

	account, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, account.LastSyncStatus)
}

func TestGetDataServesStaleOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	old := snapshotFrom(1, scrapedData())
	old.CapturedAt = time.Now().UTC().Add(-25 * time.Hour)
	require.NoError(t, env.cache.Put(context.Background(), old))

	env.scraper.err = errs.ErrAllBackendsFailed

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.True(t, res.Stale)
	assert.Equal(t, int64(1000), res.Metrics.Followers)
}

func TestGetDataSchedulesBackgroundRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	enq := &fakeEnqueuer{}
	env.svc.AttachQueue(enq)

	aging := snapshotFrom(1, scrapedData())
	aging.CapturedAt = time.Now().UTC().Add(-13 * time.Hour)
	require.NoError(t, env.cache.Put(context.Background(), aging))

	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.False(t, res.Stale)

	calls := enq.enqueued()
	require.Len(t, calls, 1)
	assert.Equal(t, "1", calls[0].subjectID)
	assert.Equal(t, queue.PriorityLow, calls[0].opts.Priority)
	assert.Equal(t, 0, env.scraper.callCount())
}

func TestGetDataFreshHitSkipsBackgroundRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	enq := &fakeEnqueuer{}
	env.svc.AttachQueue(enq)

	fresh := snapshotFrom(1, scrapedData())
	fresh.CapturedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, env.cache.Put(context.Background(), fresh))

	_, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.Empty(t, enq.enqueued())
}

func TestGetDataAgingHitWithoutQueueServesCacheOnly(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	aging := snapshotFrom(1, scrapedData())
	aging.CapturedAt = time.Now().UTC().Add(-13 * time.Hour)
	require.NoError(t, env.cache.Put(context.Background(), aging))

	// No queue attached: the aging hit is served as-is with nothing
	// scheduled and no outbound call.
	res, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 0, env.scraper.callCount())
}

func TestGetDataQueuedColdCache(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	enq := &fakeEnqueuer{}
	env.svc.AttachQueue(enq)

	res, err := env.svc.GetDataQueued(context.Background(), 1)
	assert.ErrorIs(t, err, errs.ErrNoFreshData)
	assert.Nil(t, res)

	calls := enq.enqueued()
	require.Len(t, calls, 1)
	assert.Equal(t, queue.PriorityHigh, calls[0].opts.Priority)
}

func TestGetDataQueuedWarmCache(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	enq := &fakeEnqueuer{}
	env.svc.AttachQueue(enq)

	fresh := snapshotFrom(1, scrapedData())
	fresh.CapturedAt = time.Now().UTC()
	require.NoError(t, env.cache.Put(context.Background(), fresh))

	res, err := env.svc.GetDataQueued(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Metrics.Followers)
	assert.Empty(t, enq.enqueued())
}

func TestLinkByUsername(t *testing.T) {
	env := newTestEnv(t)

	account, err := env.svc.LinkByUsername(context.Background(), 1, "@Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, models.ModeScraping, account.Mode)

	// The initial fetch ran and persisted a snapshot.
	assert.Equal(t, 1, env.scraper.callCount())
	snap, err := env.cache.Get(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	require.NotNil(t, snap)
}

func TestLinkByUsernameInvalid(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.LinkByUsername(context.Background(), 1, "not a username!")
	assert.Error(t, err)
}

func TestLinkByUsernameSurvivesFailedFetch(t *testing.T) {
	env := newTestEnv(t)
	env.scraper.err = errs.ErrAllBackendsFailed

	account, err := env.svc.LinkByUsername(context.Background(), 1, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)

	stored, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, stored.LastSyncStatus)
}

func TestUnlink(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "tok", time.Now().Add(time.Hour))

	require.NoError(t, env.svc.Unlink(context.Background(), 1, false))

	_, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	assert.ErrorIs(t, err, errs.ErrNotLinked)
	_, err = env.store.ActiveToken(context.Background(), 1, models.PlatformInstagram)
	assert.ErrorIs(t, err, errs.ErrNoActiveToken)
}

func TestUnlinkKeepOAuth(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "tok", time.Now().Add(time.Hour))

	require.NoError(t, env.svc.Unlink(context.Background(), 1, true))

	_, err := env.store.ActiveToken(context.Background(), 1, models.PlatformInstagram)
	assert.NoError(t, err)
}

func TestConnectionStatusUnlinked(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.svc.ConnectionStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, status.Linked)
}

func TestConnectionStatusScraping(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	status, err := env.svc.ConnectionStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.Linked)
	assert.Equal(t, models.ModeScraping, status.Mode)
	assert.True(t, status.CanUpgradeToOAuth)
	assert.False(t, status.TokenActive)
}

func TestConnectionStatusOAuth(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeOAuth)
	env.saveToken(t, 1, "tok", time.Now().Add(time.Hour))

	status, err := env.svc.ConnectionStatus(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, status.TokenActive)
	assert.False(t, status.CanUpgradeToOAuth)
	require.NotNil(t, status.TokenExpiresAt)
}

func TestGrowth(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	base := time.Now().UTC().Add(-72 * time.Hour)
	followers := []int64{100, 110, 105}
	for i, count := range followers {
		data := scrapedData()
		data.Metrics.Followers = count
		snap := snapshotFrom(1, data)
		snap.CapturedAt = base.Add(time.Duration(i) * 24 * time.Hour)
		_, err := env.store.AppendHistory(context.Background(), snap)
		require.NoError(t, err)
	}

	points, err := env.svc.Growth(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, int64(100), points[0].Followers)
	assert.Equal(t, int64(0), points[0].FollowerDelta)
	assert.Equal(t, int64(10), points[1].FollowerDelta)
	assert.Equal(t, int64(-5), points[2].FollowerDelta)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	_, err := env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)
	_, err = env.svc.GetData(context.Background(), 1, Options{})
	require.NoError(t, err)

	stats := env.svc.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}

func TestQueueFetchRespectsRateLimitAndRecordsErrors(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)
	env.scraper.err = errs.ErrAllBackendsFailed

	_, err := env.svc.Fetch(context.Background(), queue.Job{SubjectID: "1", Username: "alice"})
	assert.ErrorIs(t, err, errs.ErrAllBackendsFailed)

	account, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, account.LastSyncStatus)
}

func TestQueuePersistStoresSnapshot(t *testing.T) {
	env := newTestEnv(t)
	env.link(t, 1, models.ModeScraping)

	data := scrapedData()
	data.CapturedAt = time.Now().UTC()
	require.NoError(t, env.svc.Persist(context.Background(), "1", data))

	snap, err := env.cache.Get(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, models.SyncStatusSuccess, mustAccount(t, env).LastSyncStatus)
}

func mustAccount(t *testing.T, env *testEnv) *models.LinkedAccount {
	t.Helper()
	account, err := env.store.Account(context.Background(), 1, models.PlatformInstagram)
	require.NoError(t, err)
	return account
}
