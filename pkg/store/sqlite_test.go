package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot(subjectID int64, capturedAt time.Time) *models.Snapshot {
	return &models.Snapshot{
		SubjectID: subjectID,
		Platform:  models.PlatformInstagram,
		Method:    "http",
		Profile:   models.Profile{Username: "nasa", FullName: "NASA"},
		Metrics: models.Metrics{
			Followers:      96500000,
			Following:      77,
			Posts:          4120,
			EngagementRate: 1.23,
			AvgLikes:       965000,
		},
		RecentPosts: []models.Post{
			{ID: "1", Shortcode: "abc", Likes: 1000, Comments: 50},
		},
		TopPost:    &models.Post{ID: "1", Shortcode: "abc", Likes: 1000, Comments: 50},
		CapturedAt: capturedAt,
	}
}

func TestLinkCreatesAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	account, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)

	assert.Equal(t, "nasa", account.Username)
	assert.Equal(t, models.ModeScraping, account.Mode)
	assert.True(t, account.Active)
	assert.Equal(t, models.SyncStatusPending, account.LastSyncStatus)
}

func TestLinkUpsertsSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Link(ctx, 1, models.PlatformInstagram, "old_name", models.ModeScraping)
	require.NoError(t, err)

	second, err := s.Link(ctx, 1, models.PlatformInstagram, "new_name", models.ModeScraping)
	require.NoError(t, err)

	// Same row mutated, not a second row
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "new_name", second.Username)
}

func TestLinkNeverDowngradesOAuth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeOAuth)
	require.NoError(t, err)

	account, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)
	assert.Equal(t, models.ModeOAuth, account.Mode)

	// The reverse upgrade is allowed
	s2 := newTestStore(t)
	_, err = s2.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)
	upgraded, err := s2.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeOAuth)
	require.NoError(t, err)
	assert.Equal(t, models.ModeOAuth, upgraded.Mode)
}

func TestDeactivateIsSoft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)

	require.NoError(t, s.Deactivate(ctx, 1, models.PlatformInstagram))

	_, err = s.Account(ctx, 1, models.PlatformInstagram)
	assert.ErrorIs(t, err, errs.ErrNotLinked)

	// Relinking reactivates the same row
	account, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)
	assert.True(t, account.Active)
}

func TestMarkSync(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Link(ctx, 1, models.PlatformInstagram, "nasa", models.ModeScraping)
	require.NoError(t, err)

	require.NoError(t, s.MarkSync(ctx, 1, models.PlatformInstagram, models.SyncStatusError, "all scraping backends failed"))

	account, err := s.Account(ctx, 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusError, account.LastSyncStatus)
	assert.Equal(t, "all scraping backends failed", account.LastError)
	assert.NotNil(t, account.LastSyncAt)
}

func TestSetCurrentRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	captured := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetCurrent(ctx, testSnapshot(1, captured)))

	snap, err := s.Current(ctx, 1, models.PlatformInstagram)
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Equal(t, "nasa", snap.Profile.Username)
	assert.Equal(t, int64(96500000), snap.Metrics.Followers)
	assert.Equal(t, 1.23, snap.Metrics.EngagementRate)
	require.Len(t, snap.RecentPosts, 1)
	require.NotNil(t, snap.TopPost)
	assert.Equal(t, "abc", snap.TopPost.Shortcode)
	assert.True(t, snap.CapturedAt.Equal(captured))
}

func TestSetCurrentUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := testSnapshot(1, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, s.SetCurrent(ctx, older))

	newer := testSnapshot(1, time.Now().UTC())
	newer.Metrics.Followers = 99
	require.NoError(t, s.SetCurrent(ctx, newer))

	snap, err := s.Current(ctx, 1, models.PlatformInstagram)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(99), snap.Metrics.Followers)
}

func TestInvalidateCurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCurrent(ctx, testSnapshot(1, time.Now().UTC())))
	require.NoError(t, s.InvalidateCurrent(ctx, 1, models.PlatformInstagram))

	snap, err := s.Current(ctx, 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCurrentMissingSubject(t *testing.T) {
	s := newTestStore(t)

	snap, err := s.Current(context.Background(), 42, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestHistoryAppendOnlyOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		snap := testSnapshot(1, base.Add(time.Duration(i)*time.Hour))
		snap.Metrics.Followers = int64(100 + i)
		_, err := s.AppendHistory(ctx, snap)
		require.NoError(t, err)
	}

	history, err := s.History(ctx, 1, models.PlatformInstagram, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)

	// Newest first
	assert.Equal(t, int64(102), history[0].Metrics.Followers)
	assert.Equal(t, int64(100), history[2].Metrics.Followers)
}

func TestHistoryLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, err := s.AppendHistory(ctx, testSnapshot(1, base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	history, err := s.History(ctx, 1, models.PlatformInstagram, 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestPruneHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		snap := testSnapshot(1, base.Add(time.Duration(i)*time.Hour))
		snap.Metrics.Followers = int64(i)
		_, err := s.AppendHistory(ctx, snap)
		require.NoError(t, err)
	}

	deleted, err := s.PruneHistory(ctx, 1, models.PlatformInstagram, base.Add(7*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(7), deleted)

	history, err := s.History(ctx, 1, models.PlatformInstagram, 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	// Rows at or after the cutoff survive
	assert.Equal(t, int64(9), history[0].Metrics.Followers)
}

func TestSaveTokenRotation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.OAuthToken{
		SubjectID:   1,
		Platform:    models.PlatformInstagram,
		AccessToken: "encrypted-one",
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, s.SaveToken(ctx, first))

	second := &models.OAuthToken{
		SubjectID:   1,
		Platform:    models.PlatformInstagram,
		AccessToken: "encrypted-two",
		ExpiresAt:   time.Now().UTC().Add(2 * time.Hour),
	}
	require.NoError(t, s.SaveToken(ctx, second))

	active, err := s.ActiveToken(ctx, 1, models.PlatformInstagram)
	require.NoError(t, err)
	assert.Equal(t, "encrypted-two", active.AccessToken)
	assert.NotEqual(t, first.ID, active.ID)
}

func TestActiveTokenNone(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ActiveToken(context.Background(), 1, models.PlatformInstagram)
	assert.ErrorIs(t, err, errs.ErrNoActiveToken)
}

func TestDeactivateTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	token := &models.OAuthToken{
		SubjectID:   1,
		Platform:    models.PlatformInstagram,
		AccessToken: "encrypted",
	}
	require.NoError(t, s.SaveToken(ctx, token))
	require.NoError(t, s.DeactivateTokens(ctx, 1, models.PlatformInstagram))

	_, err := s.ActiveToken(ctx, 1, models.PlatformInstagram)
	assert.ErrorIs(t, err, errs.ErrNoActiveToken)
}
