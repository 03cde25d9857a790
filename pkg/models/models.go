package models

import "time"

// Connection modes for a linked account.
const (
	ModeOAuth    = "oauth"
	ModeScraping = "scraping"
)

// Sync statuses recorded on a linked account after each acquisition attempt.
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// Platform names. Only Instagram is implemented.
const (
	PlatformInstagram = "instagram"
)

type Profile struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Biography     string `json:"biography"`
	ProfilePicURL string `json:"profile_pic_url"`
	ExternalURL   string `json:"external_url"`
	IsVerified    bool   `json:"is_verified"`
	IsPrivate     bool   `json:"is_private"`
}

type Metrics struct {
	Followers      int64   `json:"followers"`
	Following      int64   `json:"following"`
	Posts          int64   `json:"posts"`
	EngagementRate float64 `json:"engagement_rate"`
	AvgLikes       float64 `json:"avg_likes"`

	// Insight counters are only available through the OAuth path and
	// stay nil for scraped captures.
	Impressions  *int64 `json:"impressions,omitempty"`
	Reach        *int64 `json:"reach,omitempty"`
	ProfileViews *int64 `json:"profile_views,omitempty"`
}

type Post struct {
	ID           string    `json:"id"`
	Shortcode    string    `json:"shortcode"`
	Caption      string    `json:"caption"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	ThumbnailURL string    `json:"thumbnail_url"`
	IsVideo      bool      `json:"is_video"`
	TakenAt      time.Time `json:"taken_at"`
}

// Engagement is the combined likes and comments count used for ranking posts.
func (p Post) Engagement() int64 {
	return p.Likes + p.Comments
}

// ProfileData is the normalized shape every acquisition path produces.
// Method records which path captured it ("oauth" or a backend name).
type ProfileData struct {
	Method      string    `json:"method"`
	Username    string    `json:"username"`
	Profile     Profile   `json:"profile"`
	Metrics     Metrics   `json:"metrics"`
	RecentPosts []Post    `json:"recent_posts"`
	TopPost     *Post     `json:"top_post,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// Snapshot is an immutable point-in-time capture persisted per acquisition.
// Rows are append-only; history reads an ordered sequence by capture time.
type Snapshot struct {
	ID            int64     `json:"id"`
	SubjectID     int64     `json:"subject_id"`
	Platform      string    `json:"platform"`
	Method        string    `json:"method"`
	IsPlaceholder bool      `json:"is_placeholder"`
	Profile       Profile   `json:"profile"`
	Metrics       Metrics   `json:"metrics"`
	RecentPosts   []Post    `json:"recent_posts"`
	TopPost       *Post     `json:"top_post,omitempty"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Age reports how long ago the snapshot was captured.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// LinkedAccount represents one subject's presence on a platform.
// At most one row is active per (subject, platform) pair.
type LinkedAccount struct {
	ID             int64      `json:"id"`
	SubjectID      int64      `json:"subject_id"`
	Platform       string     `json:"platform"`
	Username       string     `json:"username"`
	Mode           string     `json:"mode"`
	Active         bool       `json:"active"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// OAuthToken is an encrypted token pair for a subject and platform.
// Only one token may be active per (subject, platform); inserting a new
// one deactivates all prior tokens for that pair.
type OAuthToken struct {
	ID             int64     `json:"id"`
	SubjectID      int64     `json:"subject_id"`
	Platform       string    `json:"platform"`
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	PlatformUserID string    `json:"platform_user_id"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the token is past its expiry at the given time.
func (t *OAuthToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Result is what the unified router returns to its callers.
type Result struct {
	ConnectionMethod string    `json:"connection_method"`
	HasPhotos        bool      `json:"has_photos"`
	Stale            bool      `json:"stale,omitempty"`
	Profile          Profile   `json:"profile"`
	Metrics          Metrics   `json:"metrics"`
	RecentPosts      []Post    `json:"recent_posts"`
	TopPost          *Post     `json:"top_post,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// ConnectionStatus describes how (and whether) a subject is linked.
type ConnectionStatus struct {
	Linked         bool       `json:"linked"`
	Mode           string     `json:"mode,omitempty"`
	Username       string     `json:"username,omitempty"`
	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastSyncStatus string     `json:"last_sync_status,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	TokenActive    bool       `json:"token_active"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	// CanUpgradeToOAuth is set when the account is linked via scraping
	// only, so an OAuth connect flow would improve data quality.
	CanUpgradeToOAuth bool `json:"can_upgrade_to_oauth"`
}

// GrowthPoint is one entry in a follower-growth series derived from history.
type GrowthPoint struct {
	CapturedAt     time.Time `json:"captured_at"`
	Followers      int64     `json:"followers"`
	FollowerDelta  int64     `json:"follower_delta"`
	EngagementRate float64   `json:"engagement_rate"`
}
