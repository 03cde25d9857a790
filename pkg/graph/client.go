package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/logger"
	"igmetrics/pkg/models"
	"igmetrics/pkg/scrape"
)

const (
	// DefaultBaseURL is the Graph API host for Instagram accounts
	DefaultBaseURL = "https://graph.instagram.com"

	// AuthorizeURL is where subjects grant access
	AuthorizeURL = "https://api.instagram.com/oauth/authorize"

	// tokenExchangeURL trades an authorization code for a short-lived token
	tokenExchangeURL = "https://api.instagram.com/oauth/access_token"
)

// Client talks to the official Graph API on behalf of subjects that
// completed the OAuth flow. Every call takes a bearer token; the client
// holds no token state of its own.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appID      string
	appSecret  string
	redirect   string
	logger     logger.Logger
}

// TokenResponse is what the token endpoints return.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	ExpiresIn   int64  `json:"expires_in"`
}

// NewClient creates a Graph API client.
func NewClient(appID, appSecret, redirectURI, baseURL string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		appID:      appID,
		appSecret:  appSecret,
		redirect:   redirectURI,
		logger:     log,
	}
}

// SetBaseURL overrides the API host. Used by tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
}

// AuthURL builds the authorization URL the subject is sent to.
func (c *Client) AuthURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.appID)
	params.Set("redirect_uri", c.redirect)
	params.Set("scope", "user_profile,user_media")
	params.Set("response_type", "code")
	if state != "" {
		params.Set("state", state)
	}
	return AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode trades an authorization code for a short-lived token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.appID)
	form.Set("client_secret", c.appSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", c.redirect)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.exchangeURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token TokenResponse
	if err := c.do(req, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// exchangeURL keeps the code-exchange endpoint overridable through baseURL
// in tests while production uses the fixed host.
func (c *Client) exchangeURL() string {
	if c.baseURL != DefaultBaseURL {
		return c.baseURL + "/oauth/access_token"
	}
	return tokenExchangeURL
}

// LongLivedToken upgrades a short-lived token to a 60-day one.
func (c *Client) LongLivedToken(ctx context.Context, shortToken string) (*TokenResponse, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", c.appSecret)
	params.Set("access_token", shortToken)

	var token TokenResponse
	if err := c.get(ctx, "/access_token?"+params.Encode(), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// RefreshToken extends a long-lived token before it expires.
func (c *Client) RefreshToken(ctx context.Context, accessToken string) (*TokenResponse, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", accessToken)

	var token TokenResponse
	if err := c.get(ctx, "/refresh_access_token?"+params.Encode(), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// profileDocument is the account document for a professional account.
type profileDocument struct {
	ID                string `json:"id"`
	Username          string `json:"username"`
	Name              string `json:"name"`
	Biography         string `json:"biography"`
	ProfilePictureURL string `json:"profile_picture_url"`
	Website           string `json:"website"`
	FollowersCount    int64  `json:"followers_count"`
	FollowsCount      int64  `json:"follows_count"`
	MediaCount        int64  `json:"media_count"`
}

// mediaDocument is one page of the media edge.
type mediaDocument struct {
	Data []struct {
		ID            string `json:"id"`
		Caption       string `json:"caption"`
		LikeCount     int64  `json:"like_count"`
		CommentsCount int64  `json:"comments_count"`
		MediaURL      string `json:"media_url"`
		MediaType     string `json:"media_type"`
		Timestamp     string `json:"timestamp"`
		Shortcode     string `json:"shortcode"`
	} `json:"data"`
}

// insightsDocument is the account insights envelope.
type insightsDocument struct {
	Data []struct {
		Name   string `json:"name"`
		Values []struct {
			Value int64 `json:"value"`
		} `json:"values"`
	} `json:"data"`
}

// Insights holds day-period account insight counters. Fields stay nil
// when the API does not report the metric, which is the normal case for
// non-professional accounts.
type Insights struct {
	Impressions  *int64
	Reach        *int64
	ProfileViews *int64
}

// Insights fetches account insight counters for the user.
func (c *Client) Insights(ctx context.Context, userID, accessToken string) (*Insights, error) {
	path := fmt.Sprintf("/%s/insights?metric=impressions,reach,profile_views&period=day&access_token=%s",
		url.PathEscape(userID), url.QueryEscape(accessToken))

	var doc insightsDocument
	if err := c.get(ctx, path, &doc); err != nil {
		return nil, err
	}

	out := &Insights{}
	for _, metric := range doc.Data {
		if len(metric.Values) == 0 {
			continue
		}
		// The most recent period is the last value reported.
		value := metric.Values[len(metric.Values)-1].Value
		switch metric.Name {
		case "impressions":
			out.Impressions = &value
		case "reach":
			out.Reach = &value
		case "profile_views":
			out.ProfileViews = &value
		}
	}
	return out, nil
}

// FetchProfileData pulls profile, metrics and recent media through the
// official API and normalizes them into the shared acquisition shape.
func (c *Client) FetchProfileData(ctx context.Context, accessToken string, maxPosts int) (*models.ProfileData, error) {
	if maxPosts <= 0 {
		maxPosts = 12
	}

	var profile profileDocument
	fields := "id,username,name,biography,profile_picture_url,website,followers_count,follows_count,media_count"
	if err := c.get(ctx, "/me?fields="+fields+"&access_token="+url.QueryEscape(accessToken), &profile); err != nil {
		return nil, err
	}

	var media mediaDocument
	mediaFields := "id,caption,like_count,comments_count,media_url,media_type,timestamp,shortcode"
	path := fmt.Sprintf("/me/media?fields=%s&limit=%d&access_token=%s", mediaFields, maxPosts, url.QueryEscape(accessToken))
	if err := c.get(ctx, path, &media); err != nil {
		return nil, err
	}

	var posts []models.Post
	for _, m := range media.Data {
		if len(posts) >= maxPosts {
			break
		}
		takenAt := parseTimestamp(m.Timestamp)
		posts = append(posts, models.Post{
			ID:           m.ID,
			Shortcode:    m.Shortcode,
			Caption:      m.Caption,
			Likes:        m.LikeCount,
			Comments:     m.CommentsCount,
			ThumbnailURL: m.MediaURL,
			IsVideo:      m.MediaType == "VIDEO",
			TakenAt:      takenAt,
		})
	}

	// Insights are best effort. Accounts without a professional profile
	// report none; that degrades to nil fields, not an error.
	var insights *Insights
	if profile.ID != "" {
		var err error
		insights, err = c.Insights(ctx, profile.ID, accessToken)
		if err != nil {
			c.logger.DebugWithFields("insights unavailable", map[string]interface{}{
				"user_id": profile.ID,
				"error":   err.Error(),
			})
			insights = nil
		}
	}

	data := &models.ProfileData{
		Method:   models.ModeOAuth,
		Username: profile.Username,
		Profile: models.Profile{
			Username:      profile.Username,
			FullName:      profile.Name,
			Biography:     profile.Biography,
			ProfilePicURL: profile.ProfilePictureURL,
			ExternalURL:   profile.Website,
		},
		Metrics: models.Metrics{
			Followers:      profile.FollowersCount,
			Following:      profile.FollowsCount,
			Posts:          profile.MediaCount,
			EngagementRate: scrape.EngagementRate(profile.FollowersCount, posts),
			AvgLikes:       scrape.AvgLikes(posts),
		},
		RecentPosts: posts,
		TopPost:     scrape.TopPost(posts),
		CapturedAt:  time.Now().UTC(),
	}
	if insights != nil {
		data.Metrics.Impressions = insights.Impressions
		data.Metrics.Reach = insights.Reach
		data.Metrics.ProfileViews = insights.ProfileViews
	}
	return data, nil
}

// parseTimestamp accepts both RFC3339 and the API's "+0000" zone format.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02T15:04:05-0700", s)
	return t
}

func (c *Client) get(ctx context.Context, path string, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, target)
}

func (c *Client) do(req *http.Request, target interface{}) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("graph api request failed: %v", err),
			Code:    0,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("failed to read response: %v", err),
			Code:    resp.StatusCode,
		}
	}

	logger.LogRequest(req.Method, req.URL.Path, resp.StatusCode, float64(time.Since(start).Milliseconds()))

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: fmt.Sprintf("failed to parse graph response: %v", err),
			Code:    resp.StatusCode,
		}
	}
	return nil
}

// apiError maps the Graph API's error envelope onto the shared taxonomy.
func (c *Client) apiError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)

	message := envelope.Error.Message
	if message == "" {
		message = fmt.Sprintf("graph api returned status %d", status)
	}

	errType := errs.ErrorTypeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || envelope.Error.Type == "OAuthException":
		errType = errs.ErrorTypeAuth
	case status == http.StatusTooManyRequests:
		errType = errs.ErrorTypeRateLimit
	case status >= 500:
		errType = errs.ErrorTypeServerError
	case status == http.StatusNotFound:
		errType = errs.ErrorTypeNotFound
	}

	c.logger.WarnWithFields("graph api error", map[string]interface{}{
		"status":  status,
		"type":    string(errType),
		"message": message,
	})

	return &errs.Error{Type: errType, Message: message, Code: status}
}
