package scrape

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	errs "igmetrics/pkg/errors"
	"igmetrics/pkg/instagram"
	"igmetrics/pkg/models"
)

// Extraction paths reported by the backends, strongest first.
const (
	PathSharedData     = "shared_data"
	PathAdditionalData = "additional_data"
	PathScriptScan     = "script_scan"
	PathMetaTags       = "meta_tags"
)

var (
	sharedDataRe     = regexp.MustCompile(`(?s)window\._sharedData\s*=\s*(\{.+?\});\s*</script>`)
	additionalDataRe = regexp.MustCompile(`(?s)window\.__additionalDataLoaded\s*\(\s*['"][^'"]*['"]\s*,\s*(\{.+?\})\s*\)\s*;?\s*</script>`)

	// og:description reads like "1.2M Followers, 77 Following, 4,120 Posts - ..."
	metaCountsRe = regexp.MustCompile(`([\d.,]+[KMBkmb]?)\s+Followers?,\s*([\d.,]+[KMBkmb]?)\s+Following,\s*([\d.,]+[KMBkmb]?)\s+Posts?`)
)

// ParseCount parses a human-readable count like "12.3K" or "1.2M" into an
// absolute number. Plain numbers may carry thousands separators.
func ParseCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty count")
	}

	multiplier := int64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		multiplier = 1_000
		s = s[:len(s)-1]
	case 'M', 'm':
		multiplier = 1_000_000
		s = s[:len(s)-1]
	case 'B', 'b':
		multiplier = 1_000_000_000
		s = s[:len(s)-1]
	}

	s = strings.ReplaceAll(s, ",", "")

	if multiplier == 1 {
		return strconv.ParseInt(s, 10, 64)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count %q: %w", s, err)
	}
	return int64(math.Round(f * float64(multiplier))), nil
}

// EngagementRate computes average engagement over the available posts as a
// percentage of followers, rounded to two decimals. Zero followers or no
// posts yields zero, never NaN.
func EngagementRate(followers int64, posts []models.Post) float64 {
	if followers == 0 || len(posts) == 0 {
		return 0
	}

	var total int64
	for _, p := range posts {
		total += p.Engagement()
	}
	avg := float64(total) / float64(len(posts))

	return round2(avg / float64(followers) * 100)
}

// AvgLikes computes the mean like count over the available posts.
func AvgLikes(posts []models.Post) float64 {
	if len(posts) == 0 {
		return 0
	}

	var total int64
	for _, p := range posts {
		total += p.Likes
	}
	return round2(float64(total) / float64(len(posts)))
}

// TopPost returns the post with the highest combined likes and comments.
// Ties go to the earliest post in encounter order.
func TopPost(posts []models.Post) *models.Post {
	if len(posts) == 0 {
		return nil
	}

	best := 0
	for i := 1; i < len(posts); i++ {
		if posts[i].Engagement() > posts[best].Engagement() {
			best = i
		}
	}

	top := posts[best]
	return &top
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// BuildProfileData normalizes a wire-format user into the shape every
// acquisition path produces. Recent posts are capped at maxPosts.
func BuildProfileData(user *instagram.User, method string, maxPosts int) *models.ProfileData {
	if maxPosts <= 0 {
		maxPosts = 12
	}

	var posts []models.Post
	for _, edge := range user.EdgeOwnerToTimelineMedia.Edges {
		if len(posts) >= maxPosts {
			break
		}
		node := edge.Node
		posts = append(posts, models.Post{
			ID:           node.ID,
			Shortcode:    node.Shortcode,
			Caption:      node.Caption(),
			Likes:        node.Likes(),
			Comments:     node.EdgeMediaToComment.Count,
			ThumbnailURL: node.DisplayURL,
			IsVideo:      node.IsVideo,
			TakenAt:      time.Unix(node.TakenAtTimestamp, 0).UTC(),
		})
	}

	followers := user.EdgeFollowedBy.Count

	return &models.ProfileData{
		Method:   method,
		Username: user.Username,
		Profile: models.Profile{
			Username:      user.Username,
			FullName:      user.FullName,
			Biography:     user.Biography,
			ProfilePicURL: user.ProfilePicURL,
			ExternalURL:   user.ExternalURL,
			IsVerified:    user.IsVerified,
			IsPrivate:     user.IsPrivate,
		},
		Metrics: models.Metrics{
			Followers:      followers,
			Following:      user.EdgeFollow.Count,
			Posts:          user.EdgeOwnerToTimelineMedia.Count,
			EngagementRate: EngagementRate(followers, posts),
			AvgLikes:       AvgLikes(posts),
		},
		RecentPosts: posts,
		TopPost:     TopPost(posts),
		CapturedAt:  time.Now().UTC(),
	}
}

// extractSharedData pulls the legacy embedded state object out of the page
func extractSharedData(html string) (*instagram.User, error) {
	match := sharedDataRe.FindStringSubmatch(html)
	if match == nil {
		return nil, parseErr("no shared data object in page")
	}

	var payload struct {
		EntryData struct {
			ProfilePage []struct {
				GraphQL struct {
					User instagram.User `json:"user"`
				} `json:"graphql"`
			} `json:"ProfilePage"`
		} `json:"entry_data"`
	}
	if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
		return nil, parseErr("shared data is not valid JSON: %v", err)
	}

	if len(payload.EntryData.ProfilePage) == 0 {
		return nil, parseErr("shared data has no profile page entry")
	}

	user := payload.EntryData.ProfilePage[0].GraphQL.User
	if user.Username == "" {
		return nil, parseErr("shared data profile entry has no user")
	}
	return &user, nil
}

// extractAdditionalData pulls the newer embedded-data object out of the page
func extractAdditionalData(html string) (*instagram.User, error) {
	match := additionalDataRe.FindStringSubmatch(html)
	if match == nil {
		return nil, parseErr("no additional data object in page")
	}

	var payload struct {
		GraphQL struct {
			User instagram.User `json:"user"`
		} `json:"graphql"`
		User instagram.User `json:"user"`
	}
	if err := json.Unmarshal([]byte(match[1]), &payload); err != nil {
		return nil, parseErr("additional data is not valid JSON: %v", err)
	}

	if payload.GraphQL.User.Username != "" {
		return &payload.GraphQL.User, nil
	}
	if payload.User.Username != "" {
		return &payload.User, nil
	}
	return nil, parseErr("additional data has no user object")
}

// extractScriptJSON scans every script tag for a JSON document containing a
// user object, wherever the platform currently nests it
func extractScriptJSON(doc *goquery.Document) (*instagram.User, error) {
	var user *instagram.User

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "edge_followed_by") {
			return true
		}

		var decoded interface{}
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return true
		}

		if candidate := findUserObject(decoded); candidate != nil {
			user = candidate
			return false
		}
		return true
	})

	if user == nil {
		return nil, parseErr("no script tag carries a user object")
	}
	return user, nil
}

// findUserObject walks a decoded JSON tree looking for a profile user object
func findUserObject(v interface{}) *instagram.User {
	switch node := v.(type) {
	case map[string]interface{}:
		_, hasFollowers := node["edge_followed_by"]
		_, hasUsername := node["username"]
		if hasFollowers && hasUsername {
			raw, err := json.Marshal(node)
			if err != nil {
				return nil
			}
			var user instagram.User
			if err := json.Unmarshal(raw, &user); err != nil || user.Username == "" {
				return nil
			}
			return &user
		}
		for _, child := range node {
			if found := findUserObject(child); found != nil {
				return found
			}
		}
	case []interface{}:
		for _, child := range node {
			if found := findUserObject(child); found != nil {
				return found
			}
		}
	}
	return nil
}

// extractMetaTags reads followers, following and post counts out of the
// page's meta tags. Posts are not available on this path.
func extractMetaTags(doc *goquery.Document, username string) (*models.ProfileData, error) {
	description, ok := doc.Find(`meta[property="og:description"]`).Attr("content")
	if !ok {
		if description, ok = doc.Find(`meta[name="description"]`).Attr("content"); !ok {
			return nil, parseErr("page has no description meta tag")
		}
	}

	match := metaCountsRe.FindStringSubmatch(description)
	if match == nil {
		return nil, parseErr("description meta tag carries no counts")
	}

	followers, err := ParseCount(match[1])
	if err != nil {
		return nil, parseErr("bad follower count %q: %v", match[1], err)
	}
	following, err := ParseCount(match[2])
	if err != nil {
		return nil, parseErr("bad following count %q: %v", match[2], err)
	}
	postCount, err := ParseCount(match[3])
	if err != nil {
		return nil, parseErr("bad post count %q: %v", match[3], err)
	}

	profile := models.Profile{Username: username}
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		// "Full Name (@username) • Instagram photos and videos"
		if idx := strings.Index(title, " (@"); idx > 0 {
			profile.FullName = title[:idx]
		}
	}
	if image, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		profile.ProfilePicURL = image
	}

	return &models.ProfileData{
		Method:   BackendMeta,
		Username: username,
		Profile:  profile,
		Metrics: models.Metrics{
			Followers: followers,
			Following: following,
			Posts:     postCount,
		},
		CapturedAt: time.Now().UTC(),
	}, nil
}

func parseErr(format string, args ...interface{}) *errs.Error {
	return errs.New(errs.ErrorTypeParsing, 0, format, args...)
}
