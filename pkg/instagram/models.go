package instagram

// WebProfileResponse is the JSON document served by the web profile endpoint
type WebProfileResponse struct {
	RequiresToLogin bool   `json:"requires_to_login"`
	Data            Data   `json:"data"`
	Status          string `json:"status"`
}

type Data struct {
	User User `json:"user"`
}

type User struct {
	ID                       string                   `json:"id"`
	Username                 string                   `json:"username"`
	FullName                 string                   `json:"full_name"`
	Biography                string                   `json:"biography"`
	ProfilePicURL            string                   `json:"profile_pic_url_hd"`
	ExternalURL              string                   `json:"external_url"`
	IsVerified               bool                     `json:"is_verified"`
	IsPrivate                bool                     `json:"is_private"`
	EdgeFollowedBy           EdgeCount                `json:"edge_followed_by"`
	EdgeFollow               EdgeCount                `json:"edge_follow"`
	EdgeOwnerToTimelineMedia EdgeOwnerToTimelineMedia `json:"edge_owner_to_timeline_media"`
}

type EdgeCount struct {
	Count int64 `json:"count"`
}

type EdgeOwnerToTimelineMedia struct {
	Count    int64    `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

type Edge struct {
	Node Node `json:"node"`
}

type Node struct {
	ID                 string       `json:"id"`
	Shortcode          string       `json:"shortcode"`
	DisplayURL         string       `json:"display_url"`
	IsVideo            bool         `json:"is_video"`
	TakenAtTimestamp   int64        `json:"taken_at_timestamp"`
	EdgeLikedBy        EdgeCount    `json:"edge_liked_by"`
	EdgeMediaPreview   EdgeCount    `json:"edge_media_preview_like"`
	EdgeMediaToComment EdgeCount    `json:"edge_media_to_comment"`
	EdgeMediaToCaption CaptionEdges `json:"edge_media_to_caption"`
}

// Likes returns the best available like count for the node. Some documents
// carry edge_liked_by, others edge_media_preview_like.
func (n *Node) Likes() int64 {
	if n.EdgeLikedBy.Count > 0 {
		return n.EdgeLikedBy.Count
	}
	return n.EdgeMediaPreview.Count
}

// Caption returns the first caption text, if any.
func (n *Node) Caption() string {
	if len(n.EdgeMediaToCaption.Edges) > 0 {
		return n.EdgeMediaToCaption.Edges[0].Node.Text
	}
	return ""
}

type CaptionEdges struct {
	Edges []CaptionEdge `json:"edges"`
}

type CaptionEdge struct {
	Node CaptionNode `json:"node"`
}

type CaptionNode struct {
	Text string `json:"text"`
}
