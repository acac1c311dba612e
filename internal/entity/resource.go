package entity

import (
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
)

// Metrics is the platform specific counter bag (likes, views, shares...).
type Metrics map[string]int64

type Comment struct {
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	PostedAt time.Time `json:"posted_at"`
}

// Resource is a deduplicated unit of external content shared across jobs.
// (Platform, NativeID) is unique.
type Resource struct {
	ID          uuid.UUID `json:"id"`
	Platform    Platform  `json:"platform"`
	NativeID    string    `json:"native_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Metrics     Metrics   `json:"metrics"`
	Comments    []Comment `json:"comments,omitempty"`
	Media       []Media   `json:"media,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type MediaType string

const (
	MediaImage      MediaType = "image"
	MediaVideo      MediaType = "video"
	MediaVideoFrame MediaType = "video_frame"
	MediaThumbnail  MediaType = "thumbnail"
)

// Media belongs to exactly one Resource. A video_frame keeps the parent
// video's URL in SourceURL and the parent's position in VideoIndex.
type Media struct {
	ID         uuid.UUID `json:"id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Type       MediaType `json:"type"`
	SourceURL  string    `json:"source_url"`
	StorageURL string    `json:"storage_url,omitempty"`
	Uploaded   bool      `json:"uploaded"`
	Transcript string    `json:"transcript,omitempty"`
	VideoIndex int       `json:"video_index"`
	FrameIndex int       `json:"frame_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// Videos returns the resource's video media in stored order.
func (r *Resource) Videos() []Media {
	var out []Media
	for _, m := range r.Media {
		if m.Type == MediaVideo {
			out = append(out, m)
		}
	}
	return out
}

// ChatMessage is one entry of the per-resource conversational thread.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Seq        int       `json:"seq"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
