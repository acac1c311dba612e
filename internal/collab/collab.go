// Package collab holds the contracts of the external collaborators the
// pipeline calls: content fetchers, the AI analysis backend, durable
// storage, frame extraction and transcription. Implementations live under
// internal/providers and report failures as *failure.ExternalError.
package collab

import (
	"context"
	"time"

	"analysis-pipeline/internal/entity"
)

type FetchMode int

const (
	// FetchFull returns content, comments, metrics and media references.
	FetchFull FetchMode = iota
	// FetchMetrics only refreshes the metrics bag of a known resource.
	FetchMetrics
)

func (m FetchMode) String() string {
	if m == FetchMetrics {
		return "metrics"
	}
	return "full"
}

// Post is the resource payload returned by a fetcher.
type Post struct {
	NativeID    string           `json:"id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Content     string           `json:"content"`
	URL         string           `json:"url"`
	PublishedAt time.Time        `json:"published_at"`
	Metrics     entity.Metrics   `json:"metrics"`
	Comments    []entity.Comment `json:"comments"`
}

type MediaRef struct {
	URL  string           `json:"url"`
	Type entity.MediaType `json:"type"`
}

type FetchResult struct {
	Post  Post       `json:"post"`
	Media []MediaRef `json:"media"`
}

// Fetcher is one content-fetching backend per platform family.
type Fetcher interface {
	Fetch(ctx context.Context, url string, mode FetchMode) (*FetchResult, error)
}

// Downloader retrieves raw media bytes from a URL.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Storage is durable blob storage for media.
type Storage interface {
	Upload(ctx context.Context, data []byte, path, contentType string) (string, error)
	Downloader
}

// FrameExtractor pulls stills and audio out of a video payload.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, video []byte, count int) ([][]byte, error)
	ExtractAudio(ctx context.Context, video []byte, maxSeconds int) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Attachment struct {
	Type        entity.MediaType
	ContentType string
	Data        []byte
}

// Bundle is the context handed to the AI analysis backend for one resource.
type Bundle struct {
	Platform    entity.Platform
	URL         string
	Username    string
	Content     string
	PublishedAt time.Time
	Metrics     entity.Metrics
	Comments    []entity.Comment
	Attachments []Attachment
	Transcripts []string
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Analysis struct {
	Text       string     `json:"text"`
	Highlights []string   `json:"highlights"`
	Usage      TokenUsage `json:"usage"`
}

type Analyzer interface {
	Analyze(ctx context.Context, bundle Bundle) (*Analysis, error)
}
