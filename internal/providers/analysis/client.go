// Package analysis is the HTTP client of the AI analysis backend.
package analysis

import (
	"context"
	"strings"
	"time"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/providers/apiclient"
)

const defaultModel = "content-analyst-v1"

type Client struct {
	api   *apiclient.Client
	model string
}

func New(model string, opts apiclient.Options) *Client {
	if opts.Service == "" {
		opts.Service = "analysis"
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Client{api: apiclient.New(opts), model: model}
}

type attachment struct {
	Type        entity.MediaType `json:"type"`
	ContentType string           `json:"content_type"`
	Data        []byte           `json:"data"`
}

type request struct {
	Model       string           `json:"model"`
	Platform    entity.Platform  `json:"platform"`
	URL         string           `json:"url"`
	Username    string           `json:"username"`
	Content     string           `json:"content"`
	PublishedAt time.Time        `json:"published_at"`
	Metrics     entity.Metrics   `json:"metrics,omitempty"`
	Comments    []entity.Comment `json:"comments,omitempty"`
	Transcripts []string         `json:"transcripts,omitempty"`
	Attachments []attachment     `json:"attachments,omitempty"`
}

type response struct {
	Analysis   string            `json:"analysis"`
	Highlights []string          `json:"highlights"`
	Usage      collab.TokenUsage `json:"usage"`
}

// Analyze posts the bundle to /v1/analyze. Attachments travel base64 encoded.
func (c *Client) Analyze(ctx context.Context, b collab.Bundle) (*collab.Analysis, error) {
	req := request{
		Model:       c.model,
		Platform:    b.Platform,
		URL:         b.URL,
		Username:    b.Username,
		Content:     b.Content,
		PublishedAt: b.PublishedAt,
		Metrics:     b.Metrics,
		Comments:    b.Comments,
		Transcripts: b.Transcripts,
	}
	for _, a := range b.Attachments {
		req.Attachments = append(req.Attachments, attachment{Type: a.Type, ContentType: a.ContentType, Data: a.Data})
	}

	var resp response
	if err := c.api.PostJSON(ctx, "analyze", "/v1/analyze", req, &resp); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Analysis)
	if text == "" {
		return nil, &failure.ExternalError{
			Service:   c.api.Service(),
			Operation: "analyze",
			Err:       failure.Mark(failure.ErrAPI, "empty analysis", nil),
		}
	}
	return &collab.Analysis{Text: text, Highlights: resp.Highlights, Usage: resp.Usage}, nil
}
