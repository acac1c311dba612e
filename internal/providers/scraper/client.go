// Package scraper is the HTTP content-fetcher collaborator. One Client serves
// one platform family.
package scraper

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/providers/apiclient"
)

type Client struct {
	platform entity.Platform
	api      *apiclient.Client
}

func New(platform entity.Platform, opts apiclient.Options) *Client {
	if opts.Service == "" {
		opts.Service = "scraper:" + string(platform)
	}
	return &Client{platform: platform, api: apiclient.New(opts)}
}

// NewSet builds one client per supported platform sharing opts.
func NewSet(opts apiclient.Options, platforms ...entity.Platform) map[entity.Platform]collab.Fetcher {
	out := make(map[entity.Platform]collab.Fetcher, len(platforms))
	for _, p := range platforms {
		out[p] = New(p, opts)
	}
	return out
}

type postResponse struct {
	Post  collab.Post       `json:"post"`
	Media []collab.MediaRef `json:"media"`
}

// Fetch calls GET /v1/{platform}/posts. Metrics mode asks the backend for the
// counters only.
func (c *Client) Fetch(ctx context.Context, rawURL string, mode collab.FetchMode) (*collab.FetchResult, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, failure.Mark(failure.ErrValidation, "empty url", nil)
	}
	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("mode", mode.String())

	var resp postResponse
	if err := c.api.GetJSON(ctx, "fetch_"+mode.String(), "/v1/"+string(c.platform)+"/posts", q, &resp); err != nil {
		return nil, err
	}

	if mode == collab.FetchFull && strings.TrimSpace(resp.Post.NativeID) == "" {
		return nil, &failure.ExternalError{
			Service:   c.api.Service(),
			Operation: "fetch_full",
			Err:       failure.Mark(failure.ErrAPI, "response without post id", errors.New(rawURL)),
		}
	}
	media := resp.Media[:0]
	for _, m := range resp.Media {
		if strings.TrimSpace(m.URL) == "" {
			continue
		}
		if m.Type == "" {
			m.Type = entity.MediaImage
		}
		media = append(media, m)
	}
	return &collab.FetchResult{Post: resp.Post, Media: media}, nil
}
