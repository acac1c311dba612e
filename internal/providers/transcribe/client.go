// Package transcribe is the HTTP client of the speech-to-text backend.
package transcribe

import (
	"context"
	"strings"

	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/providers/apiclient"
)

type Client struct {
	api *apiclient.Client
}

func New(opts apiclient.Options) *Client {
	if opts.Service == "" {
		opts.Service = "transcribe"
	}
	return &Client{api: apiclient.New(opts)}
}

type response struct {
	Text string `json:"text"`
}

// Transcribe uploads a WAV payload to /v1/transcriptions.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", failure.Mark(failure.ErrValidation, "empty audio", nil)
	}
	var resp response
	if err := c.api.PostBytes(ctx, "transcribe", "/v1/transcriptions", "audio/wav", audio, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}
