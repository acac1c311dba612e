// Package apiclient is the shared JSON-over-HTTP plumbing of the collaborator
// clients. Every failure comes back as *failure.ExternalError.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"analysis-pipeline/internal/failure"
)

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 2048
	maxBody        = 64 << 20
)

type Options struct {
	Service    string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	service string
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		service: opts.Service,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:  strings.TrimSpace(opts.APIKey),
		http:    httpClient,
	}
}

func (c *Client) Service() string { return c.service }

// GetJSON issues GET baseURL+path?query and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return c.fail(op, 0, nil, failure.Mark(failure.ErrValidation, "build request", err))
	}
	return c.do(req, op, out)
}

// PostJSON encodes in as the JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return c.fail(op, 0, nil, failure.Mark(failure.ErrProcessing, "encode request", err))
	}
	return c.PostBytes(ctx, op, path, "application/json", body, out)
}

// PostBytes sends a raw body and decodes the JSON response into out.
func (c *Client) PostBytes(ctx context.Context, op, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return c.fail(op, 0, nil, failure.Mark(failure.ErrValidation, "build request", err))
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail(op, 0, nil, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return c.fail(op, resp.StatusCode, nil, failure.Mark(failure.ErrNetwork, "read response", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(op, resp.StatusCode, raw, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return c.fail(op, 0, raw, failure.Mark(failure.ErrAPI, "decode response", err))
	}
	return nil
}

func (c *Client) fail(op string, status int, body []byte, err error) error {
	return &failure.ExternalError{
		Service:    c.service,
		Operation:  op,
		StatusCode: status,
		Body:       failure.Truncate(body, maxErrorBody),
		Err:        err,
	}
}
