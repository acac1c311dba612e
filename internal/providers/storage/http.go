package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"analysis-pipeline/internal/failure"
)

const defaultMaxMediaBytes = 200 << 20

// HTTPDownloader fetches media bytes from public URLs.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPDownloader(timeout time.Duration, maxBytes int64) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxMediaBytes
	}
	return &HTTPDownloader{client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &failure.ExternalError{Service: "media", Operation: "download", Err: failure.Mark(failure.ErrValidation, "build request", err)}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &failure.ExternalError{Service: "media", Operation: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &failure.ExternalError{Service: "media", Operation: "download", StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, &failure.ExternalError{Service: "media", Operation: "download", Err: failure.Mark(failure.ErrNetwork, "read body", err)}
	}
	if int64(len(data)) > d.maxBytes {
		return nil, &failure.ExternalError{Service: "media", Operation: "download", Err: failure.Mark(failure.ErrValidation, fmt.Sprintf("media larger than %d bytes", d.maxBytes), nil)}
	}
	return data, nil
}
