// Package storage holds the durable media store on MinIO/S3 and the plain
// HTTP downloader used for platform CDN links.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/failure"
)

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL overrides the base of returned object URLs, e.g. a CDN in
	// front of the bucket. It must end up addressing the same objects.
	PublicURL string
}

type MinioStore struct {
	client   *minio.Client
	bucket   string
	base     string
	fallback *HTTPDownloader
	log      zerolog.Logger
}

func NewMinioStore(cfg MinioConfig, fallback *HTTPDownloader, log zerolog.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	protocol := "http"
	if cfg.UseSSL {
		protocol = "https"
	}
	base := fmt.Sprintf("%s://%s/%s/", protocol, cfg.Endpoint, cfg.Bucket)
	if pub := strings.TrimSpace(cfg.PublicURL); pub != "" {
		base = strings.TrimRight(pub, "/") + "/"
	}
	return &MinioStore{
		client:   client,
		bucket:   cfg.Bucket,
		base:     base,
		fallback: fallback,
		log:      log.With().Str("component", "storage").Logger(),
	}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.log.Info().Str("bucket", s.bucket).Msg("bucket created")
	}
	return nil
}

// Upload stores data under path and returns its public URL.
func (s *MinioStore) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	key := strings.TrimLeft(path, "/")
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", s.fail("upload", err)
	}
	return s.PublicURL(key), nil
}

// Download reads an object this store produced; other URLs go through the
// HTTP fallback.
func (s *MinioStore) Download(ctx context.Context, url string) ([]byte, error) {
	key, ok := s.ObjectKey(url)
	if !ok {
		if s.fallback == nil {
			return nil, &failure.ExternalError{Service: "storage", Operation: "download", Err: failure.Mark(failure.ErrValidation, "foreign url "+url, nil)}
		}
		return s.fallback.Download(ctx, url)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.fail("download", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.fail("download", err)
	}
	return data, nil
}

func (s *MinioStore) PublicURL(key string) string {
	return s.base + key
}

// ObjectKey maps a public URL back to its object key.
func (s *MinioStore) ObjectKey(url string) (string, bool) {
	if !strings.HasPrefix(url, s.base) {
		return "", false
	}
	key := strings.TrimPrefix(url, s.base)
	return key, key != ""
}

func (s *MinioStore) fail(op string, err error) error {
	ext := &failure.ExternalError{Service: "storage", Operation: op, Err: err}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		ext.StatusCode = resp.StatusCode
		ext.Body = resp.Code
	}
	return ext
}
