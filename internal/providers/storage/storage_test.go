package storage_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/providers/storage"
)

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("bytes"))
		case "/big":
			_, _ = w.Write(make([]byte, 64))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	d := storage.NewHTTPDownloader(time.Second, 32)
	ctx := context.Background()

	data, err := d.Download(ctx, srv.URL+"/ok")
	if err != nil || string(data) != "bytes" {
		t.Fatalf("unexpected download %q %v", data, err)
	}
	if _, err := d.Download(ctx, srv.URL+"/big"); err == nil {
		t.Fatal("expected size limit error")
	} else if c, _ := failure.Classify(err); c != failure.ValidationError {
		t.Fatalf("expected validation_error, got %s", c)
	}
	if _, err := d.Download(ctx, srv.URL+"/missing"); err == nil {
		t.Fatal("expected status error")
	} else if c, _ := failure.Classify(err); c != failure.APIError {
		t.Fatalf("expected api_error for 403, got %s", c)
	}
}

func TestMinioStore_ObjectKey(t *testing.T) {
	s, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  "minio.local:9000",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "media",
	}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	url := s.PublicURL("resources/1/image_00.jpg")
	if url != "http://minio.local:9000/media/resources/1/image_00.jpg" {
		t.Fatalf("unexpected public url %s", url)
	}
	key, ok := s.ObjectKey(url)
	if !ok || key != "resources/1/image_00.jpg" {
		t.Fatalf("unexpected key %q %v", key, ok)
	}
	if _, ok := s.ObjectKey("https://cdn.instagram.test/a.jpg"); ok {
		t.Fatal("foreign url must not map to a key")
	}
	if _, err := s.Download(context.Background(), "https://cdn.instagram.test/a.jpg"); err == nil {
		t.Fatal("expected error for foreign url without fallback")
	}
}
