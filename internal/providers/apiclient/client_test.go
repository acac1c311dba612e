package apiclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/providers/apiclient"
)

func TestGetJSON_DecodesAndSendsKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("q") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Options{Service: "test", BaseURL: srv.URL + "/", APIKey: "secret"})
	var out struct {
		Name string `json:"name"`
	}
	if err := c.GetJSON(context.Background(), "get", "/thing", url.Values{"q": {"1"}}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Name != "ok" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestErrorsAreClassifiable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   failure.Category
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, failure.RateLimit},
		{"quota", http.StatusPaymentRequired, "", failure.QuotaExceeded},
		{"not found", http.StatusNotFound, "", failure.ValidationError},
		{"server error", http.StatusInternalServerError, "oops", failure.APIError},
		{"bad json", http.StatusOK, "{", failure.APIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := apiclient.New(apiclient.Options{Service: "test", BaseURL: srv.URL})
			var out map[string]any
			err := c.PostJSON(context.Background(), "post", "/x", map[string]string{"a": "b"}, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			var ext *failure.ExternalError
			if !errors.As(err, &ext) || ext.Service != "test" || ext.Operation != "post" {
				t.Fatalf("expected ExternalError, got %T %v", err, err)
			}
			if got, _ := failure.Classify(err); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := apiclient.New(apiclient.Options{Service: "test", BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	err := c.GetJSON(context.Background(), "get", "/", nil, nil)
	if got, _ := failure.Classify(err); got != failure.Timeout {
		t.Fatalf("expected timeout, got %s (%v)", got, err)
	}
}
