package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PIPELINE_CONFIG", "APP_ENV", "LOG_LEVEL", "POSTGRES_DSN", "REDIS_ADDR", "WORKERS",
		"MAX_RETRIES", "MAX_URLS_PER_JOB", "ANALYZE_CONCURRENCY", "MINIO_USE_SSL", "REDIS_PROCESSING_MAP_KEY", "MINIO_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MaxURLsPerJob != 1 || cfg.MaxRetries != 3 || cfg.FramesPerVideo != 5 || cfg.AnalyzeConcurrency != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RedisProcessingMapKey != "jobs:processing:map" {
		t.Fatalf("processing map key mismatch: %q", cfg.RedisProcessingMapKey)
	}
	if err := cfg.Require("postgres"); err == nil {
		t.Fatal("expected missing POSTGRES_DSN")
	}
	if err := cfg.Require("minio"); err == nil {
		t.Fatal("expected missing MINIO_ENDPOINT")
	}
	if err := cfg.Require("kafka"); err == nil {
		t.Fatal("expected unknown setting error")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "pipeline.toml")
	body := `
postgres_dsn = "postgres://file@db/pipeline"
workers = 8
max_urls_per_job = 5
minio_use_ssl = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG", path)
	t.Setenv("WORKERS", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.PostgresDSN != "postgres://file@db/pipeline" {
		t.Fatalf("dsn from file not applied: %q", cfg.PostgresDSN)
	}
	if cfg.Workers != 2 {
		t.Fatalf("env must override file, got workers=%d", cfg.Workers)
	}
	if cfg.MaxURLsPerJob != 5 || !cfg.MinioUseSSL {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("REDIS_ADDR=localhost:6390\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.RedisAddr != "localhost:6390" {
		t.Fatalf("expected REDIS_ADDR from .env, got %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("MAX_RETRIES", "-1")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("PIPELINE_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unreadable config file")
	}
}

func TestRedactDSN(t *testing.T) {
	tests := []struct{ in, want string }{
		{"postgres://app:s3cret@db:5432/pipeline?sslmode=disable", "postgres://app:****@db:5432/pipeline?sslmode=disable"},
		{"postgres://app@db/pipeline", "postgres://app@db/pipeline"},
	}
	for _, tt := range tests {
		if got := RedactDSN(tt.in); got != tt.want {
			t.Fatalf("RedactDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
