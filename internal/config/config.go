// Package config loads process configuration: .env first, then an optional
// TOML file named by PIPELINE_CONFIG, then environment variables on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	AppEnv   string `toml:"app_env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`

	PostgresDSN           string `toml:"postgres_dsn"`
	RedisAddr             string `toml:"redis_addr"`
	RedisQueueKey         string `toml:"redis_queue_key"`
	RedisProcessingKey    string `toml:"redis_processing_key"`
	RedisProcessingMapKey string `toml:"redis_processing_map_key"`

	Workers                int `toml:"workers"`
	MaxRetries             int `toml:"max_retries"`
	MaxURLsPerJob          int `toml:"max_urls_per_job"`
	FramesPerVideo         int `toml:"frames_per_video"`
	AudioMaxSeconds        int `toml:"audio_max_seconds"`
	AnalyzeConcurrency     int `toml:"analyze_concurrency"`
	RequeueIntervalSeconds int `toml:"requeue_interval_seconds"`
	RequeueStaleSeconds    int `toml:"requeue_stale_seconds"`

	ScraperBaseURL             string `toml:"scraper_base_url"`
	ScraperAPIKey              string `toml:"scraper_api_key"`
	AnalysisBaseURL            string `toml:"analysis_base_url"`
	AnalysisAPIKey             string `toml:"analysis_api_key"`
	AnalysisModel              string `toml:"analysis_model"`
	TranscribeBaseURL          string `toml:"transcribe_base_url"`
	TranscribeAPIKey           string `toml:"transcribe_api_key"`
	CollaboratorTimeoutSeconds int    `toml:"collaborator_timeout_seconds"`
	MediaMaxBytes              int64  `toml:"media_max_bytes"`

	MinioEndpoint  string `toml:"minio_endpoint"`
	MinioAccessKey string `toml:"minio_access_key"`
	MinioSecretKey string `toml:"minio_secret_key"`
	MinioBucket    string `toml:"minio_bucket"`
	MinioUseSSL    bool   `toml:"minio_use_ssl"`
	MinioPublicURL string `toml:"minio_public_url"`

	FFmpegBin  string `toml:"ffmpeg_bin"`
	FFprobeBin string `toml:"ffprobe_bin"`

	TelemetryBatchSize    int    `toml:"telemetry_batch_size"`
	TelemetryFlushSeconds int    `toml:"telemetry_flush_seconds"`
	TelemetryQueueSize    int    `toml:"telemetry_queue_size"`
	TelemetryStreamKey    string `toml:"telemetry_stream_key"`
}

func Default() Config {
	return Config{
		AppEnv:                     "production",
		LogLevel:                   "info",
		HTTPAddr:                   ":8080",
		RedisQueueKey:              "jobs:queue",
		RedisProcessingKey:         "jobs:processing",
		Workers:                    4,
		MaxRetries:                 3,
		MaxURLsPerJob:              1,
		FramesPerVideo:             5,
		AudioMaxSeconds:            180,
		AnalyzeConcurrency:         1,
		RequeueIntervalSeconds:     30,
		RequeueStaleSeconds:        900,
		AnalysisModel:              "content-analyst-v1",
		CollaboratorTimeoutSeconds: 60,
		MediaMaxBytes:              200 << 20,
		MinioBucket:                "pipeline-media",
		FFmpegBin:                  "ffmpeg",
		FFprobeBin:                 "ffprobe",
		TelemetryBatchSize:         50,
		TelemetryFlushSeconds:      5,
		TelemetryQueueSize:         1024,
		TelemetryStreamKey:         "pipeline:events",
	}
}

// Load reads the configuration. A missing .env is not an error; a
// PIPELINE_CONFIG that cannot be read is.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("PIPELINE_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	envStr(&c.AppEnv, "APP_ENV")
	envStr(&c.LogLevel, "LOG_LEVEL")
	envStr(&c.HTTPAddr, "HTTP_ADDR")
	envStr(&c.PostgresDSN, "POSTGRES_DSN")
	envStr(&c.RedisAddr, "REDIS_ADDR")
	envStr(&c.RedisQueueKey, "REDIS_QUEUE_KEY")
	envStr(&c.RedisProcessingKey, "REDIS_PROCESSING_KEY")
	envStr(&c.RedisProcessingMapKey, "REDIS_PROCESSING_MAP_KEY")

	envInt(&c.Workers, "WORKERS")
	envInt(&c.MaxRetries, "MAX_RETRIES")
	envInt(&c.MaxURLsPerJob, "MAX_URLS_PER_JOB")
	envInt(&c.FramesPerVideo, "FRAMES_PER_VIDEO")
	envInt(&c.AudioMaxSeconds, "AUDIO_MAX_SECONDS")
	envInt(&c.AnalyzeConcurrency, "ANALYZE_CONCURRENCY")
	envInt(&c.RequeueIntervalSeconds, "REQUEUE_INTERVAL_SECONDS")
	envInt(&c.RequeueStaleSeconds, "REQUEUE_STALE_SECONDS")

	envStr(&c.ScraperBaseURL, "SCRAPER_BASE_URL")
	envStr(&c.ScraperAPIKey, "SCRAPER_API_KEY")
	envStr(&c.AnalysisBaseURL, "ANALYSIS_BASE_URL")
	envStr(&c.AnalysisAPIKey, "ANALYSIS_API_KEY")
	envStr(&c.AnalysisModel, "ANALYSIS_MODEL")
	envStr(&c.TranscribeBaseURL, "TRANSCRIBE_BASE_URL")
	envStr(&c.TranscribeAPIKey, "TRANSCRIBE_API_KEY")
	envInt(&c.CollaboratorTimeoutSeconds, "COLLABORATOR_TIMEOUT_SECONDS")
	if v, ok := os.LookupEnv("MEDIA_MAX_BYTES"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			c.MediaMaxBytes = n
		}
	}

	envStr(&c.MinioEndpoint, "MINIO_ENDPOINT")
	envStr(&c.MinioAccessKey, "MINIO_ACCESS_KEY")
	envStr(&c.MinioSecretKey, "MINIO_SECRET_KEY")
	envStr(&c.MinioBucket, "MINIO_BUCKET")
	envBool(&c.MinioUseSSL, "MINIO_USE_SSL")
	envStr(&c.MinioPublicURL, "MINIO_PUBLIC_URL")
	envStr(&c.FFmpegBin, "FFMPEG_BIN")
	envStr(&c.FFprobeBin, "FFPROBE_BIN")

	envInt(&c.TelemetryBatchSize, "TELEMETRY_BATCH_SIZE")
	envInt(&c.TelemetryFlushSeconds, "TELEMETRY_FLUSH_SECONDS")
	envInt(&c.TelemetryQueueSize, "TELEMETRY_QUEUE_SIZE")
	envStr(&c.TelemetryStreamKey, "TELEMETRY_STREAM_KEY")
}

func (c *Config) normalize() {
	c.AppEnv = strings.ToLower(strings.TrimSpace(c.AppEnv))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.RedisProcessingMapKey == "" {
		c.RedisProcessingMapKey = c.RedisProcessingKey + ":map"
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.AnalyzeConcurrency <= 0 {
		c.AnalyzeConcurrency = 1
	}
	if c.FramesPerVideo <= 0 {
		c.FramesPerVideo = 5
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.MaxURLsPerJob <= 0 {
		errs = append(errs, errors.New("max_urls_per_job must be positive"))
	}
	if c.AudioMaxSeconds <= 0 {
		errs = append(errs, errors.New("audio_max_seconds must be positive"))
	}
	if c.CollaboratorTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("collaborator_timeout_seconds must be positive"))
	}
	if c.MinioEndpoint != "" && c.MinioBucket == "" {
		errs = append(errs, errors.New("minio_bucket is required with minio_endpoint"))
	}
	return errors.Join(errs...)
}

// Require reports the first of the named settings that is empty.
// Known names: postgres, redis, scraper, analysis, minio.
func (c *Config) Require(names ...string) error {
	for _, name := range names {
		var key, value string
		switch name {
		case "postgres":
			key, value = "POSTGRES_DSN", c.PostgresDSN
		case "redis":
			key, value = "REDIS_ADDR", c.RedisAddr
		case "scraper":
			key, value = "SCRAPER_BASE_URL", c.ScraperBaseURL
		case "analysis":
			key, value = "ANALYSIS_BASE_URL", c.AnalysisBaseURL
		case "minio":
			key, value = "MINIO_ENDPOINT", c.MinioEndpoint
		default:
			return fmt.Errorf("unknown setting %q", name)
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("missing env: %s", key)
		}
	}
	return nil
}

func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.CollaboratorTimeoutSeconds) * time.Second
}

func (c *Config) TelemetryFlushInterval() time.Duration {
	return time.Duration(c.TelemetryFlushSeconds) * time.Second
}

func (c *Config) RequeueInterval() time.Duration {
	return time.Duration(c.RequeueIntervalSeconds) * time.Second
}

func (c *Config) RequeueStaleAfter() time.Duration {
	return time.Duration(c.RequeueStaleSeconds) * time.Second
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		*dst = i
	}
}

func envBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		*dst = b
	}
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL style DSN: user:pass@ -> user:****@.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
