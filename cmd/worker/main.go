// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/config"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/logger"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/providers/analysis"
	"analysis-pipeline/internal/providers/apiclient"
	"analysis-pipeline/internal/providers/ffmpeg"
	"analysis-pipeline/internal/providers/scraper"
	"analysis-pipeline/internal/providers/storage"
	"analysis-pipeline/internal/providers/transcribe"
	"analysis-pipeline/internal/repository/postgresql"
	"analysis-pipeline/internal/service"
	"analysis-pipeline/internal/telemetry"
	"analysis-pipeline/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("", "")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err := cfg.Require("postgres", "redis", "scraper", "analysis", "minio"); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	defer rdb.Close()

	normal, retry := service.LanesFor(cfg.RedisQueueKey, cfg.RedisProcessingKey)
	queue := service.NewRedisPriorityQueue(rdb, cfg.RedisProcessingMapKey, normal, retry)

	// Collaborators
	downloader := storage.NewHTTPDownloader(cfg.CollaboratorTimeout(), cfg.MediaMaxBytes)
	media, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		PublicURL: cfg.MinioPublicURL,
	}, downloader, log)
	if err != nil {
		log.Fatal().Err(err).Msg("minio")
	}
	if err := media.EnsureBucket(ctx); err != nil {
		log.Fatal().Err(err).Msg("minio bucket")
	}

	fetchers := scraper.NewSet(apiclient.Options{
		BaseURL: cfg.ScraperBaseURL,
		APIKey:  cfg.ScraperAPIKey,
		Timeout: cfg.CollaboratorTimeout(),
	}, entity.PlatformInstagram, entity.PlatformTikTok, entity.PlatformYouTube, entity.PlatformTwitter)

	analyst := analysis.New(cfg.AnalysisModel, apiclient.Options{
		BaseURL: cfg.AnalysisBaseURL,
		APIKey:  cfg.AnalysisAPIKey,
		Timeout: cfg.CollaboratorTimeout(),
	})

	var transcriber collab.Transcriber
	if cfg.TranscribeBaseURL != "" {
		transcriber = transcribe.New(apiclient.Options{
			BaseURL: cfg.TranscribeBaseURL,
			APIKey:  cfg.TranscribeAPIKey,
			Timeout: cfg.CollaboratorTimeout(),
		})
	} else {
		log.Warn().Msg("TRANSCRIBE_BASE_URL not set, videos will not be transcribed")
	}

	// Repositories
	jobs := postgresql.NewJobRepository(pool)
	resources := postgresql.NewResourceRepository(pool)
	chat := postgresql.NewChatRepository(pool)
	l := ledger.New(postgresql.NewLedgerRepository(pool))

	// Telemetry
	var sink telemetry.Sink = telemetry.NewLogSink(log.With().Str("component", "events").Logger())
	if cfg.TelemetryStreamKey != "" {
		sink = telemetry.NewStreamSink(rdb, cfg.TelemetryStreamKey, 0)
	}
	events := telemetry.NewBatcher(sink, telemetry.Options{
		BatchSize:     cfg.TelemetryBatchSize,
		FlushInterval: cfg.TelemetryFlushInterval(),
		QueueSize:     cfg.TelemetryQueueSize,
	}, log)

	// Pipeline
	sequencer := pipeline.NewSequencer(
		jobs,
		resources,
		l,
		pipeline.NewCollector(fetchers, resources, l, downloader, media, log),
		pipeline.NewMediaStage(resources, ffmpeg.New(cfg.FFmpegBin, cfg.FFprobeBin, log), transcriber, media,
			pipeline.MediaOptions{FramesPerVideo: cfg.FramesPerVideo, AudioMaxSeconds: cfg.AudioMaxSeconds}, log),
		pipeline.NewAnalyzerStage(analyst, chat, media, cfg.AnalyzeConcurrency, log),
		events,
		log,
	)

	go reap(ctx, queue, cfg, log)

	log.Info().
		Int("workers", cfg.Workers).
		Str("redis_addr", cfg.RedisAddr).
		Str("queue_key", cfg.RedisQueueKey).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Int("analyze_concurrency", cfg.AnalyzeConcurrency).
		Msg("worker started")

	workers := worker.NewPool(queue, worker.NewProcessor(sequencer, log), cfg.Workers, log)
	workers.SetHeartbeat(cfg.RequeueStaleAfter() / 3)
	workers.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := events.Close(closeCtx); err != nil {
		log.Warn().Err(err).Msg("telemetry drain")
	}
	log.Info().Int64("events_dropped", events.Dropped()).Msg("worker stopped")
}

// reap periodically returns stale claims from processing to their queue
// (worker crash or restart).
func reap(ctx context.Context, queue service.Queue, cfg *config.Config, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.RequeueInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := queue.RequeueStale(ctx, cfg.RequeueStaleAfter(), 100)
			if err != nil {
				log.Error().Err(err).Msg("requeue stale")
				continue
			}
			if n > 0 {
				log.Info().Int64("requeued", n).Msg("requeued stale jobs")
			}
		}
	}
}
