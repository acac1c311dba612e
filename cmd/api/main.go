// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"analysis-pipeline/internal/config"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/logger"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/repository/postgresql"
	"analysis-pipeline/internal/service"
	httptransport "analysis-pipeline/internal/transport/http"
)

// @title Analysis Pipeline API
// @version 1.0
// @description Submit social media links, follow their progress and read the analysis.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		boot := logger.New("", "")
		boot.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err := cfg.Require("postgres", "redis"); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()
	if err := postgresql.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	defer rdb.Close()

	normal, retry := service.LanesFor(cfg.RedisQueueKey, cfg.RedisProcessingKey)
	queue := service.NewRedisPriorityQueue(rdb, cfg.RedisProcessingMapKey, normal, retry)

	jobs := postgresql.NewJobRepository(pool)
	l := ledger.New(postgresql.NewLedgerRepository(pool))
	resources := postgresql.NewResourceRepository(pool)

	retrier := pipeline.NewRetryCoordinator(jobs, l, service.NewRetryDispatcher(queue), log)
	jobSvc := service.NewJobService(jobs, resources, postgresql.NewChatRepository(pool), l, queue, retrier,
		service.Options{MaxURLsPerJob: cfg.MaxURLsPerJob, MaxRetries: cfg.MaxRetries}, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(jobSvc, log), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Int("max_urls_per_job", cfg.MaxURLsPerJob).
		Int("max_retries", cfg.MaxRetries).
		Msg("api started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http")
	}
	log.Info().Msg("api stopped")
}
