package main

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/config"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/logger"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/repository/postgresql"
	"analysis-pipeline/internal/service"
)

// backend is what the commands operate on.
type backend struct {
	jobs    *service.JobService
	migrate func(ctx context.Context) error
	close   func()
}

type opener func(ctx context.Context) (*backend, error)

type commandContext struct {
	open opener

	once    sync.Once
	backend *backend
	err     error
}

func newCommandContext(open opener) *commandContext {
	return &commandContext{open: open}
}

func (c *commandContext) ensureBackend(ctx context.Context) (*backend, error) {
	c.once.Do(func() {
		c.backend, c.err = c.open(ctx)
	})
	return c.backend, c.err
}

func (c *commandContext) withJobs(ctx context.Context, fn func(*service.JobService) error) error {
	b, err := c.ensureBackend(ctx)
	if err != nil {
		return err
	}
	return fn(b.jobs)
}

func (c *commandContext) close() {
	if c.backend != nil && c.backend.close != nil {
		c.backend.close()
	}
}

// openPostgres builds the backend from the process configuration, the same
// way cmd/api does.
func openPostgres(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require("postgres", "redis"); err != nil {
		return nil, err
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel).Level(zerolog.WarnLevel)

	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	normal, retry := service.LanesFor(cfg.RedisQueueKey, cfg.RedisProcessingKey)
	queue := service.NewRedisPriorityQueue(rdb, cfg.RedisProcessingMapKey, normal, retry)

	jobs := postgresql.NewJobRepository(pool)
	l := ledger.New(postgresql.NewLedgerRepository(pool))
	retrier := pipeline.NewRetryCoordinator(jobs, l, service.NewRetryDispatcher(queue), log)
	svc := service.NewJobService(jobs, postgresql.NewResourceRepository(pool), postgresql.NewChatRepository(pool), l, queue, retrier,
		service.Options{MaxURLsPerJob: cfg.MaxURLsPerJob, MaxRetries: cfg.MaxRetries}, log)

	return &backend{
		jobs: svc,
		migrate: func(ctx context.Context) error {
			return postgresql.Migrate(ctx, pool)
		},
		close: func() {
			_ = rdb.Close()
			pool.Close()
		},
	}, nil
}
