package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/service"
)

type Pool struct {
	queue      service.Queue
	processor  *Processor
	workers    int
	claimDelay time.Duration
	heartbeat  time.Duration
	log        zerolog.Logger
}

func NewPool(queue service.Queue, processor *Processor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:      queue,
		processor:  processor,
		workers:    workers,
		claimDelay: 5 * time.Second,
		heartbeat:  30 * time.Second,
		log:        log.With().Str("component", "worker").Logger(),
	}
}

// SetHeartbeat sets how often the claim of a running job is refreshed. It
// must stay well below the reaper's stale threshold.
func (p *Pool) SetHeartbeat(d time.Duration) {
	if d > 0 {
		p.heartbeat = d
	}
}

// Run claims jobs until ctx is done, then waits for in-flight jobs. A job
// in flight is run to completion: stages are never cancelled midway.
func (p *Pool) Run(ctx context.Context) {
	p.log.Info().Int("workers", p.workers).Msg("worker pool started")

	jobCh := make(chan string)
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			log := p.log.With().Int("worker", n).Logger()
			for jobID := range jobCh {
				err := p.process(work, jobID, log)
				// A failed run keeps its claim; the reaper hands it out again
				// and the next run records it as interrupted.
				if err != nil && !errors.Is(err, ErrBadJobID) && !errors.Is(err, entity.ErrNotFound) {
					log.Warn().Str("job_id", jobID).Err(err).Msg("job left claimed")
					continue
				}
				if ackErr := p.queue.Ack(work, jobID); ackErr != nil {
					log.Error().Str("job_id", jobID).Err(ackErr).Msg("ack job")
				}
			}
		}(i + 1)
	}

	defer func() {
		close(jobCh)
		wg.Wait()
		p.log.Info().Msg("worker pool stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.ClaimBlocking(ctx, p.claimDelay)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("claim job")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
			}
			continue
		}
		select {
		case jobCh <- jobID:
		case <-ctx.Done():
			// claimed but not started; the reaper returns it to the queue
			return
		}
	}
}

// process runs one job while refreshing its claim.
func (p *Pool) process(ctx context.Context, jobID string, log zerolog.Logger) error {
	stop := make(chan struct{})
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		ticker := time.NewTicker(p.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := p.queue.Touch(ctx, jobID); err != nil {
					log.Warn().Str("job_id", jobID).Err(err).Msg("refresh claim")
				}
			}
		}
	}()

	err := p.processor.Process(ctx, jobID)
	close(stop)
	hb.Wait()
	return err
}
