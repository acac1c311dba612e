package worker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrBadJobID marks queue payloads that can never be processed.
var ErrBadJobID = errors.New("bad job id")

// Runner is implemented by pipeline.Sequencer.
type Runner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

type Processor struct {
	runner Runner
	log    zerolog.Logger
}

func NewProcessor(runner Runner, log zerolog.Logger) *Processor {
	return &Processor{runner: runner, log: log}
}

// Process runs one claimed job. An error means the job's outcome could not
// be recorded.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.log.Error().Str("job_id", jobID).Err(err).Msg("parse job id")
		return errors.Join(ErrBadJobID, err)
	}
	log := p.log.With().Str("job_id", id.String()).Logger()

	if err := p.runner.Run(ctx, id); err != nil {
		log.Error().Err(err).Int64("duration_ms", time.Since(start).Milliseconds()).Msg("run failed")
		return err
	}
	log.Info().Int64("duration_ms", time.Since(start).Milliseconds()).Msg("run finished")
	return nil
}
