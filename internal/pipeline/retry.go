package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/ledger"
)

// ErrRetryPrecondition is returned when a job may not be retried. Nothing is
// mutated when it is returned.
var ErrRetryPrecondition = errors.New("retry precondition not met")

// Dispatcher hands a job back to the workers.
type Dispatcher interface {
	DispatchRetry(ctx context.Context, jobID uuid.UUID) error
}

type RetryCoordinator struct {
	jobs       JobStore
	ledger     *ledger.Ledger
	dispatcher Dispatcher
	log        zerolog.Logger
}

func NewRetryCoordinator(jobs JobStore, l *ledger.Ledger, dispatcher Dispatcher, log zerolog.Logger) *RetryCoordinator {
	return &RetryCoordinator{
		jobs:       jobs,
		ledger:     l,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "retry").Logger(),
	}
}

// Retry validates eligibility, resets the job and re-enqueues it. A retried
// run always restarts from collection.
func (c *RetryCoordinator) Retry(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != entity.StatusFailed {
		return nil, fmt.Errorf("%w: job is %s, not failed", ErrRetryPrecondition, job.Status)
	}
	if !job.CanRetry() {
		return nil, fmt.Errorf("%w: retry budget of %d exhausted", ErrRetryPrecondition, job.MaxRetries)
	}
	latest, err := c.ledger.LatestError(ctx, jobID)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		return nil, fmt.Errorf("%w: no error recorded", ErrRetryPrecondition)
	case err != nil:
		return nil, eris.Wrap(err, "read latest error")
	case !latest.Retryable:
		return nil, fmt.Errorf("%w: last error %s is not retryable", ErrRetryPrecondition, latest.ErrorCode)
	}

	if err := c.jobs.ResetForRetry(ctx, jobID, job.RetryCount); err != nil {
		if errors.Is(err, entity.ErrConflict) {
			return nil, fmt.Errorf("%w: job changed concurrently", ErrRetryPrecondition)
		}
		return nil, eris.Wrap(err, "reset job")
	}
	attempt := job.RetryCount + 1

	log := c.log.With().Str("job_id", jobID.String()).Int("attempt", attempt).Logger()
	if _, err := c.ledger.Record(ctx, jobID, attempt, entity.StageRetrying, entity.StageRetrying.Progress(),
		fmt.Sprintf("Retrying (attempt %d of %d)", attempt, job.MaxRetries),
		map[string]any{"previous_error": latest.ErrorCode}); err != nil {
		return nil, eris.Wrap(err, "record retrying")
	}
	if err := c.dispatcher.DispatchRetry(ctx, jobID); err != nil {
		return nil, eris.Wrap(err, "enqueue retry")
	}
	log.Info().Str("previous_error", latest.ErrorCode).Msg("job re-enqueued")

	return c.jobs.GetJob(ctx, jobID)
}
