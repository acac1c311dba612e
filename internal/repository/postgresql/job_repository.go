package postgresql

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"analysis-pipeline/internal/entity"
)

var ErrNotFound = entity.ErrNotFound

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) CreateJob(ctx context.Context, job *entity.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = entity.StatusPending
	}

	const q = `
INSERT INTO jobs (id, owner_id, platform, urls, status, retry_count, max_retries)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at;
`
	return r.pool.QueryRow(ctx, q,
		job.ID, job.OwnerID, string(job.Platform), job.URLs, string(job.Status), job.RetryCount, job.MaxRetries,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (r *JobRepository) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `
SELECT id, owner_id, platform, urls, status, retry_count, max_retries, last_stage,
       display_name, result, error_category, error_message, error_diagnostic,
       created_at, updated_at
FROM jobs
WHERE id = $1;
`
	var (
		job        entity.Job
		platform   string
		status     string
		lastStage  *string
		result     []byte
		errCat     *string
		errMsg     *string
		diagnostic []byte
	)
	if err := r.pool.QueryRow(ctx, q, id).Scan(
		&job.ID,
		&job.OwnerID,
		&platform,
		&job.URLs,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&lastStage,
		&job.DisplayName,
		&result,
		&errCat,
		&errMsg,
		&diagnostic,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	job.Platform = entity.Platform(platform)
	job.Status = entity.JobStatus(status)
	if lastStage != nil {
		st := entity.Stage(*lastStage)
		job.LastStage = &st
	}
	if result != nil {
		job.Result = json.RawMessage(result)
	}
	if errCat != nil {
		job.Error = &entity.JobError{Category: *errCat, Diagnostic: json.RawMessage(diagnostic)}
		if errMsg != nil {
			job.Error.Message = *errMsg
		}
	}
	return &job, nil
}

func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus) error {
	const q = `UPDATE jobs SET status=$2, updated_at=now() WHERE id=$1;`
	return r.exec(ctx, q, id, string(status))
}

func (r *JobRepository) SetDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	const q = `UPDATE jobs SET display_name=$2, updated_at=now() WHERE id=$1;`
	return r.exec(ctx, q, id, name)
}

func (r *JobRepository) SaveProgress(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error {
	const q = `UPDATE jobs SET last_stage=$2, result=COALESCE($3, result), updated_at=now() WHERE id=$1 AND status='processing';`
	return r.execProcessing(ctx, id, q, string(lastStage), nullJSON(result))
}

func (r *JobRepository) CompleteJob(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error {
	const q = `
UPDATE jobs
SET status='completed', last_stage=$2, result=$3,
    error_category=NULL, error_message=NULL, error_diagnostic=NULL, updated_at=now()
WHERE id=$1 AND status='processing';
`
	return r.execProcessing(ctx, id, q, string(lastStage), nullJSON(result))
}

func (r *JobRepository) FailJob(ctx context.Context, id uuid.UUID, lastStage *entity.Stage, jobErr entity.JobError) error {
	var stage *string
	if lastStage != nil {
		s := string(*lastStage)
		stage = &s
	}
	const q = `
UPDATE jobs
SET status='failed', last_stage=$2, error_category=$3, error_message=$4, error_diagnostic=$5, updated_at=now()
WHERE id=$1 AND status='processing';
`
	return r.execProcessing(ctx, id, q, stage, jobErr.Category, jobErr.Message, nullJSON(jobErr.Diagnostic))
}

// ResetForRetry is a conditional update so two concurrent retries cannot
// both consume the same budget slot.
func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int) error {
	const q = `
UPDATE jobs
SET status='pending', retry_count=retry_count+1,
    error_category=NULL, error_message=NULL, error_diagnostic=NULL, updated_at=now()
WHERE id=$1 AND status='failed' AND retry_count=$2 AND retry_count < max_retries;
`
	tag, err := r.pool.Exec(ctx, q, id, expectedRetryCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetJob(ctx, id); err != nil {
			return err
		}
		return entity.ErrConflict
	}
	return nil
}

func (r *JobRepository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// execProcessing runs an update guarded on status='processing' and reports
// entity.ErrConflict when the job exists in another status.
func (r *JobRepository) execProcessing(ctx context.Context, id uuid.UUID, q string, args ...any) error {
	err := r.exec(ctx, q, append([]any{id}, args...)...)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, err := r.GetJob(ctx, id); err != nil {
		return err
	}
	return entity.ErrConflict
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
