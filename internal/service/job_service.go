package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/platform"
)

// ErrInvalidSubmission is returned when a submission is rejected before any
// state is written.
var ErrInvalidSubmission = errors.New("invalid submission")

// JobRepository is the job persistence port (implementations:
// postgresql.JobRepository, memory.Store).
type JobRepository interface {
	CreateJob(ctx context.Context, job *entity.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus) error
}

type ResourceReader interface {
	GetResource(ctx context.Context, id uuid.UUID) (*entity.Resource, error)
	ListJobResources(ctx context.Context, jobID uuid.UUID) ([]entity.Resource, error)
}

type ThreadReader interface {
	ListThread(ctx context.Context, resourceID uuid.UUID) ([]entity.ChatMessage, error)
}

// JobQueue is the enqueue half of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string, priority Priority) error
}

// Retrier is implemented by pipeline.RetryCoordinator.
type Retrier interface {
	Retry(ctx context.Context, jobID uuid.UUID) (*entity.Job, error)
}

type Options struct {
	MaxURLsPerJob int
	MaxRetries    int
}

type JobService struct {
	jobs      JobRepository
	resources ResourceReader
	threads   ThreadReader
	ledger    *ledger.Ledger
	queue     JobQueue
	retrier   Retrier
	opts      Options
	log       zerolog.Logger
}

func NewJobService(
	jobs JobRepository,
	resources ResourceReader,
	threads ThreadReader,
	l *ledger.Ledger,
	queue JobQueue,
	retrier Retrier,
	opts Options,
	log zerolog.Logger,
) *JobService {
	if opts.MaxURLsPerJob <= 0 {
		opts.MaxURLsPerJob = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &JobService{
		jobs:      jobs,
		resources: resources,
		threads:   threads,
		ledger:    l,
		queue:     queue,
		retrier:   retrier,
		opts:      opts,
		log:       log.With().Str("component", "jobs").Logger(),
	}
}

type SubmitRequest struct {
	OwnerID  string
	Platform entity.Platform
	URLs     []string
}

// Submit validates the request, creates the job with its request_created
// entry and hands it to the workers. The returned job is processing.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*entity.Job, error) {
	urls, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	job := &entity.Job{
		OwnerID:    strings.TrimSpace(req.OwnerID),
		Platform:   req.Platform,
		URLs:       urls,
		Status:     entity.StatusPending,
		MaxRetries: s.opts.MaxRetries,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "create job")
	}
	log := s.log.With().Str("job_id", job.ID.String()).Logger()

	msg := fmt.Sprintf("Request created for %d %s link(s)", len(urls), job.Platform)
	if _, err := s.ledger.Record(ctx, job.ID, 0, entity.StageRequestCreated, entity.StageRequestCreated.Progress(), msg, nil); err != nil {
		return nil, eris.Wrap(err, "record request")
	}
	// Must precede Enqueue: a worker may finish the job before Enqueue returns.
	if err := s.jobs.UpdateStatus(ctx, job.ID, entity.StatusProcessing); err != nil {
		return nil, eris.Wrap(err, "mark processing")
	}
	if err := s.queue.Enqueue(ctx, job.ID.String(), PriorityNormal); err != nil {
		return nil, eris.Wrap(err, "enqueue job")
	}
	log.Info().Str("platform", string(job.Platform)).Int("urls", len(urls)).Msg("job submitted")

	job.Status = entity.StatusProcessing
	return job, nil
}

func (s *JobService) validate(req SubmitRequest) ([]string, error) {
	if !platform.Supported(req.Platform) {
		return nil, fmt.Errorf("%w: unsupported platform %q", ErrInvalidSubmission, req.Platform)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidSubmission)
	}

	urls := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	switch {
	case len(urls) == 0:
		return nil, fmt.Errorf("%w: at least one url is required", ErrInvalidSubmission)
	case len(urls) > s.opts.MaxURLsPerJob:
		return nil, fmt.Errorf("%w: at most %d url(s) per job", ErrInvalidSubmission, s.opts.MaxURLsPerJob)
	}
	for _, u := range urls {
		if !platform.MatchesDomain(u, req.Platform) {
			return nil, fmt.Errorf("%w: %s is not a %s link", ErrInvalidSubmission, u, req.Platform)
		}
	}
	return urls, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// Progress is the polling view of a job.
type Progress struct {
	JobID   uuid.UUID            `json:"job_id"`
	Status  entity.JobStatus     `json:"status"`
	Entries []entity.LedgerEntry `json:"entries"`
	// LastSeq is the value to pass as since on the next poll.
	LastSeq int64 `json:"last_seq"`
}

// Progress returns the entries written after afterSeq, in order.
func (s *JobService) Progress(ctx context.Context, id uuid.UUID, afterSeq int64) (*Progress, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.ledger.Since(ctx, id, afterSeq)
	if err != nil {
		return nil, eris.Wrap(err, "read ledger")
	}
	if entries == nil {
		entries = []entity.LedgerEntry{}
	}
	p := &Progress{JobID: id, Status: job.Status, Entries: entries, LastSeq: afterSeq}
	if n := len(entries); n > 0 {
		p.LastSeq = entries[n-1].Seq
	}
	return p, nil
}

type JobResult struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status entity.JobStatus `json:"status"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *entity.JobError `json:"error,omitempty"`
}

// Result returns whatever result the job holds so far: the content preview
// once displaying_content is reached, the analysis once completed.
func (s *JobService) Result(ctx context.Context, id uuid.UUID) (*JobResult, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobResult{JobID: job.ID, Status: job.Status, Result: job.Result, Error: job.Error}, nil
}

func (s *JobService) Retry(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return s.retrier.Retry(ctx, id)
}

func (s *JobService) Resources(ctx context.Context, jobID uuid.UUID) ([]entity.Resource, error) {
	if _, err := s.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.resources.ListJobResources(ctx, jobID)
}

func (s *JobService) Thread(ctx context.Context, resourceID uuid.UUID) ([]entity.ChatMessage, error) {
	if _, err := s.resources.GetResource(ctx, resourceID); err != nil {
		return nil, err
	}
	msgs, err := s.threads.ListThread(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []entity.ChatMessage{}
	}
	return msgs, nil
}
