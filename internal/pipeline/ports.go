package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
)

// JobStore is the job persistence the pipeline needs
// (implementations: postgresql.JobRepository, memory.Store).
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus) error
	SetDisplayName(ctx context.Context, id uuid.UUID, name string) error
	// SaveProgress, CompleteJob and FailJob only apply to a processing job
	// and return entity.ErrConflict otherwise.
	SaveProgress(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error
	CompleteJob(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, lastStage *entity.Stage, jobErr entity.JobError) error
	// ResetForRetry atomically increments the retry count, clears the error
	// and sets pending. It returns entity.ErrConflict unless the job is failed,
	// still has expectedRetryCount retries and has budget left.
	ResetForRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int) error
}

// ResourceStore persists shared resources, their media and job links.
type ResourceStore interface {
	FindResource(ctx context.Context, platform entity.Platform, nativeID string) (*entity.Resource, error)
	// CreateResource inserts r or adopts the id of the row already stored
	// for its (platform, native id). created is false when it adopted.
	CreateResource(ctx context.Context, r *entity.Resource) (created bool, err error)
	UpdateMetrics(ctx context.Context, id uuid.UUID, metrics entity.Metrics) error
	LinkJobResource(ctx context.Context, jobID, resourceID uuid.UUID) error
	LinkedResourceIDs(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)
	AddMedia(ctx context.Context, m *entity.Media) error
	SetTranscript(ctx context.Context, mediaID uuid.UUID, transcript string) error
}

// ChatStore holds per-resource conversational threads.
type ChatStore interface {
	// SeedThread writes the first user and assistant entries unless the
	// thread already has entries. It reports whether it wrote anything.
	SeedThread(ctx context.Context, resourceID uuid.UUID, userText, assistantText string) (bool, error)
}

// Events receives stage telemetry. Implementations must not block.
type Events interface {
	Emit(event Event)
}

type Event struct {
	JobID    uuid.UUID      `json:"job_id"`
	Attempt  int            `json:"attempt"`
	Stage    entity.Stage   `json:"stage"`
	Outcome  string         `json:"outcome"`
	Duration int64          `json:"duration_ms"`
	Fields   map[string]any `json:"fields,omitempty"`
}

type nopEvents struct{}

func (nopEvents) Emit(Event) {}
