package entity

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further stage work will run without a retry.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobError is the terminal error summary kept on a failed job.
// Diagnostic is operator-only and never rendered to clients.
type JobError struct {
	Category   string          `json:"category"`
	Message    string          `json:"message"`
	Diagnostic json.RawMessage `json:"-"`
}

type Job struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Platform    Platform        `json:"platform"`
	URLs        []string        `json:"urls"`
	Status      JobStatus       `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	LastStage   *Stage          `json:"failed_at_stage,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       *JobError       `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CanRetry reports whether the retry budget still has room.
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}
