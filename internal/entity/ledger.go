package entity

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is an immutable progress or error record of a job.
// Seq is dense per job and starts at 1; Attempt is the job's retry count
// at the time of writing.
type LedgerEntry struct {
	ID         uuid.UUID      `json:"id"`
	JobID      uuid.UUID      `json:"job_id"`
	Seq        int64          `json:"seq"`
	Attempt    int            `json:"attempt"`
	Stage      Stage          `json:"stage"`
	Message    string         `json:"message"`
	Progress   int            `json:"progress_percentage"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsError    bool           `json:"is_error"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Retryable  bool           `json:"retryable"`
	Actionable string         `json:"actionable_message,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
