// Package ledger records the append-only progress log of a job.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
)

var ErrRetryableWithoutError = errors.New("ledger: retryable entry must be an error entry")

// Store persists entries. Append assigns Seq and CreatedAt; entries for one
// job must come back from List in Seq order.
type Store interface {
	AppendEntry(ctx context.Context, e *entity.LedgerEntry) error
	ListEntries(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]entity.LedgerEntry, error)
	LatestEntry(ctx context.Context, jobID uuid.UUID, errorsOnly bool) (*entity.LedgerEntry, error)
	MaxProgress(ctx context.Context, jobID uuid.UUID) (int, error)
}

type Ledger struct {
	store Store
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Record appends a non-error stage entry. Progress is raised to the highest
// non-error progress already written for the job, across attempts, so the
// non-error sequence of a job never decreases.
func (l *Ledger) Record(ctx context.Context, jobID uuid.UUID, attempt int, stage entity.Stage, progress int, message string, meta map[string]any) (*entity.LedgerEntry, error) {
	if strings.TrimSpace(message) == "" {
		message = stage.Label()
	}
	high, err := l.store.MaxProgress(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("ledger: read progress: %w", err)
	}
	if progress < high {
		progress = high
	}
	e := &entity.LedgerEntry{
		ID:       uuid.New(),
		JobID:    jobID,
		Attempt:  attempt,
		Stage:    stage,
		Message:  message,
		Progress: clamp(progress),
		Metadata: meta,
	}
	if err := l.append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// ErrorEntry describes an error entry.
type ErrorEntry struct {
	Stage      entity.Stage
	Message    string
	Code       string
	Retryable  bool
	Actionable string
	Progress   int
	Metadata   map[string]any
}

// RecordError appends an error entry. Error entries do not take part in
// progress monotonicity.
func (l *Ledger) RecordError(ctx context.Context, jobID uuid.UUID, attempt int, in ErrorEntry) (*entity.LedgerEntry, error) {
	stage := in.Stage
	if stage == "" {
		stage = entity.StageError
	}
	e := &entity.LedgerEntry{
		ID:         uuid.New(),
		JobID:      jobID,
		Attempt:    attempt,
		Stage:      stage,
		Message:    in.Message,
		Progress:   clamp(in.Progress),
		Metadata:   in.Metadata,
		IsError:    true,
		ErrorCode:  in.Code,
		Retryable:  in.Retryable,
		Actionable: in.Actionable,
	}
	if err := l.append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (l *Ledger) append(ctx context.Context, e *entity.LedgerEntry) error {
	if e.Retryable && !e.IsError {
		return ErrRetryableWithoutError
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return fmt.Errorf("ledger: append %s: %w", e.Stage, err)
	}
	return nil
}

// Since returns the job's entries with Seq greater than afterSeq, in order.
func (l *Ledger) Since(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]entity.LedgerEntry, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	return l.store.ListEntries(ctx, jobID, afterSeq)
}

// LatestError returns the most recent error entry, or entity.ErrNotFound.
func (l *Ledger) LatestError(ctx context.Context, jobID uuid.UUID) (*entity.LedgerEntry, error) {
	return l.store.LatestEntry(ctx, jobID, true)
}

// Latest returns the most recent entry, or entity.ErrNotFound.
func (l *Ledger) Latest(ctx context.Context, jobID uuid.UUID) (*entity.LedgerEntry, error) {
	return l.store.LatestEntry(ctx, jobID, false)
}

// Boundaries returns the non-error entries written during attempt, in order.
func (l *Ledger) Boundaries(ctx context.Context, jobID uuid.UUID, attempt int) ([]entity.LedgerEntry, error) {
	all, err := l.store.ListEntries(ctx, jobID, 0)
	if err != nil {
		return nil, err
	}
	var out []entity.LedgerEntry
	for _, e := range all {
		if !e.IsError && e.Attempt == attempt {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastBoundary returns the most recent stage entry of attempt, or
// entity.ErrNotFound when the attempt has none.
func (l *Ledger) LastBoundary(ctx context.Context, jobID uuid.UUID, attempt int) (*entity.LedgerEntry, error) {
	list, err := l.Boundaries(ctx, jobID, attempt)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, entity.ErrNotFound
	}
	e := list[len(list)-1]
	return &e, nil
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
