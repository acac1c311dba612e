package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/repository/memory"
)

func TestRecord_ClampsProgressAcrossAttempts(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())
	jobID := uuid.New()

	steps := []struct {
		stage    entity.Stage
		progress int
		want     int
	}{
		{entity.StageRequestCreated, 0, 0},
		{entity.StageFetchingPosts, 10, 10},
		{entity.StagePartialSuccess, 49, 49},
		{entity.StageCollectingMedia, 40, 49},
		{entity.StageDisplayingContent, 60, 60},
	}
	for _, s := range steps {
		e, err := l.Record(ctx, jobID, 0, s.stage, s.progress, "", nil)
		if err != nil {
			t.Fatalf("record %s: %v", s.stage, err)
		}
		if e.Progress != s.want {
			t.Fatalf("%s: expected progress %d, got %d", s.stage, s.want, e.Progress)
		}
		if e.Message != s.stage.Label() {
			t.Fatalf("expected default label message, got %q", e.Message)
		}
	}

	// A retry keeps the job's high-water mark.
	e, err := l.Record(ctx, jobID, 1, entity.StageRetrying, 0, "", nil)
	if err != nil {
		t.Fatalf("record retrying: %v", err)
	}
	if e.Progress != 60 {
		t.Fatalf("expected retrying progress held at 60, got %d", e.Progress)
	}
	e, err = l.Record(ctx, jobID, 1, entity.StageAnalysisComplete, 100, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Progress != 100 {
		t.Fatalf("expected progress to keep rising, got %d", e.Progress)
	}
}

func TestRecordError_DoesNotRaiseHighWater(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())
	jobID := uuid.New()

	if _, err := l.Record(ctx, jobID, 0, entity.StageFetchingPosts, 10, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordError(ctx, jobID, 0, ledger.ErrorEntry{Code: "RATE_LIMIT", Retryable: true, Progress: 90}); err != nil {
		t.Fatal(err)
	}
	e, err := l.Record(ctx, jobID, 0, entity.StageSocialDataFetched, 30, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.Progress != 30 {
		t.Fatalf("error entry must not affect progress, got %d", e.Progress)
	}

	latest, err := l.LatestError(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ErrorCode != "RATE_LIMIT" || !latest.Retryable || latest.Stage != entity.StageError {
		t.Fatalf("unexpected latest error entry: %+v", latest)
	}
}

func TestSince_ReturnsOrderedTail(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())
	jobID := uuid.New()

	for _, st := range []entity.Stage{entity.StageRequestCreated, entity.StageFetchingPosts, entity.StageSocialDataFetched} {
		if _, err := l.Record(ctx, jobID, 0, st, st.Progress(), "", nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := l.Since(ctx, jobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Seq != all[i-1].Seq+1 {
			t.Fatalf("expected dense seq, got %d after %d", all[i].Seq, all[i-1].Seq)
		}
		if !all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Fatal("expected strictly increasing creation time")
		}
	}

	tail, err := l.Since(ctx, jobID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 || tail[0].Stage != entity.StageSocialDataFetched {
		t.Fatalf("unexpected tail: %+v", tail)
	}
}

func TestLatestError_NotFound(t *testing.T) {
	l := ledger.New(memory.New())
	if _, err := l.LatestError(context.Background(), uuid.New()); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLastBoundary_ScopedToAttempt(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(memory.New())
	jobID := uuid.New()

	if _, err := l.LastBoundary(ctx, jobID, 0); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty ledger, got %v", err)
	}

	mustRecord := func(attempt int, stage entity.Stage) {
		t.Helper()
		if _, err := l.Record(ctx, jobID, attempt, stage, stage.Progress(), "", nil); err != nil {
			t.Fatalf("record %s: %v", stage, err)
		}
	}
	mustRecord(0, entity.StageRequestCreated)
	mustRecord(0, entity.StageFetchingPosts)
	if _, err := l.RecordError(ctx, jobID, 0, ledger.ErrorEntry{Message: "boom", Code: "API_ERROR", Retryable: true}); err != nil {
		t.Fatal(err)
	}
	mustRecord(1, entity.StageRetrying)

	last, err := l.LastBoundary(ctx, jobID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if last.Stage != entity.StageFetchingPosts {
		t.Fatalf("expected fetching_posts for attempt 0, got %s", last.Stage)
	}

	last, err = l.LastBoundary(ctx, jobID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if last.Stage != entity.StageRetrying {
		t.Fatalf("expected retrying for attempt 1, got %s", last.Stage)
	}
}
