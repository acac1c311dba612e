package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/repository/memory"
)

func TestStore_TerminalWritesRequireProcessing(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	job := &entity.Job{OwnerID: "o", Platform: entity.PlatformInstagram, URLs: []string{"u"}, MaxRetries: 1}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatal(err)
	}

	if err := s.CompleteJob(ctx, job.ID, entity.StageAnalysisComplete, json.RawMessage(`{}`)); !errors.Is(err, entity.ErrConflict) {
		t.Fatalf("expected ErrConflict for a pending job, got %v", err)
	}

	if err := s.UpdateStatus(ctx, job.ID, entity.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProgress(ctx, job.ID, entity.StageDisplayingContent, json.RawMessage(`{"preview":true}`)); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	if err := s.FailJob(ctx, job.ID, nil, entity.JobError{Category: "processing_error"}); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	if err := s.CompleteJob(ctx, job.ID, entity.StageAnalysisComplete, json.RawMessage(`{}`)); !errors.Is(err, entity.ErrConflict) {
		t.Fatalf("expected ErrConflict once failed, got %v", err)
	}
	if err := s.SaveProgress(ctx, job.ID, entity.StageDisplayingContent, nil); !errors.Is(err, entity.ErrConflict) {
		t.Fatalf("expected ErrConflict once failed, got %v", err)
	}
	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.StatusFailed {
		t.Fatalf("expected failed to stick, got %s", got.Status)
	}

	if err := s.FailJob(ctx, uuid.New(), nil, entity.JobError{}); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CreateResourceReportsAdoption(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	first := &entity.Resource{Platform: entity.PlatformInstagram, NativeID: "AAA111", URL: "https://www.instagram.com/p/AAA111/"}
	created, err := s.CreateResource(ctx, first)
	if err != nil || !created {
		t.Fatalf("expected a new resource, got created=%v err=%v", created, err)
	}

	second := &entity.Resource{Platform: entity.PlatformInstagram, NativeID: "AAA111", URL: "https://www.instagram.com/reel/AAA111/"}
	created, err = s.CreateResource(ctx, second)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("a second insert for the same post must adopt the stored row")
	}
	if second.ID != first.ID {
		t.Fatalf("expected adopted id %s, got %s", first.ID, second.ID)
	}
	if n := s.ResourceCount(); n != 1 {
		t.Fatalf("expected one resource, got %d", n)
	}
}
