package entity_test

import (
	"testing"

	"analysis-pipeline/internal/entity"
)

func TestHappyPathTransitionsAndProgress(t *testing.T) {
	path := []entity.Stage{
		entity.StageRequestCreated,
		entity.StageFetchingPosts,
		entity.StageSocialDataFetched,
		entity.StageCollectingMedia,
		entity.StageTranscribing,
		entity.StageDisplayingContent,
		entity.StageAnalysing,
		entity.StageAnalysisComplete,
	}
	want := []int{0, 10, 30, 40, 45, 60, 70, 100}
	for i, s := range path {
		if s.Progress() != want[i] {
			t.Fatalf("%s: expected progress %d, got %d", s, want[i], s.Progress())
		}
		if i > 0 && !entity.CanTransition(path[i-1], s) {
			t.Fatalf("expected %s -> %s to be allowed", path[i-1], s)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to entity.Stage
		ok       bool
	}{
		{entity.StageFetchingPosts, entity.StagePartialSuccess, true},
		{entity.StagePartialSuccess, entity.StageCollectingMedia, true},
		{entity.StageCollectingMedia, entity.StageDisplayingContent, true},
		{entity.StageAnalysing, entity.StageError, true},
		{entity.StageError, entity.StageRetrying, true},
		{entity.StageRetrying, entity.StageFetchingPosts, true},
		{entity.StageRequestCreated, entity.StageAnalysing, false},
		{entity.StageSocialDataFetched, entity.StagePartialSuccess, false},
		{entity.StageAnalysisComplete, entity.StageError, false},
		{entity.StageError, entity.StageError, false},
	}
	for _, tt := range tests {
		if got := entity.CanTransition(tt.from, tt.to); got != tt.ok {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestPartialProgress(t *testing.T) {
	if got := entity.PartialProgress(2, 3); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
	if got := entity.PartialProgress(0, 3); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if _, ok := entity.ParseStage(" Analysing "); !ok {
		t.Fatal("expected analysing to parse")
	}
}
