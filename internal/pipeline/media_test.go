package pipeline_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/pipeline"
)

func TestValidImage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"png", pngFrame, true},
		{"empty", nil, false},
		{"truncated", pngFrame[:12], false},
		{"text", []byte("not an image at all"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pipeline.ValidImage(tt.data); got != tt.want {
				t.Fatalf("ValidImage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractMedia_SkipsFastPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.results[urlC] = post(urlC, "CCC333", "carol", collab.MediaRef{URL: vidC, Type: entity.MediaVideo})
	h.downloader.data[vidC] = []byte("fake mp4 payload")

	job := h.submit(t, urlC)
	cache := pipeline.NewByteCache()
	res, err := h.collector.Collect(ctx, job, map[entity.Platform][]string{entity.PlatformInstagram: {urlC}}, cache)
	if err != nil {
		t.Fatal(err)
	}

	fast := map[uuid.UUID]struct{}{res.Resources[0].ID: {}}
	stage := pipeline.NewMediaStage(h.store, h.frames, h.transcriber, h.storage, pipeline.MediaOptions{}, zerolog.Nop())
	called := false
	err = stage.ExtractMedia(ctx, job, res.Resources, cache, fast, func(context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.frames.frameCalls != 0 || h.frames.audioCalls != 0 || called {
		t.Fatal("fast-path resources must skip frame and audio work")
	}
}

func TestExtractMedia_DefaultFrameCount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.results[urlC] = post(urlC, "CCC333", "carol", collab.MediaRef{URL: vidC, Type: entity.MediaVideo})
	h.downloader.data[vidC] = []byte("fake mp4 payload")

	job := h.submit(t, urlC)
	cache := pipeline.NewByteCache()
	res, err := h.collector.Collect(ctx, job, map[entity.Platform][]string{entity.PlatformInstagram: {urlC}}, cache)
	if err != nil {
		t.Fatal(err)
	}

	stage := pipeline.NewMediaStage(h.store, h.frames, nil, h.storage, pipeline.MediaOptions{}, zerolog.Nop())
	if err := stage.ExtractMedia(ctx, job, res.Resources, cache, nil, nil); err != nil {
		t.Fatal(err)
	}

	frames := 0
	for _, m := range res.Resources[0].Media {
		if m.Type == entity.MediaVideoFrame {
			if m.VideoIndex != 0 {
				t.Fatalf("expected video index 0, got %d", m.VideoIndex)
			}
			frames++
		}
	}
	if frames != 5 {
		t.Fatalf("expected 5 frames by default, got %d", frames)
	}
	if h.frames.audioCalls != 0 {
		t.Fatal("no transcription without a transcriber")
	}
}
