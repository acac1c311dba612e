package pipeline

import (
	"context"
	"net/http"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
)

const maxBundleComments = 5

type AnalysisResult struct {
	ResourceID uuid.UUID         `json:"resource_id"`
	URL        string            `json:"url"`
	Text       string            `json:"analysis"`
	Highlights []string          `json:"highlights,omitempty"`
	Usage      collab.TokenUsage `json:"usage"`
}

type ResourceFailure struct {
	ResourceID uuid.UUID        `json:"resource_id"`
	URL        string           `json:"url"`
	Category   failure.Category `json:"category"`
	err        error
}

type AnalyzeOutcome struct {
	Results   []AnalysisResult
	Succeeded int
	Failed    int
	Failures  []ResourceFailure
	Usage     collab.TokenUsage
}

// FirstError returns the cause of the first failed resource, if any.
func (o *AnalyzeOutcome) FirstError() error {
	if len(o.Failures) == 0 {
		return nil
	}
	return o.Failures[0].err
}

// AnalyzerStage runs the AI analysis per resource. Per-resource failures are
// isolated and counted.
type AnalyzerStage struct {
	analyzer    collab.Analyzer
	chat        ChatStore
	storage     collab.Downloader
	concurrency int
	log         zerolog.Logger
}

func NewAnalyzerStage(analyzer collab.Analyzer, chat ChatStore, storage collab.Downloader, concurrency int, log zerolog.Logger) *AnalyzerStage {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &AnalyzerStage{
		analyzer:    analyzer,
		chat:        chat,
		storage:     storage,
		concurrency: concurrency,
		log:         log.With().Str("component", "analyzer").Logger(),
	}
}

type slot struct {
	result *AnalysisResult
	fail   *ResourceFailure
}

func (a *AnalyzerStage) Analyze(ctx context.Context, job *entity.Job, resources []entity.Resource, cache *ByteCache) *AnalyzeOutcome {
	slots := make([]slot, len(resources))

	// Workers never return an error so one failing resource cannot cancel
	// its siblings.
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range resources {
		r := resources[i]
		g.Go(func() error {
			slots[i] = a.analyzeOne(ctx, job, &r, cache)
			return nil
		})
	}
	_ = g.Wait()

	out := &AnalyzeOutcome{}
	for _, s := range slots {
		switch {
		case s.result != nil:
			out.Results = append(out.Results, *s.result)
			out.Succeeded++
			out.Usage.InputTokens += s.result.Usage.InputTokens
			out.Usage.OutputTokens += s.result.Usage.OutputTokens
		case s.fail != nil:
			out.Failures = append(out.Failures, *s.fail)
			out.Failed++
		}
	}
	a.log.Info().
		Str("job_id", job.ID.String()).
		Int("succeeded", out.Succeeded).
		Int("failed", out.Failed).
		Int("input_tokens", out.Usage.InputTokens).
		Int("output_tokens", out.Usage.OutputTokens).
		Msg("analysis finished")
	return out
}

func (a *AnalyzerStage) analyzeOne(ctx context.Context, job *entity.Job, r *entity.Resource, cache *ByteCache) slot {
	log := a.log.With().Str("job_id", job.ID.String()).Str("resource_id", r.ID.String()).Logger()

	bundle := a.bundle(ctx, r, cache, log)
	analysis, err := a.analyzer.Analyze(ctx, bundle)
	if err == nil && analysis == nil {
		err = failure.Mark(failure.ErrAPI, "empty analysis response", nil)
	}
	if err != nil {
		category, _ := failure.Classify(err)
		log.Warn().Err(err).Str("category", string(category)).Msg("resource analysis failed")
		return slot{fail: &ResourceFailure{ResourceID: r.ID, URL: r.URL, Category: category, err: err}}
	}

	seeded, err := a.chat.SeedThread(ctx, r.ID, r.URL, analysis.Text)
	if err != nil {
		err = failure.Mark(failure.ErrProcessing, "seed chat thread", err)
		log.Warn().Err(err).Msg("seed chat thread failed")
		return slot{fail: &ResourceFailure{ResourceID: r.ID, URL: r.URL, Category: failure.ProcessingError, err: err}}
	}
	if seeded {
		log.Debug().Msg("chat thread seeded")
	}

	return slot{result: &AnalysisResult{
		ResourceID: r.ID,
		URL:        r.URL,
		Text:       analysis.Text,
		Highlights: analysis.Highlights,
		Usage:      analysis.Usage,
	}}
}

// bundle assembles text, metrics, the most recent comments, media bytes and
// transcripts. Raw video bytes are represented by their frames.
func (a *AnalyzerStage) bundle(ctx context.Context, r *entity.Resource, cache *ByteCache, log zerolog.Logger) collab.Bundle {
	b := collab.Bundle{
		Platform:    r.Platform,
		URL:         r.URL,
		Username:    r.Username,
		Content:     r.Content,
		PublishedAt: r.PublishedAt,
		Metrics:     r.Metrics,
		Comments:    RecentComments(r.Comments, maxBundleComments),
	}

	for _, item := range cache.Get(r.ID) {
		if item.Type == entity.MediaVideo {
			continue
		}
		b.Attachments = append(b.Attachments, collab.Attachment{Type: item.Type, ContentType: item.ContentType, Data: item.Data})
	}

	for _, m := range r.Media {
		if m.Transcript != "" {
			b.Transcripts = append(b.Transcripts, m.Transcript)
		}
		if m.Type == entity.MediaVideo || !m.Uploaded || m.StorageURL == "" || a.storage == nil {
			continue
		}
		if cache.Has(r.ID, m.ID) {
			continue
		}
		data, err := a.storage.Download(ctx, m.StorageURL)
		if err != nil {
			log.Warn().Err(err).Str("media_id", m.ID.String()).Msg("stored media unavailable")
			continue
		}
		b.Attachments = append(b.Attachments, collab.Attachment{Type: m.Type, ContentType: http.DetectContentType(data), Data: data})
	}
	return b
}

// RecentComments returns up to n comments, newest first.
func RecentComments(comments []entity.Comment, n int) []entity.Comment {
	cp := append([]entity.Comment(nil), comments...)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].PostedAt.After(cp[j].PostedAt) })
	if len(cp) > n {
		cp = cp[:n]
	}
	return cp
}
