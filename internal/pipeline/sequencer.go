package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/platform"
)

// Sequencer drives one job through the stage machine. Every failure inside a
// stage ends as a failed job plus one error ledger entry; Run only returns
// an error when that bookkeeping itself could not be written.
type Sequencer struct {
	jobs      JobStore
	resources ResourceStore
	ledger    *ledger.Ledger
	collector *Collector
	media     *MediaStage
	analyzer  *AnalyzerStage
	events    Events
	log       zerolog.Logger
}

func NewSequencer(
	jobs JobStore,
	resources ResourceStore,
	l *ledger.Ledger,
	collector *Collector,
	media *MediaStage,
	analyzer *AnalyzerStage,
	events Events,
	log zerolog.Logger,
) *Sequencer {
	if events == nil {
		events = nopEvents{}
	}
	return &Sequencer{
		jobs:      jobs,
		resources: resources,
		ledger:    l,
		collector: collector,
		media:     media,
		analyzer:  analyzer,
		events:    events,
		log:       log.With().Str("component", "sequencer").Logger(),
	}
}

// run is the mutable state of one attempt.
type run struct {
	job        *entity.Job
	attempt    int
	current    entity.Stage
	completed  *entity.Stage
	progress   int
	stageStart time.Time
	done       bool
	log        zerolog.Logger
}

func (s *Sequencer) Run(ctx context.Context, jobID uuid.UUID) (err error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrapf(err, "load job %s", jobID)
	}
	log := s.log.With().Str("job_id", job.ID.String()).Int("attempt", job.RetryCount).Logger()

	if job.Status.Terminal() {
		log.Info().Str("status", string(job.Status)).Msg("job already finished, skipping")
		return nil
	}

	r := &run{
		job:        job,
		attempt:    job.RetryCount,
		current:    entity.StageRequestCreated,
		stageStart: time.Now(),
		log:        log,
	}
	if job.RetryCount > 0 {
		r.current = entity.StageRetrying
	}

	last, err := s.ledger.LastBoundary(ctx, job.ID, r.attempt)
	switch {
	case err == nil:
		if !last.Stage.Starts() {
			return s.interrupted(ctx, r, last)
		}
		r.current = last.Stage
		r.progress = last.Progress
	case errors.Is(err, entity.ErrNotFound):
	default:
		return eris.Wrap(err, "read ledger")
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Str("stage", string(r.current)).Msg("stage panicked")
			err = s.fail(ctx, r, failure.Mark(failure.ErrProcessing, fmt.Sprintf("panic: %v", rec), nil))
		}
	}()

	if err := s.jobs.UpdateStatus(ctx, job.ID, entity.StatusProcessing); err != nil {
		return eris.Wrap(err, "mark processing")
	}
	job.Status = entity.StatusProcessing
	log.Info().Str("stage", string(r.current)).Msg("job started")

	if err := s.execute(ctx, r); err != nil {
		return s.fail(ctx, r, err)
	}
	return nil
}

func (s *Sequencer) execute(ctx context.Context, r *run) error {
	job := r.job
	cache := NewByteCache()

	if err := s.advance(ctx, r, entity.StageFetchingPosts, entity.StageFetchingPosts.Progress(), "", nil); err != nil {
		return err
	}

	collected, err := s.collector.Collect(ctx, job, groupByPlatform(job), cache)
	if err != nil {
		return eris.Wrap(err, "collect")
	}
	if len(collected.Resources) == 0 {
		return allFailed(collected)
	}
	if err := s.verifyLinks(ctx, job.ID, collected.Resources); err != nil {
		return err
	}

	failed := len(collected.FailedURLs)
	meta := map[string]any{
		"total":          collected.Total,
		"succeeded":      len(collected.Resources),
		"failed":         failed,
		"external_calls": collected.ExternalCalls,
		"fast_path":      len(collected.FastPath),
	}
	if len(collected.Duplicates) > 0 {
		meta["duplicate_urls"] = collected.Duplicates
	}
	if failed > 0 {
		meta["failed_urls"] = collected.FailedURLs
		msg := fmt.Sprintf("Fetched %d of %d posts", len(collected.Resources), collected.Total)
		if err := s.advance(ctx, r, entity.StagePartialSuccess, entity.PartialProgress(len(collected.Resources), collected.Total), msg, meta); err != nil {
			return err
		}
	} else {
		if err := s.advance(ctx, r, entity.StageSocialDataFetched, entity.StageSocialDataFetched.Progress(), "", meta); err != nil {
			return err
		}
	}

	if name := displayName(collected.Resources[0]); name != "" {
		if err := s.jobs.SetDisplayName(ctx, job.ID, name); err != nil {
			return eris.Wrap(err, "set display name")
		}
		job.DisplayName = name
	}

	if err := s.advance(ctx, r, entity.StageCollectingMedia, entity.StageCollectingMedia.Progress(), "", nil); err != nil {
		return err
	}
	resources := collected.Resources
	onTranscribe := func(ctx context.Context) error {
		return s.advance(ctx, r, entity.StageTranscribing, entity.StageTranscribing.Progress(), "", nil)
	}
	if err := s.media.ExtractMedia(ctx, job, resources, cache, collected.FastPath, onTranscribe); err != nil {
		return eris.Wrap(err, "extract media")
	}

	if err := s.advance(ctx, r, entity.StageDisplayingContent, entity.StageDisplayingContent.Progress(), "", map[string]any{"cached_bytes": cache.Size()}); err != nil {
		return err
	}
	preview, err := json.Marshal(previewResult(resources, collected.FailedURLs))
	if err != nil {
		return eris.Wrap(err, "encode preview")
	}
	if err := s.jobs.SaveProgress(ctx, job.ID, entity.StageDisplayingContent, preview); err != nil {
		return eris.Wrap(err, "save preview")
	}

	if err := s.advance(ctx, r, entity.StageAnalysing, entity.StageAnalysing.Progress(), "", nil); err != nil {
		return err
	}
	outcome := s.analyzer.Analyze(ctx, job, resources, cache)
	if outcome.Succeeded == 0 {
		cause := outcome.FirstError()
		if cause == nil {
			cause = failure.Mark(failure.ErrProcessing, "no resource was analysed", nil)
		}
		return eris.Wrap(cause, "analyse")
	}

	final, err := json.Marshal(finalResult(resources, collected.FailedURLs, outcome))
	if err != nil {
		return eris.Wrap(err, "encode result")
	}
	if !entity.CanTransition(r.current, entity.StageAnalysisComplete) {
		return illegalTransition(r.current, entity.StageAnalysisComplete)
	}
	if err := s.jobs.CompleteJob(ctx, job.ID, entity.StageAnalysisComplete, final); err != nil {
		return eris.Wrap(err, "complete job")
	}
	r.done = true
	if err := s.advance(ctx, r, entity.StageAnalysisComplete, entity.StageAnalysisComplete.Progress(), "", map[string]any{
		"succeeded":     outcome.Succeeded,
		"failed":        outcome.Failed,
		"input_tokens":  outcome.Usage.InputTokens,
		"output_tokens": outcome.Usage.OutputTokens,
	}); err != nil {
		return err
	}
	s.emit(r, r.current, "completed", nil)
	r.log.Info().Int("succeeded", outcome.Succeeded).Int("failed", outcome.Failed).Msg("job completed")
	return nil
}

// advance checks the transition, writes the boundary entry and closes the
// previous stage.
func (s *Sequencer) advance(ctx context.Context, r *run, to entity.Stage, progress int, message string, meta map[string]any) error {
	if !entity.CanTransition(r.current, to) {
		return illegalTransition(r.current, to)
	}
	if !r.done {
		if err := s.owned(ctx, r); err != nil {
			return err
		}
	}
	e, err := s.ledger.Record(ctx, r.job.ID, r.attempt, to, progress, message, meta)
	if err != nil {
		return eris.Wrapf(err, "record %s", to)
	}
	s.emit(r, r.current, "ok", nil)

	prev := r.current
	r.completed = &prev
	r.current = to
	r.progress = e.Progress
	r.stageStart = time.Now()
	r.log.Debug().Str("stage", string(to)).Int("progress", e.Progress).Msg("stage entered")
	return nil
}

// owned reports entity.ErrConflict once the job has left processing or
// moved to another attempt, meaning another run has taken it over.
func (s *Sequencer) owned(ctx context.Context, r *run) error {
	job, err := s.jobs.GetJob(ctx, r.job.ID)
	if err != nil {
		return eris.Wrap(err, "reload job")
	}
	if job.Status != entity.StatusProcessing || job.RetryCount != r.attempt {
		return eris.Wrapf(entity.ErrConflict, "job is %s at attempt %d", job.Status, job.RetryCount)
	}
	return nil
}

// fail classifies err and records the terminal failure.
func (s *Sequencer) fail(ctx context.Context, r *run, err error) error {
	if r.done {
		r.log.Error().Err(err).Msg("post-completion bookkeeping failed")
		return err
	}
	if errors.Is(err, entity.ErrConflict) {
		r.log.Warn().Err(err).Str("stage", string(r.current)).Msg("job taken over by another run, stopping")
		return nil
	}
	if oErr := s.owned(ctx, r); oErr != nil {
		if errors.Is(oErr, entity.ErrConflict) {
			r.log.Warn().Err(oErr).Msg("job taken over by another run, not recording failure")
			return nil
		}
		return oErr
	}

	category, retryable := failure.Classify(err)
	code := failure.Code(err)
	msg := failure.UserMessage(r.current, category)
	if code == failure.CodeAllFailed {
		msg = "None of the submitted links could be fetched."
	}

	failedStage := r.current
	meta := map[string]any{
		"failed_stage": string(failedStage),
		"category":     string(category),
	}
	if r.completed != nil {
		meta["last_completed_stage"] = string(*r.completed)
	}

	log := r.log.With().Str("stage", string(failedStage)).Str("category", string(category)).Str("code", code).Logger()
	log.Error().Err(err).Bool("retryable", retryable).Msg("job failed")

	if _, lErr := s.ledger.RecordError(ctx, r.job.ID, r.attempt, ledger.ErrorEntry{
		Stage:      entity.StageError,
		Message:    msg,
		Code:       code,
		Retryable:  retryable,
		Actionable: failure.ActionHint(category),
		Progress:   r.progress,
		Metadata:   meta,
	}); lErr != nil {
		log.Error().Err(lErr).Msg("record error entry failed")
		return eris.Wrap(lErr, "record error entry")
	}

	jobErr := entity.JobError{
		Category:   string(category),
		Message:    msg,
		Diagnostic: failure.Diagnose(err),
	}
	if fErr := s.jobs.FailJob(ctx, r.job.ID, r.completed, jobErr); fErr != nil {
		if errors.Is(fErr, entity.ErrConflict) {
			log.Warn().Err(fErr).Msg("job taken over by another run")
			return nil
		}
		log.Error().Err(fErr).Msg("persist failure failed")
		return eris.Wrap(fErr, "fail job")
	}
	r.current = entity.StageError
	s.emit(r, failedStage, "failed", map[string]any{"category": string(category), "code": code})
	return nil
}

// interrupted handles a redelivered job whose previous run stopped mid-stage.
// The run is failed as retryable instead of replaying transitions.
func (s *Sequencer) interrupted(ctx context.Context, r *run, last *entity.LedgerEntry) error {
	r.current = last.Stage
	r.progress = last.Progress

	boundaries, err := s.ledger.Boundaries(ctx, r.job.ID, r.attempt)
	if err != nil {
		return eris.Wrap(err, "read ledger")
	}
	if n := len(boundaries); n >= 2 {
		prev := boundaries[n-2].Stage
		r.completed = &prev
	}
	r.log.Warn().Str("stage", string(last.Stage)).Msg("previous run was interrupted")

	cause := failure.Coded(failure.CodeInterrupted, failure.ProcessingError, true,
		fmt.Errorf("run stopped during %s", last.Stage))
	return s.fail(ctx, r, cause)
}

func (s *Sequencer) verifyLinks(ctx context.Context, jobID uuid.UUID, resources []entity.Resource) error {
	linked, err := s.resources.LinkedResourceIDs(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "verify links")
	}
	set := make(map[uuid.UUID]struct{}, len(linked))
	for _, id := range linked {
		set[id] = struct{}{}
	}
	var missing []string
	for _, r := range resources {
		if _, ok := set[r.ID]; !ok {
			missing = append(missing, r.ID.String())
		}
	}
	if len(missing) > 0 {
		return failure.Coded(failure.CodeLinkUnconfirmed, failure.ProcessingError, true,
			fmt.Errorf("resources not linked to job: %v", missing))
	}
	return nil
}

func (s *Sequencer) emit(r *run, stage entity.Stage, outcome string, fields map[string]any) {
	s.events.Emit(Event{
		JobID:    r.job.ID,
		Attempt:  r.attempt,
		Stage:    stage,
		Outcome:  outcome,
		Duration: time.Since(r.stageStart).Milliseconds(),
		Fields:   fields,
	})
}

func illegalTransition(from, to entity.Stage) error {
	return failure.Mark(failure.ErrProcessing, fmt.Sprintf("illegal stage transition %s -> %s", from, to), nil)
}

// allFailed builds the ALL_FAILED error. The category is taken from the
// first collaborator failure so operators see why, but the code stays
// retryable.
func allFailed(res *CollectResult) error {
	category := failure.ValidationError
	var cause error = errors.New("no input could be collected")
	for _, f := range res.Failures {
		if f.Code != failure.CodeInvalidURL {
			category = f.Category
			cause = f.Err
			break
		}
	}
	return failure.Coded(failure.CodeAllFailed, category, true,
		fmt.Errorf("all %d inputs failed: %w", res.Total, cause))
}

// groupByPlatform keys each input by its detected platform. Unrecognised
// links stay under the job's declared platform so the collector can flag them.
func groupByPlatform(job *entity.Job) map[entity.Platform][]string {
	out := map[entity.Platform][]string{}
	for _, u := range job.URLs {
		p, _, ok := platform.Detect(u)
		if !ok {
			p = job.Platform
		}
		out[p] = append(out[p], u)
	}
	return out
}

func displayName(r entity.Resource) string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Username
}

type mediaView struct {
	Type       entity.MediaType `json:"type"`
	URL        string           `json:"url"`
	VideoIndex int              `json:"video_index,omitempty"`
	Transcript string           `json:"transcript,omitempty"`
}

type resourceView struct {
	ID          uuid.UUID       `json:"id"`
	Platform    entity.Platform `json:"platform"`
	URL         string          `json:"url"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name,omitempty"`
	Content     string          `json:"content,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	Metrics     entity.Metrics  `json:"metrics,omitempty"`
	Media       []mediaView     `json:"media,omitempty"`
}

// Preview is the job result written when content becomes displayable.
type Preview struct {
	Resources  []resourceView `json:"resources"`
	FailedURLs []string       `json:"failed_urls,omitempty"`
}

// Result is the job result written on completion.
type Result struct {
	Preview
	Analyses        []AnalysisResult  `json:"analyses"`
	FailedResources []ResourceFailure `json:"failed_resources,omitempty"`
	Succeeded       int               `json:"succeeded"`
	Failed          int               `json:"failed"`
	Usage           collab.TokenUsage `json:"usage"`
}

func previewResult(resources []entity.Resource, failedURLs []string) Preview {
	p := Preview{FailedURLs: failedURLs, Resources: make([]resourceView, 0, len(resources))}
	for _, r := range resources {
		v := resourceView{
			ID:          r.ID,
			Platform:    r.Platform,
			URL:         r.URL,
			Username:    r.Username,
			DisplayName: r.DisplayName,
			Content:     r.Content,
			PublishedAt: r.PublishedAt,
			Metrics:     r.Metrics,
		}
		for _, m := range r.Media {
			url := m.StorageURL
			if url == "" {
				url = m.SourceURL
			}
			v.Media = append(v.Media, mediaView{Type: m.Type, URL: url, VideoIndex: m.VideoIndex, Transcript: m.Transcript})
		}
		p.Resources = append(p.Resources, v)
	}
	return p
}

func finalResult(resources []entity.Resource, failedURLs []string, o *AnalyzeOutcome) Result {
	return Result{
		Preview:         previewResult(resources, failedURLs),
		Analyses:        o.Results,
		FailedResources: o.Failures,
		Succeeded:       o.Succeeded,
		Failed:          o.Failed,
		Usage:           o.Usage,
	}
}
