package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/repository/memory"
)

var pngFrame = mustPNG()

func mustPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fetchCall struct {
	url  string
	mode collab.FetchMode
}

type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]*collab.FetchResult
	errs    map[string]error
	panics  bool
	calls   []fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{results: map[string]*collab.FetchResult{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, mode collab.FetchMode) (*collab.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fetchCall{url: url, mode: mode})
	if f.panics {
		panic("fetcher exploded")
	}
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	r, ok := f.results[url]
	if !ok {
		return nil, &failure.ExternalError{Service: "scraper", Operation: "fetch", StatusCode: 404, Err: errors.New("post not found")}
	}
	cp := *r
	return &cp, nil
}

func (f *fakeFetcher) count(mode collab.FetchMode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.mode == mode {
			n++
		}
	}
	return n
}

func post(url, nativeID, username string, media ...collab.MediaRef) *collab.FetchResult {
	return &collab.FetchResult{
		Post: collab.Post{
			NativeID:    nativeID,
			Username:    username,
			DisplayName: "Display " + username,
			Content:     "caption of " + nativeID,
			URL:         url,
			PublishedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Metrics:     entity.Metrics{"likes": 10, "comments": 2},
			Comments: []entity.Comment{
				{Author: "a", Text: "first", PostedAt: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)},
				{Author: "b", Text: "second", PostedAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)},
			},
		},
		Media: media,
	}
}

type fakeDownloader struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls int
}

func (d *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	b, ok := d.data[url]
	if !ok {
		return nil, &failure.ExternalError{Service: "cdn", Operation: "download", StatusCode: 404}
	}
	return b, nil
}

type fakeStorage struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploads    int
	downloads  int
	failUpload bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (s *fakeStorage) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpload {
		return "", errors.New("bucket unavailable")
	}
	s.uploads++
	url := "https://cdn.test/" + path
	s.objects[url] = append([]byte(nil), data...)
	return url, nil
}

func (s *fakeStorage) Download(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads++
	b, ok := s.objects[url]
	if !ok {
		return nil, &failure.ExternalError{Service: "storage", Operation: "download", StatusCode: 404}
	}
	return b, nil
}

type fakeFrames struct {
	mu         sync.Mutex
	frames     [][]byte
	err        error
	frameCalls int
	audioCalls int
}

func (f *fakeFrames) ExtractFrames(ctx context.Context, video []byte, count int) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frameCalls++
	if f.err != nil {
		return nil, f.err
	}
	if f.frames != nil {
		return f.frames, nil
	}
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		out = append(out, pngFrame)
	}
	return out, nil
}

func (f *fakeFrames) ExtractAudio(ctx context.Context, video []byte, maxSeconds int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioCalls++
	return []byte("audio"), nil
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	errs    map[string]error
	bundles []collab.Bundle

	// started and release hold each call until the test lets it go.
	started chan struct{}
	release chan struct{}
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, b collab.Bundle) (*collab.Analysis, error) {
	if a.release != nil {
		a.started <- struct{}{}
		<-a.release
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bundles = append(a.bundles, b)
	if err, ok := a.errs[b.URL]; ok {
		return nil, err
	}
	return &collab.Analysis{
		Text:       "analysis of " + b.URL,
		Highlights: []string{"strong hook"},
		Usage:      collab.TokenUsage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

func (a *fakeAnalyzer) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bundles)
}

type fakeDispatcher struct {
	ids []uuid.UUID
	err error
}

func (d *fakeDispatcher) DispatchRetry(ctx context.Context, jobID uuid.UUID) error {
	if d.err != nil {
		return d.err
	}
	d.ids = append(d.ids, jobID)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (e *fakeEvents) Emit(ev pipeline.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *fakeEvents) last() pipeline.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

// unlinkedStore acknowledges links without writing them.
type unlinkedStore struct {
	*memory.Store
}

func (unlinkedStore) LinkJobResource(ctx context.Context, jobID, resourceID uuid.UUID) error {
	return nil
}

type harness struct {
	store       *memory.Store
	ledger      *ledger.Ledger
	fetcher     *fakeFetcher
	downloader  *fakeDownloader
	storage     *fakeStorage
	frames      *fakeFrames
	transcriber *fakeTranscriber
	analyzer    *fakeAnalyzer
	events      *fakeEvents
	dispatcher  *fakeDispatcher

	collector *pipeline.Collector
	analyzerS *pipeline.AnalyzerStage
	seq       *pipeline.Sequencer
	retry     *pipeline.RetryCoordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	h := &harness{
		store:       store,
		ledger:      ledger.New(store),
		fetcher:     newFakeFetcher(),
		downloader:  &fakeDownloader{data: map[string][]byte{}},
		storage:     newFakeStorage(),
		frames:      &fakeFrames{},
		transcriber: &fakeTranscriber{text: "hello from the video"},
		analyzer:    &fakeAnalyzer{errs: map[string]error{}},
		events:      &fakeEvents{},
		dispatcher:  &fakeDispatcher{},
	}
	h.wire(store)
	return h
}

func (h *harness) wire(resources pipeline.ResourceStore) {
	log := zerolog.Nop()
	fetchers := map[entity.Platform]collab.Fetcher{
		entity.PlatformInstagram: h.fetcher,
		entity.PlatformTikTok:    h.fetcher,
	}
	h.collector = pipeline.NewCollector(fetchers, resources, h.ledger, h.downloader, h.storage, log)
	media := pipeline.NewMediaStage(resources, h.frames, h.transcriber, h.storage, pipeline.MediaOptions{FramesPerVideo: 3}, log)
	h.analyzerS = pipeline.NewAnalyzerStage(h.analyzer, h.store, h.storage, 1, log)
	h.seq = pipeline.NewSequencer(h.store, resources, h.ledger, h.collector, media, h.analyzerS, h.events, log)
	h.retry = pipeline.NewRetryCoordinator(h.store, h.ledger, h.dispatcher, log)
}

// submit stores a pending job the way the submission service does.
func (h *harness) submit(t *testing.T, urls ...string) *entity.Job {
	t.Helper()
	ctx := context.Background()
	job := &entity.Job{OwnerID: "owner-1", Platform: entity.PlatformInstagram, URLs: urls, MaxRetries: 3}
	if err := h.store.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := h.ledger.Record(ctx, job.ID, 0, entity.StageRequestCreated, 0, "", nil); err != nil {
		t.Fatalf("record request_created: %v", err)
	}
	return job
}

func (h *harness) job(t *testing.T, id uuid.UUID) *entity.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

func (h *harness) entries(t *testing.T, id uuid.UUID) []entity.LedgerEntry {
	t.Helper()
	list, err := h.ledger.Since(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	return list
}

func (h *harness) latestError(t *testing.T, id uuid.UUID) *entity.LedgerEntry {
	t.Helper()
	e, err := h.ledger.LatestError(context.Background(), id)
	if err != nil {
		t.Fatalf("latest error: %v", err)
	}
	return e
}

func boundaryStages(entries []entity.LedgerEntry, attempt int) []entity.Stage {
	var out []entity.Stage
	for _, e := range entries {
		if !e.IsError && e.Attempt == attempt {
			out = append(out, e.Stage)
		}
	}
	return out
}

func progressOf(entries []entity.LedgerEntry, stage entity.Stage) int {
	for _, e := range entries {
		if e.Stage == stage && !e.IsError {
			return e.Progress
		}
	}
	return -1
}

func assertMonotonic(t *testing.T, entries []entity.LedgerEntry) {
	t.Helper()
	high := 0
	var prev time.Time
	for i, e := range entries {
		if i > 0 && !e.CreatedAt.After(prev) {
			t.Fatalf("entry %d not after previous entry", e.Seq)
		}
		prev = e.CreatedAt
		if e.Retryable && !e.IsError {
			t.Fatalf("entry %d retryable without error", e.Seq)
		}
		if e.IsError {
			continue
		}
		if e.Progress < high {
			t.Fatalf("progress went from %d to %d at entry %d (%s)", high, e.Progress, e.Seq, e.Stage)
		}
		high = e.Progress
	}
}

func equalStages(a, b []entity.Stage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
