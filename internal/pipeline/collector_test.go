package pipeline_test

import (
	"context"
	"sync"
	"testing"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/repository/memory"
)

func TestCollect_FastPathIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.results[urlC] = post(urlC, "CCC333", "carol",
		collab.MediaRef{URL: imgA, Type: entity.MediaThumbnail},
		collab.MediaRef{URL: vidC, Type: entity.MediaVideo},
	)
	h.downloader.data[imgA] = pngFrame
	h.downloader.data[vidC] = []byte("fake mp4 payload")

	urls := map[entity.Platform][]string{entity.PlatformInstagram: {urlC}}

	first := h.submit(t, urlC)
	res, err := h.collector.Collect(ctx, first, urls, pipeline.NewByteCache())
	if err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if len(res.Resources) != 1 || len(res.FastPath) != 0 {
		t.Fatalf("expected one slow-path resource, got %+v", res)
	}
	if h.store.ResourceCount() != 1 || h.store.MediaCount() != 2 || h.storage.uploads != 2 {
		t.Fatalf("unexpected state after slow path: resources=%d media=%d uploads=%d",
			h.store.ResourceCount(), h.store.MediaCount(), h.storage.uploads)
	}
	downloads := h.downloader.calls

	h.fetcher.results[urlC].Post.Metrics = entity.Metrics{"likes": 99}
	for i := 0; i < 2; i++ {
		job := h.submit(t, urlC)
		cache := pipeline.NewByteCache()
		res, err := h.collector.Collect(ctx, job, urls, cache)
		if err != nil {
			t.Fatalf("collect %d: %v", i, err)
		}
		if len(res.Resources) != 1 || !res.IsFastPath(res.Resources[0].ID) {
			t.Fatalf("expected fast path, got %+v", res)
		}
		if res.ExternalCalls != 1 {
			t.Fatalf("expected exactly one external call, got %d", res.ExternalCalls)
		}
		if cache.Size() != 0 {
			t.Fatal("fast path must not load media bytes")
		}
		if res.Resources[0].Metrics["likes"] != 99 {
			t.Fatalf("expected refreshed metrics, got %v", res.Resources[0].Metrics)
		}
		linked, _ := h.store.LinkedResourceIDs(ctx, job.ID)
		if len(linked) != 1 || linked[0] != res.Resources[0].ID {
			t.Fatalf("expected resource linked to job, got %v", linked)
		}
	}

	if h.store.ResourceCount() != 1 || h.store.MediaCount() != 2 {
		t.Fatalf("fast path created records: resources=%d media=%d", h.store.ResourceCount(), h.store.MediaCount())
	}
	if h.storage.uploads != 2 || h.downloader.calls != downloads {
		t.Fatalf("fast path re-fetched media: uploads=%d downloads=%d", h.storage.uploads, h.downloader.calls)
	}
	if h.fetcher.count(collab.FetchFull) != 1 || h.fetcher.count(collab.FetchMetrics) != 2 {
		t.Fatalf("unexpected fetch shapes: %+v", h.fetcher.calls)
	}

	stored, err := h.store.FindResource(ctx, entity.PlatformInstagram, "CCC333")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metrics["likes"] != 99 {
		t.Fatalf("expected persisted metrics refresh, got %v", stored.Metrics)
	}
}

func TestCollect_IsolatesFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.results[urlA] = post(urlA, "AAA111", "alice")
	h.fetcher.errs[urlB] = &failure.ExternalError{Service: "scraper", StatusCode: 429}
	tiktok := "https://www.tiktok.com/@dan/video/7300000000000000001"
	h.fetcher.results[tiktok] = post(tiktok, "7300000000000000001", "dan")

	job := h.submit(t, urlA, urlB, urlX, tiktok)
	urls := map[entity.Platform][]string{
		entity.PlatformInstagram: {urlA, urlB, urlX, urlA},
		entity.PlatformTikTok:    {tiktok},
	}
	res, err := h.collector.Collect(ctx, job, urls, pipeline.NewByteCache())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if res.Total != 4 {
		t.Fatalf("expected duplicate input to be collapsed, total=%d", res.Total)
	}
	if len(res.Resources)+len(res.FailedURLs) != res.Total {
		t.Fatalf("counts do not add up: %d + %d != %d", len(res.Resources), len(res.FailedURLs), res.Total)
	}
	if len(res.Resources) != 2 || len(res.FailedURLs) != 2 {
		t.Fatalf("expected 2 resources and 2 failures, got %d and %v", len(res.Resources), res.FailedURLs)
	}

	byURL := map[string]pipeline.URLFailure{}
	for _, f := range res.Failures {
		byURL[f.URL] = f
	}
	if byURL[urlB].Category != failure.RateLimit {
		t.Fatalf("expected rate_limit for %s, got %s", urlB, byURL[urlB].Category)
	}
	if byURL[urlX].Code != failure.CodeInvalidURL {
		t.Fatalf("expected INVALID_URL for %s, got %s", urlX, byURL[urlX].Code)
	}

	errEntry := h.latestError(t, job.ID)
	if errEntry.ErrorCode != failure.CodeInvalidURL || errEntry.Retryable {
		t.Fatalf("expected a non-retryable INVALID_URL ledger entry, got %+v", errEntry)
	}
}

func TestCollect_UnsupportedPlatform(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	yt := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

	job := h.submit(t, yt)
	res, err := h.collector.Collect(ctx, job, map[entity.Platform][]string{entity.PlatformYouTube: {yt}}, pipeline.NewByteCache())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.FailedURLs) != 1 || res.Failures[0].Code != failure.CodeInvalidURL {
		t.Fatalf("expected INVALID_URL for platform without fetcher, got %+v", res.Failures)
	}
	if len(h.fetcher.calls) != 0 {
		t.Fatal("no fetch expected")
	}
}

func TestCollect_UploadFailureDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storage.failUpload = true
	h.fetcher.results[urlA] = post(urlA, "AAA111", "alice", collab.MediaRef{URL: imgA, Type: entity.MediaImage})
	h.downloader.data[imgA] = pngFrame

	job := h.submit(t, urlA)
	cache := pipeline.NewByteCache()
	res, err := h.collector.Collect(ctx, job, map[entity.Platform][]string{entity.PlatformInstagram: {urlA}}, cache)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	m := res.Resources[0].Media[0]
	if m.Uploaded || m.StorageURL != "" {
		t.Fatalf("expected media without durable copy, got %+v", m)
	}
	if cache.Size() != len(pngFrame) {
		t.Fatalf("expected bytes to stay cached for analysis, got %d", cache.Size())
	}
}

func TestCollect_SamePostUnderTwoLinks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reelA := "https://www.instagram.com/reel/AAA111/"
	h.fetcher.results[urlA] = post(urlA, "AAA111", "alice", collab.MediaRef{URL: vidC, Type: entity.MediaVideo})
	h.fetcher.results[reelA] = post(reelA, "AAA111", "alice", collab.MediaRef{URL: vidC, Type: entity.MediaVideo})
	h.downloader.data[vidC] = []byte("fake mp4 payload")

	job := h.submit(t, urlA, reelA)
	res, err := h.collector.Collect(ctx, job, map[entity.Platform][]string{entity.PlatformInstagram: {urlA, reelA}}, pipeline.NewByteCache())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if res.Total != 1 || len(res.Resources) != 1 {
		t.Fatalf("expected one post, got total=%d resources=%d", res.Total, len(res.Resources))
	}
	if res.IsFastPath(res.Resources[0].ID) {
		t.Fatal("the only entry must be the slow-path resource")
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != reelA {
		t.Fatalf("expected the reel link reported as duplicate, got %v", res.Duplicates)
	}
	if len(h.fetcher.calls) != 1 {
		t.Fatalf("expected one fetch, got %+v", h.fetcher.calls)
	}
}

// racingStore hides the resource from the first lookup, as if another job
// inserted it between the lookup and the insert.
type racingStore struct {
	*memory.Store
	mu     sync.Mutex
	hidden bool
}

func (s *racingStore) FindResource(ctx context.Context, platform entity.Platform, nativeID string) (*entity.Resource, error) {
	s.mu.Lock()
	hide := !s.hidden
	s.hidden = true
	s.mu.Unlock()
	if hide {
		return nil, entity.ErrNotFound
	}
	return s.Store.FindResource(ctx, platform, nativeID)
}

func TestCollect_AdoptsConcurrentlyCreatedResource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetcher.results[urlC] = post(urlC, "CCC333", "carol",
		collab.MediaRef{URL: imgA, Type: entity.MediaThumbnail},
		collab.MediaRef{URL: vidC, Type: entity.MediaVideo},
	)
	h.downloader.data[imgA] = pngFrame
	h.downloader.data[vidC] = []byte("fake mp4 payload")
	urls := map[entity.Platform][]string{entity.PlatformInstagram: {urlC}}

	winner := h.submit(t, urlC)
	if _, err := h.collector.Collect(ctx, winner, urls, pipeline.NewByteCache()); err != nil {
		t.Fatalf("first collect: %v", err)
	}
	if h.store.MediaCount() != 2 {
		t.Fatalf("expected two media rows, got %d", h.store.MediaCount())
	}

	h.wire(&racingStore{Store: h.store})
	loser := h.submit(t, urlC)
	cache := pipeline.NewByteCache()
	res, err := h.collector.Collect(ctx, loser, urls, cache)
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if len(res.Resources) != 1 || !res.IsFastPath(res.Resources[0].ID) {
		t.Fatalf("expected the adopted resource on the fast path, got %+v", res)
	}
	if h.store.ResourceCount() != 1 || h.store.MediaCount() != 2 {
		t.Fatalf("adoption duplicated records: resources=%d media=%d", h.store.ResourceCount(), h.store.MediaCount())
	}
	if len(res.Resources[0].Media) != 2 {
		t.Fatalf("expected the stored media on the adopted resource, got %d", len(res.Resources[0].Media))
	}
	if cache.Size() != 0 {
		t.Fatal("adopted resource must not cache the discarded copies")
	}
	linked, _ := h.store.LinkedResourceIDs(ctx, loser.ID)
	if len(linked) != 1 || linked[0] != res.Resources[0].ID {
		t.Fatalf("expected resource linked to the second job, got %v", linked)
	}
}
