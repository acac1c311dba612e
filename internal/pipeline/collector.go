package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/collab"
	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/platform"
)

// URLFailure records why one input URL produced no resource.
type URLFailure struct {
	URL      string
	Code     string
	Category failure.Category
	Err      error
}

type CollectResult struct {
	Total         int
	Resources     []entity.Resource
	FailedURLs    []string
	Failures      []URLFailure
	ExternalCalls int
	FastPath      map[uuid.UUID]struct{}
	// Duplicates are inputs naming a post already collected under another
	// URL. They are not counted in Total.
	Duplicates []string
}

// IsFastPath reports whether the resource was reused rather than created.
func (r *CollectResult) IsFastPath(id uuid.UUID) bool {
	_, ok := r.FastPath[id]
	return ok
}

// Collector resolves input URLs to resources, reusing known resources
// (fast path) and fetching and capturing new ones (slow path).
type Collector struct {
	fetchers   map[entity.Platform]collab.Fetcher
	resources  ResourceStore
	ledger     *ledger.Ledger
	downloader collab.Downloader
	storage    collab.Storage
	log        zerolog.Logger
}

func NewCollector(
	fetchers map[entity.Platform]collab.Fetcher,
	resources ResourceStore,
	l *ledger.Ledger,
	downloader collab.Downloader,
	storage collab.Storage,
	log zerolog.Logger,
) *Collector {
	return &Collector{
		fetchers:   fetchers,
		resources:  resources,
		ledger:     l,
		downloader: downloader,
		storage:    storage,
		log:        log.With().Str("component", "collector").Logger(),
	}
}

// Collect processes every URL in isolation: a failing input is recorded in
// FailedURLs and never aborts its siblings. The returned error is reserved
// for persistence failures that make the whole stage unreliable.
func (c *Collector) Collect(ctx context.Context, job *entity.Job, urlsByPlatform map[entity.Platform][]string, cache *ByteCache) (*CollectResult, error) {
	res := &CollectResult{FastPath: map[uuid.UUID]struct{}{}}
	seen := map[string]string{}

	platforms := make([]string, 0, len(urlsByPlatform))
	for p := range urlsByPlatform {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)

	for _, p := range platforms {
		for _, raw := range urlsByPlatform[entity.Platform(p)] {
			u := strings.TrimSpace(raw)
			key := postKey(u)
			if first, ok := seen[key]; ok {
				if first != u {
					res.Duplicates = append(res.Duplicates, u)
					c.log.Debug().Str("job_id", job.ID.String()).Str("url", u).Str("same_as", first).Msg("duplicate post link skipped")
				}
				continue
			}
			seen[key] = u
			res.Total++

			r, fast, err := c.collectOne(ctx, job, u, cache, res)
			if err != nil {
				var stageErr *stageError
				if errors.As(err, &stageErr) {
					return res, stageErr.err
				}
				c.recordFailure(res, u, err)
				continue
			}
			res.Resources = append(res.Resources, *r)
			if fast {
				res.FastPath[r.ID] = struct{}{}
			}
		}
	}

	c.log.Info().
		Str("job_id", job.ID.String()).
		Int("total", res.Total).
		Int("collected", len(res.Resources)).
		Int("failed", len(res.FailedURLs)).
		Int("fast_path", len(res.FastPath)).
		Int("external_calls", res.ExternalCalls).
		Msg("collection finished")
	return res, nil
}

// postKey identifies the post a link points at, falling back to the link
// itself when it is not recognised.
func postKey(u string) string {
	if plat, nativeID, ok := platform.Detect(u); ok {
		return string(plat) + "/" + nativeID
	}
	return u
}

// stageError marks a failure that must abort the whole stage.
type stageError struct{ err error }

func (e *stageError) Error() string { return e.err.Error() }

func abort(err error, msg string) error {
	return &stageError{err: eris.Wrap(err, msg)}
}

func (c *Collector) collectOne(ctx context.Context, job *entity.Job, u string, cache *ByteCache, res *CollectResult) (*entity.Resource, bool, error) {
	plat, nativeID, ok := platform.Detect(u)
	if !ok {
		return nil, false, c.invalidURL(ctx, job, u, "not a recognised post link")
	}
	fetcher, ok := c.fetchers[plat]
	if !ok {
		return nil, false, c.invalidURL(ctx, job, u, fmt.Sprintf("platform %s is not supported", plat))
	}

	existing, err := c.resources.FindResource(ctx, plat, nativeID)
	switch {
	case err == nil:
		r, err := c.fastPath(ctx, job, fetcher, existing, u, res)
		return r, true, err
	case errors.Is(err, entity.ErrNotFound):
		return c.slowPath(ctx, job, fetcher, plat, nativeID, u, cache, res)
	default:
		return nil, false, abort(err, "lookup resource")
	}
}

func (c *Collector) fastPath(ctx context.Context, job *entity.Job, fetcher collab.Fetcher, existing *entity.Resource, u string, res *CollectResult) (*entity.Resource, error) {
	res.ExternalCalls++
	fetched, err := fetcher.Fetch(ctx, u, collab.FetchMetrics)
	if err != nil {
		return nil, err
	}
	if fetched == nil {
		return nil, failure.Mark(failure.ErrAPI, "empty metrics response", nil)
	}
	if fetched.Post.Metrics != nil {
		if err := c.resources.UpdateMetrics(ctx, existing.ID, fetched.Post.Metrics); err != nil {
			return nil, abort(err, "update metrics")
		}
		existing.Metrics = fetched.Post.Metrics
	}
	if err := c.resources.LinkJobResource(ctx, job.ID, existing.ID); err != nil {
		return nil, abort(err, "link resource")
	}
	c.log.Debug().
		Str("job_id", job.ID.String()).
		Str("resource_id", existing.ID.String()).
		Msg("fast path: metrics refreshed")
	return existing, nil
}

// slowPath fetches and stores a new resource. It reports fast when another
// job stored the same post first and its record was adopted instead.
func (c *Collector) slowPath(ctx context.Context, job *entity.Job, fetcher collab.Fetcher, plat entity.Platform, nativeID, u string, cache *ByteCache, res *CollectResult) (*entity.Resource, bool, error) {
	res.ExternalCalls++
	fetched, err := fetcher.Fetch(ctx, u, collab.FetchFull)
	if err != nil {
		return nil, false, err
	}
	if fetched == nil {
		return nil, false, failure.Mark(failure.ErrAPI, "empty fetch response", nil)
	}

	post := fetched.Post
	canonical := strings.TrimSpace(post.URL)
	if canonical == "" {
		canonical = u
	}
	r := &entity.Resource{
		Platform:    plat,
		NativeID:    nativeID,
		Username:    post.Username,
		DisplayName: post.DisplayName,
		Content:     post.Content,
		URL:         canonical,
		PublishedAt: post.PublishedAt,
		Metrics:     post.Metrics,
		Comments:    post.Comments,
	}
	if r.DisplayName == "" {
		r.DisplayName = r.Username
	}
	created, err := c.resources.CreateResource(ctx, r)
	if err != nil {
		return nil, false, abort(err, "create resource")
	}
	if !created {
		adopted, err := c.adopt(ctx, job, plat, nativeID)
		return adopted, true, err
	}

	videoIdx := 0
	for i, ref := range fetched.Media {
		m := entity.Media{ResourceID: r.ID, Type: ref.Type, SourceURL: ref.URL}
		if ref.Type == entity.MediaVideo {
			m.VideoIndex = videoIdx
			videoIdx++
		}
		data := c.capture(ctx, job, r, i, &m)
		if err := c.resources.AddMedia(ctx, &m); err != nil {
			return nil, false, abort(err, "add media")
		}
		r.Media = append(r.Media, m)
		if data != nil {
			cache.Put(r.ID, CachedMedia{
				MediaID:     m.ID,
				Type:        m.Type,
				SourceURL:   m.SourceURL,
				ContentType: http.DetectContentType(data),
				VideoIndex:  m.VideoIndex,
				Data:        data,
			})
		}
	}

	if err := c.resources.LinkJobResource(ctx, job.ID, r.ID); err != nil {
		return nil, false, abort(err, "link resource")
	}
	c.log.Debug().
		Str("job_id", job.ID.String()).
		Str("resource_id", r.ID.String()).
		Int("media", len(r.Media)).
		Msg("slow path: resource created")
	return r, false, nil
}

// adopt links the resource another job created concurrently and reuses its
// media rather than adding a second copy.
func (c *Collector) adopt(ctx context.Context, job *entity.Job, plat entity.Platform, nativeID string) (*entity.Resource, error) {
	existing, err := c.resources.FindResource(ctx, plat, nativeID)
	if err != nil {
		return nil, abort(err, "load adopted resource")
	}
	if err := c.resources.LinkJobResource(ctx, job.ID, existing.ID); err != nil {
		return nil, abort(err, "link resource")
	}
	c.log.Debug().
		Str("job_id", job.ID.String()).
		Str("resource_id", existing.ID.String()).
		Msg("slow path: adopted resource stored by another job")
	return existing, nil
}

// capture downloads one media item and uploads it to durable storage.
// Failures degrade to a media record without stored bytes.
func (c *Collector) capture(ctx context.Context, job *entity.Job, r *entity.Resource, idx int, m *entity.Media) []byte {
	log := c.log.With().Str("job_id", job.ID.String()).Str("source_url", m.SourceURL).Logger()
	if c.downloader == nil {
		return nil
	}
	data, err := c.downloader.Download(ctx, m.SourceURL)
	if err != nil || len(data) == 0 {
		log.Warn().Err(err).Msg("media download failed")
		return nil
	}
	if c.storage == nil {
		return data
	}
	contentType := http.DetectContentType(data)
	key := path.Join("resources", r.ID.String(), fmt.Sprintf("%s_%02d%s", m.Type, idx, extension(contentType, m.Type)))
	storageURL, err := c.storage.Upload(ctx, data, key, contentType)
	if err != nil {
		log.Warn().Err(err).Msg("media upload failed")
		return data
	}
	m.StorageURL = storageURL
	m.Uploaded = true
	return data
}

func (c *Collector) invalidURL(ctx context.Context, job *entity.Job, u, reason string) error {
	err := failure.Coded(failure.CodeInvalidURL, failure.ValidationError, false, errors.New(reason))
	_, lErr := c.ledger.RecordError(ctx, job.ID, job.RetryCount, ledger.ErrorEntry{
		Stage:      entity.StageError,
		Message:    "This link isn't a supported post URL.",
		Code:       failure.CodeInvalidURL,
		Retryable:  false,
		Actionable: failure.ActionHint(failure.ValidationError),
		Progress:   entity.StageFetchingPosts.Progress(),
		Metadata:   map[string]any{"url": u},
	})
	if lErr != nil {
		return abort(lErr, "record invalid url")
	}
	return err
}

func (c *Collector) recordFailure(res *CollectResult, u string, err error) {
	category, _ := failure.Classify(err)
	res.FailedURLs = append(res.FailedURLs, u)
	res.Failures = append(res.Failures, URLFailure{URL: u, Code: failure.Code(err), Category: category, Err: err})
	c.log.Warn().Err(err).Str("url", u).Str("category", string(category)).Msg("url failed")
}

func extension(contentType string, t entity.MediaType) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	case strings.HasPrefix(contentType, "video/mp4"):
		return ".mp4"
	case strings.HasPrefix(contentType, "video/webm"):
		return ".webm"
	case t == entity.MediaVideo:
		return ".mp4"
	default:
		return ".bin"
	}
}
