// Package memory is an in-process implementation of every repository port.
// It keeps the same guarantees as the Postgres repositories: (platform,
// native id) uniqueness, idempotent job links, dense per-job ledger sequence
// numbers and strictly increasing creation times.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"analysis-pipeline/internal/entity"
)

type resourceKey struct {
	platform entity.Platform
	nativeID string
}

type Store struct {
	mu sync.Mutex

	jobs      map[uuid.UUID]*entity.Job
	resources map[uuid.UUID]*entity.Resource
	byNative  map[resourceKey]uuid.UUID
	media     map[uuid.UUID]*entity.Media
	links     map[uuid.UUID][]uuid.UUID
	entries   map[uuid.UUID][]entity.LedgerEntry
	threads   map[uuid.UUID][]entity.ChatMessage

	last time.Time
}

func New() *Store {
	return &Store{
		jobs:      map[uuid.UUID]*entity.Job{},
		resources: map[uuid.UUID]*entity.Resource{},
		byNative:  map[resourceKey]uuid.UUID{},
		media:     map[uuid.UUID]*entity.Media{},
		links:     map[uuid.UUID][]uuid.UUID{},
		entries:   map[uuid.UUID][]entity.LedgerEntry{},
		threads:   map[uuid.UUID][]entity.ChatMessage{},
	}
}

// now must be called with mu held.
func (s *Store) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// ---- jobs ----

func (s *Store) CreateJob(ctx context.Context, job *entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = entity.StatusPending
	}
	now := s.now()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status entity.JobStatus) error {
	return s.mutateJob(id, func(j *entity.Job) { j.Status = status })
}

func (s *Store) SetDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	return s.mutateJob(id, func(j *entity.Job) { j.DisplayName = name })
}

func (s *Store) SaveProgress(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error {
	return s.mutateProcessing(id, func(j *entity.Job) {
		st := lastStage
		j.LastStage = &st
		if result != nil {
			j.Result = append(json.RawMessage(nil), result...)
		}
	})
}

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, lastStage entity.Stage, result json.RawMessage) error {
	return s.mutateProcessing(id, func(j *entity.Job) {
		st := lastStage
		j.LastStage = &st
		j.Status = entity.StatusCompleted
		j.Result = append(json.RawMessage(nil), result...)
		j.Error = nil
	})
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, lastStage *entity.Stage, jobErr entity.JobError) error {
	return s.mutateProcessing(id, func(j *entity.Job) {
		if lastStage != nil {
			st := *lastStage
			j.LastStage = &st
		} else {
			j.LastStage = nil
		}
		j.Status = entity.StatusFailed
		e := jobErr
		j.Error = &e
	})
}

func (s *Store) ResetForRetry(ctx context.Context, id uuid.UUID, expectedRetryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return entity.ErrNotFound
	}
	if j.Status != entity.StatusFailed || j.RetryCount != expectedRetryCount || j.RetryCount >= j.MaxRetries {
		return entity.ErrConflict
	}
	j.RetryCount++
	j.Error = nil
	j.Status = entity.StatusPending
	j.UpdatedAt = s.now()
	return nil
}

func (s *Store) mutateJob(id uuid.UUID, fn func(*entity.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return entity.ErrNotFound
	}
	fn(j)
	j.UpdatedAt = s.now()
	return nil
}

// mutateProcessing applies fn only while the job is processing.
func (s *Store) mutateProcessing(id uuid.UUID, fn func(*entity.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return entity.ErrNotFound
	}
	if j.Status != entity.StatusProcessing {
		return entity.ErrConflict
	}
	fn(j)
	j.UpdatedAt = s.now()
	return nil
}

func cloneJob(j *entity.Job) *entity.Job {
	cp := *j
	cp.URLs = append([]string(nil), j.URLs...)
	if j.LastStage != nil {
		st := *j.LastStage
		cp.LastStage = &st
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	cp.Result = append(json.RawMessage(nil), j.Result...)
	if len(cp.Result) == 0 {
		cp.Result = nil
	}
	return &cp
}

// ---- resources ----

func (s *Store) FindResource(ctx context.Context, platform entity.Platform, nativeID string) (*entity.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byNative[resourceKey{platform, nativeID}]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return s.resourceLocked(id), nil
}

func (s *Store) GetResource(ctx context.Context, id uuid.UUID) (*entity.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return nil, entity.ErrNotFound
	}
	return s.resourceLocked(id), nil
}

// CreateResource inserts r, or overwrites the existing row for the same
// (platform, native id) and adopts its id. created is false on adoption.
func (s *Store) CreateResource(ctx context.Context, r *entity.Resource) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resourceKey{r.Platform, r.NativeID}
	now := s.now()
	id, adopted := s.byNative[key]
	if adopted {
		existing := s.resources[id]
		r.ID = id
		r.CreatedAt = existing.CreatedAt
	} else {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	cp := *r
	cp.Metrics = cloneMetrics(r.Metrics)
	cp.Comments = append([]entity.Comment(nil), r.Comments...)
	cp.Media = nil
	s.resources[r.ID] = &cp
	s.byNative[key] = r.ID
	return !adopted, nil
}

func (s *Store) UpdateMetrics(ctx context.Context, id uuid.UUID, metrics entity.Metrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[id]
	if !ok {
		return entity.ErrNotFound
	}
	r.Metrics = cloneMetrics(metrics)
	r.UpdatedAt = s.now()
	return nil
}

func (s *Store) LinkJobResource(ctx context.Context, jobID, resourceID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[resourceID]; !ok {
		return entity.ErrNotFound
	}
	for _, id := range s.links[jobID] {
		if id == resourceID {
			return nil
		}
	}
	s.links[jobID] = append(s.links[jobID], resourceID)
	return nil
}

func (s *Store) LinkedResourceIDs(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]uuid.UUID(nil), s.links[jobID]...), nil
}

func (s *Store) ListJobResources(ctx context.Context, jobID uuid.UUID) ([]entity.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]entity.Resource, 0, len(s.links[jobID]))
	for _, id := range s.links[jobID] {
		out = append(out, *s.resourceLocked(id))
	}
	return out, nil
}

func (s *Store) AddMedia(ctx context.Context, m *entity.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[m.ResourceID]; !ok {
		return entity.ErrNotFound
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = s.now()
	cp := *m
	s.media[m.ID] = &cp
	return nil
}

func (s *Store) SetTranscript(ctx context.Context, mediaID uuid.UUID, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.media[mediaID]
	if !ok {
		return entity.ErrNotFound
	}
	m.Transcript = transcript
	return nil
}

// MediaCount is the number of stored media items across all resources.
func (s *Store) MediaCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.media)
}

// ResourceCount is the number of stored resources.
func (s *Store) ResourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources)
}

func (s *Store) resourceLocked(id uuid.UUID) *entity.Resource {
	r := *s.resources[id]
	r.Metrics = cloneMetrics(r.Metrics)
	r.Comments = append([]entity.Comment(nil), r.Comments...)
	r.Media = nil
	for _, m := range s.media {
		if m.ResourceID == id {
			r.Media = append(r.Media, *m)
		}
	}
	sort.Slice(r.Media, func(i, j int) bool { return r.Media[i].CreatedAt.Before(r.Media[j].CreatedAt) })
	return &r
}

func cloneMetrics(m entity.Metrics) entity.Metrics {
	if m == nil {
		return nil
	}
	cp := make(entity.Metrics, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// ---- ledger ----

func (s *Store) AppendEntry(ctx context.Context, e *entity.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Seq = int64(len(s.entries[e.JobID]) + 1)
	e.CreatedAt = s.now()
	s.entries[e.JobID] = append(s.entries[e.JobID], *e)
	return nil
}

func (s *Store) ListEntries(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]entity.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []entity.LedgerEntry
	for _, e := range s.entries[jobID] {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) LatestEntry(ctx context.Context, jobID uuid.UUID, errorsOnly bool) (*entity.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.entries[jobID]
	for i := len(list) - 1; i >= 0; i-- {
		if errorsOnly && !list[i].IsError {
			continue
		}
		e := list[i]
		return &e, nil
	}
	return nil, entity.ErrNotFound
}

func (s *Store) MaxProgress(ctx context.Context, jobID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	high := 0
	for _, e := range s.entries[jobID] {
		if !e.IsError && e.Progress > high {
			high = e.Progress
		}
	}
	return high, nil
}

// ---- chat threads ----

func (s *Store) SeedThread(ctx context.Context, resourceID uuid.UUID, userText, assistantText string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.threads[resourceID]) > 0 {
		return false, nil
	}
	s.threads[resourceID] = []entity.ChatMessage{
		{ID: uuid.New(), ResourceID: resourceID, Seq: 1, Role: entity.RoleUser, Content: userText, CreatedAt: s.now()},
		{ID: uuid.New(), ResourceID: resourceID, Seq: 2, Role: entity.RoleAssistant, Content: assistantText, CreatedAt: s.now()},
	}
	return true, nil
}

func (s *Store) ListThread(ctx context.Context, resourceID uuid.UUID) ([]entity.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]entity.ChatMessage(nil), s.threads[resourceID]...), nil
}
