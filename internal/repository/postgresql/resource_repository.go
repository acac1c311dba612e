package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"analysis-pipeline/internal/entity"
)

type ResourceRepository struct {
	pool *pgxpool.Pool
}

func NewResourceRepository(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

const resourceColumns = `id, platform, native_id, username, display_name, content, url, published_at, metrics, comments, created_at, updated_at`

func (r *ResourceRepository) FindResource(ctx context.Context, platform entity.Platform, nativeID string) (*entity.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE platform=$1 AND native_id=$2;`
	return r.load(ctx, r.pool.QueryRow(ctx, q, string(platform), nativeID))
}

func (r *ResourceRepository) GetResource(ctx context.Context, id uuid.UUID) (*entity.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE id=$1;`
	return r.load(ctx, r.pool.QueryRow(ctx, q, id))
}

func (r *ResourceRepository) load(ctx context.Context, row pgx.Row) (*entity.Resource, error) {
	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	media, err := r.listMedia(ctx, res.ID)
	if err != nil {
		return nil, err
	}
	res.Media = media
	return res, nil
}

// CreateResource upserts on (platform, native_id). A concurrent creator of
// the same resource adopts the existing id, the last write wins and created
// comes back false.
func (r *ResourceRepository) CreateResource(ctx context.Context, res *entity.Resource) (bool, error) {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	metrics, err := json.Marshal(nonNilMetrics(res.Metrics))
	if err != nil {
		return false, fmt.Errorf("encode metrics: %w", err)
	}
	comments, err := json.Marshal(nonNilComments(res.Comments))
	if err != nil {
		return false, fmt.Errorf("encode comments: %w", err)
	}

	const q = `
INSERT INTO resources (id, platform, native_id, username, display_name, content, url, published_at, metrics, comments)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (platform, native_id) DO UPDATE
SET username=EXCLUDED.username, display_name=EXCLUDED.display_name, content=EXCLUDED.content,
    url=EXCLUDED.url, published_at=EXCLUDED.published_at, metrics=EXCLUDED.metrics,
    comments=EXCLUDED.comments, updated_at=now()
RETURNING id, created_at, updated_at, (xmax = 0) AS inserted;
`
	var created bool
	err = r.pool.QueryRow(ctx, q,
		res.ID, string(res.Platform), res.NativeID, res.Username, res.DisplayName, res.Content, res.URL,
		nullTime(res.PublishedAt), metrics, comments,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt, &created)
	return created, err
}

// UpdateMetrics replaces the whole metrics bag.
func (r *ResourceRepository) UpdateMetrics(ctx context.Context, id uuid.UUID, metrics entity.Metrics) error {
	raw, err := json.Marshal(nonNilMetrics(metrics))
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `UPDATE resources SET metrics=$2, updated_at=now() WHERE id=$1;`, id, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ResourceRepository) LinkJobResource(ctx context.Context, jobID, resourceID uuid.UUID) error {
	const q = `INSERT INTO job_resources (job_id, resource_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`
	_, err := r.pool.Exec(ctx, q, jobID, resourceID)
	return err
}

func (r *ResourceRepository) LinkedResourceIDs(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT resource_id FROM job_resources WHERE job_id=$1 ORDER BY created_at;`, jobID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *ResourceRepository) ListJobResources(ctx context.Context, jobID uuid.UUID) ([]entity.Resource, error) {
	ids, err := r.LinkedResourceIDs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Resource, 0, len(ids))
	for _, id := range ids {
		res, err := r.GetResource(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, nil
}

func (r *ResourceRepository) AddMedia(ctx context.Context, m *entity.Media) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	const q = `
INSERT INTO media (id, resource_id, type, source_url, storage_url, uploaded, transcript, video_index, frame_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at;
`
	return r.pool.QueryRow(ctx, q,
		m.ID, m.ResourceID, string(m.Type), m.SourceURL, m.StorageURL, m.Uploaded, m.Transcript, m.VideoIndex, m.FrameIndex,
	).Scan(&m.CreatedAt)
}

func (r *ResourceRepository) SetTranscript(ctx context.Context, mediaID uuid.UUID, transcript string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE media SET transcript=$2 WHERE id=$1;`, mediaID, transcript)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ResourceRepository) listMedia(ctx context.Context, resourceID uuid.UUID) ([]entity.Media, error) {
	const q = `
SELECT id, resource_id, type, source_url, storage_url, uploaded, transcript, video_index, frame_index, created_at
FROM media
WHERE resource_id=$1
ORDER BY created_at;
`
	rows, err := r.pool.Query(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Media
	for rows.Next() {
		var (
			m   entity.Media
			typ string
		)
		if err := rows.Scan(&m.ID, &m.ResourceID, &typ, &m.SourceURL, &m.StorageURL, &m.Uploaded, &m.Transcript, &m.VideoIndex, &m.FrameIndex, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = entity.MediaType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanResource(row pgx.Row) (*entity.Resource, error) {
	var (
		res         entity.Resource
		platform    string
		publishedAt *time.Time
		metrics     []byte
		comments    []byte
	)
	if err := row.Scan(
		&res.ID, &platform, &res.NativeID, &res.Username, &res.DisplayName, &res.Content, &res.URL,
		&publishedAt, &metrics, &comments, &res.CreatedAt, &res.UpdatedAt,
	); err != nil {
		return nil, err
	}
	res.Platform = entity.Platform(platform)
	if publishedAt != nil {
		res.PublishedAt = *publishedAt
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &res.Metrics); err != nil {
			return nil, fmt.Errorf("decode metrics: %w", err)
		}
	}
	if len(comments) > 0 {
		if err := json.Unmarshal(comments, &res.Comments); err != nil {
			return nil, fmt.Errorf("decode comments: %w", err)
		}
	}
	return &res, nil
}

func nonNilMetrics(m entity.Metrics) entity.Metrics {
	if m == nil {
		return entity.Metrics{}
	}
	return m
}

func nonNilComments(c []entity.Comment) []entity.Comment {
	if c == nil {
		return []entity.Comment{}
	}
	return c
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
