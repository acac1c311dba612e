package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id               uuid PRIMARY KEY,
    owner_id         text        NOT NULL,
    platform         text        NOT NULL,
    urls             text[]      NOT NULL,
    status           text        NOT NULL DEFAULT 'pending',
    retry_count      int         NOT NULL DEFAULT 0,
    max_retries      int         NOT NULL DEFAULT 3,
    last_stage       text,
    display_name     text        NOT NULL DEFAULT '',
    result           jsonb,
    error_category   text,
    error_message    text,
    error_diagnostic jsonb,
    created_at       timestamptz NOT NULL DEFAULT now(),
    updated_at       timestamptz NOT NULL DEFAULT now(),
    CONSTRAINT jobs_retry_budget CHECK (retry_count <= max_retries),
    CONSTRAINT jobs_urls_present CHECK (cardinality(urls) > 0)
);
CREATE INDEX IF NOT EXISTS jobs_owner_idx ON jobs (owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS resources (
    id           uuid PRIMARY KEY,
    platform     text        NOT NULL,
    native_id    text        NOT NULL,
    username     text        NOT NULL DEFAULT '',
    display_name text        NOT NULL DEFAULT '',
    content      text        NOT NULL DEFAULT '',
    url          text        NOT NULL,
    published_at timestamptz,
    metrics      jsonb       NOT NULL DEFAULT '{}',
    comments     jsonb       NOT NULL DEFAULT '[]',
    created_at   timestamptz NOT NULL DEFAULT now(),
    updated_at   timestamptz NOT NULL DEFAULT now(),
    CONSTRAINT resources_platform_native_key UNIQUE (platform, native_id)
);

CREATE TABLE IF NOT EXISTS media (
    id          uuid PRIMARY KEY,
    resource_id uuid        NOT NULL REFERENCES resources (id) ON DELETE CASCADE,
    type        text        NOT NULL,
    source_url  text        NOT NULL,
    storage_url text        NOT NULL DEFAULT '',
    uploaded    boolean     NOT NULL DEFAULT false,
    transcript  text        NOT NULL DEFAULT '',
    video_index int         NOT NULL DEFAULT 0,
    frame_index int         NOT NULL DEFAULT 0,
    created_at  timestamptz NOT NULL DEFAULT clock_timestamp()
);
CREATE INDEX IF NOT EXISTS media_resource_idx ON media (resource_id, created_at);

CREATE TABLE IF NOT EXISTS job_resources (
    job_id      uuid        NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
    resource_id uuid        NOT NULL REFERENCES resources (id) ON DELETE CASCADE,
    created_at  timestamptz NOT NULL DEFAULT now(),
    PRIMARY KEY (job_id, resource_id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id         uuid PRIMARY KEY,
    job_id     uuid        NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
    seq        bigint      NOT NULL,
    attempt    int         NOT NULL DEFAULT 0,
    stage      text        NOT NULL,
    message    text        NOT NULL,
    progress   int         NOT NULL CHECK (progress BETWEEN 0 AND 100),
    metadata   jsonb,
    is_error   boolean     NOT NULL DEFAULT false,
    error_code text        NOT NULL DEFAULT '',
    retryable  boolean     NOT NULL DEFAULT false,
    actionable text        NOT NULL DEFAULT '',
    created_at timestamptz NOT NULL DEFAULT clock_timestamp(),
    CONSTRAINT ledger_entries_job_seq_key UNIQUE (job_id, seq),
    CONSTRAINT ledger_entries_retryable_error CHECK (NOT retryable OR is_error)
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id          uuid PRIMARY KEY,
    resource_id uuid        NOT NULL REFERENCES resources (id) ON DELETE CASCADE,
    seq         int         NOT NULL,
    role        text        NOT NULL,
    content     text        NOT NULL,
    created_at  timestamptz NOT NULL DEFAULT clock_timestamp(),
    CONSTRAINT chat_messages_resource_seq_key UNIQUE (resource_id, seq)
);
`

// Migrate creates the schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
