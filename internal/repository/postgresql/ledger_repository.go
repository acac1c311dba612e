package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"analysis-pipeline/internal/entity"
)

type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const entryColumns = `id, job_id, seq, attempt, stage, message, progress, metadata, is_error, error_code, retryable, actionable, created_at`

// AppendEntry locks the job row so seq stays dense under concurrent writers.
func (r *LedgerRepository) AppendEntry(ctx context.Context, e *entity.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = raw
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id=$1 FOR UPDATE;`, e.JobID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	const q = `
INSERT INTO ledger_entries (id, job_id, seq, attempt, stage, message, progress, metadata, is_error, error_code, retryable, actionable)
SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10, $11
FROM ledger_entries
WHERE job_id=$2
RETURNING seq, created_at;
`
	if err := tx.QueryRow(ctx, q,
		e.ID, e.JobID, e.Attempt, string(e.Stage), e.Message, e.Progress, meta,
		e.IsError, e.ErrorCode, e.Retryable, e.Actionable,
	).Scan(&e.Seq, &e.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *LedgerRepository) ListEntries(ctx context.Context, jobID uuid.UUID, afterSeq int64) ([]entity.LedgerEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE job_id=$1 AND seq > $2 ORDER BY seq;`
	rows, err := r.pool.Query(ctx, q, jobID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) LatestEntry(ctx context.Context, jobID uuid.UUID, errorsOnly bool) (*entity.LedgerEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE job_id=$1 AND ($2 = false OR is_error) ORDER BY seq DESC LIMIT 1;`
	e, err := scanEntry(r.pool.QueryRow(ctx, q, jobID, errorsOnly))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *LedgerRepository) MaxProgress(ctx context.Context, jobID uuid.UUID) (int, error) {
	const q = `SELECT COALESCE(MAX(progress), 0) FROM ledger_entries WHERE job_id=$1 AND NOT is_error;`
	var high int
	if err := r.pool.QueryRow(ctx, q, jobID).Scan(&high); err != nil {
		return 0, err
	}
	return high, nil
}

func scanEntry(row pgx.Row) (*entity.LedgerEntry, error) {
	var (
		e     entity.LedgerEntry
		stage string
		meta  []byte
	)
	if err := row.Scan(
		&e.ID, &e.JobID, &e.Seq, &e.Attempt, &stage, &e.Message, &e.Progress, &meta,
		&e.IsError, &e.ErrorCode, &e.Retryable, &e.Actionable, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Stage = entity.Stage(stage)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}
