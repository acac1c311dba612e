package postgresql

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"analysis-pipeline/internal/entity"
)

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

// SeedThread takes the resource row lock so two jobs analysing the same
// resource cannot both seed its thread.
func (r *ChatRepository) SeedThread(ctx context.Context, resourceID uuid.UUID, userText, assistantText string) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM resources WHERE id=$1 FOR UPDATE;`, resourceID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_messages WHERE resource_id=$1);`, resourceID).Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	const q = `INSERT INTO chat_messages (id, resource_id, seq, role, content) VALUES ($1, $2, $3, $4, $5);`
	batch := &pgx.Batch{}
	batch.Queue(q, uuid.New(), resourceID, 1, entity.RoleUser, userText)
	batch.Queue(q, uuid.New(), resourceID, 2, entity.RoleAssistant, assistantText)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *ChatRepository) ListThread(ctx context.Context, resourceID uuid.UUID) ([]entity.ChatMessage, error) {
	const q = `SELECT id, resource_id, seq, role, content, created_at FROM chat_messages WHERE resource_id=$1 ORDER BY seq;`
	rows, err := r.pool.Query(ctx, q, resourceID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.ChatMessage, error) {
		var m entity.ChatMessage
		err := row.Scan(&m.ID, &m.ResourceID, &m.Seq, &m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
}
