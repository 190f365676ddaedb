package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"securechat/internal/clock"
	"securechat/internal/domain"
)

// ConversationRepository define el contrato de persistencia para conversaciones.
type ConversationRepository interface {
	FindOrCreate(ctx context.Context, userA, userB string, isAI bool) (domain.Conversation, error)
	GetByID(ctx context.Context, id string) (domain.Conversation, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error)
}

// PgConversationRepository implementa ConversationRepository usando pgxpool.
type PgConversationRepository struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPgConversationRepository(pool *pgxpool.Pool, clk clock.Clock) *PgConversationRepository {
	if clk == nil {
		clk = clock.Real{}
	}
	return &PgConversationRepository{pool: pool, clock: clk}
}

// FindOrCreate es atómico gracias al índice único sobre el par normalizado:
// el upsert devuelve siempre la fila existente o la recién creada.
func (r *PgConversationRepository) FindOrCreate(ctx context.Context, userA, userB string, isAI bool) (domain.Conversation, error) {
	const query = `
		INSERT INTO conversations (id, participant_low, participant_high, is_ai_conversation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (participant_low, participant_high, is_ai_conversation)
		DO UPDATE SET participant_low = EXCLUDED.participant_low
		RETURNING id, participant_low, participant_high, is_ai_conversation, last_message_id, created_at, updated_at
	`
	low, high := domain.NormalizePair(userA, userB)
	row := r.pool.QueryRow(ctx, query, uuid.NewString(), low, high, isAI, r.clock.Now())
	conv, err := scanConversation(row)
	if err != nil {
		return domain.Conversation{}, storageErr("find or create conversation", err)
	}
	return conv, nil
}

func (r *PgConversationRepository) GetByID(ctx context.Context, id string) (domain.Conversation, error) {
	const query = `
		SELECT id, participant_low, participant_high, is_ai_conversation, last_message_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	conv, err := scanConversation(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, storageErr("get conversation", err)
	}
	return conv, nil
}

func (r *PgConversationRepository) ListByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	const query = `
		SELECT id, participant_low, participant_high, is_ai_conversation, last_message_id, created_at, updated_at
		FROM conversations
		WHERE participant_low = $1 OR participant_high = $1
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	conversations := []domain.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("scan conversation", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return conversations, nil
}

func scanConversation(row pgx.Row) (domain.Conversation, error) {
	var (
		conv          domain.Conversation
		lastMessageID *string
	)
	err := row.Scan(
		&conv.ID,
		&conv.Participants[0],
		&conv.Participants[1],
		&conv.IsAIConversation,
		&lastMessageID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	if lastMessageID != nil {
		conv.LastMessageID = *lastMessageID
	}
	return conv, nil
}
