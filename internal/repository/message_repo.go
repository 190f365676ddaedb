package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"securechat/internal/clock"
	"securechat/internal/domain"
)

// MessageRepository define el contrato de persistencia para mensajes.
// Ningún método devuelve mensajes cuyo self_destruct_at ya pasó.
type MessageRepository interface {
	// Create asigna ID y fecha si faltan y, en la misma transacción, mueve
	// el puntero de último mensaje de la conversación.
	Create(ctx context.Context, message domain.Message) (domain.Message, error)
	GetByID(ctx context.Context, id string) (domain.Message, error)
	MarkRead(ctx context.Context, messageID, readerID string) (bool, error)
	Delete(ctx context.Context, messageID string) (bool, error)
	ListBetween(ctx context.Context, userA, userB string, since *time.Time) ([]domain.Message, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type PgMessageRepository struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewPgMessageRepository(pool *pgxpool.Pool, clk clock.Clock) *PgMessageRepository {
	if clk == nil {
		clk = clock.Real{}
	}
	return &PgMessageRepository{pool: pool, clock: clk}
}

const messageColumns = `id, conversation_id, sender_id, recipient_id, content, is_encrypted, is_read,
	is_ai_message, created_at, self_destruct_timer, self_destruct_at`

func (r *PgMessageRepository) Create(ctx context.Context, message domain.Message) (domain.Message, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.clock.Now()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Message{}, storageErr("begin create message", err)
	}
	defer tx.Rollback(ctx)

	const insert = `
		INSERT INTO messages (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = tx.Exec(ctx, insert,
		message.ID,
		message.ConversationID,
		message.SenderID,
		message.RecipientID,
		message.Content,
		message.IsEncrypted,
		message.IsRead,
		message.IsAIMessage,
		message.CreatedAt,
		message.SelfDestructTimer,
		message.SelfDestructAt,
	)
	if err != nil {
		return domain.Message{}, storageErr("insert message", err)
	}

	const touch = `
		UPDATE conversations
		SET last_message_id = $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, touch, message.ConversationID, message.ID, message.CreatedAt)
	if err != nil {
		return domain.Message{}, storageErr("update conversation pointer", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Message{}, storageErr("update conversation pointer", ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, storageErr("commit create message", err)
	}
	return message, nil
}

func (r *PgMessageRepository) GetByID(ctx context.Context, id string) (domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE id = $1 AND (self_destruct_at IS NULL OR self_destruct_at > $2)
	`
	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id, r.clock.Now()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, ErrNotFound
	}
	if err != nil {
		return domain.Message{}, storageErr("get message", err)
	}
	return msg, nil
}

func (r *PgMessageRepository) MarkRead(ctx context.Context, messageID, readerID string) (bool, error) {
	const query = `
		UPDATE messages
		SET is_read = TRUE
		WHERE id = $1 AND recipient_id = $2
			AND (self_destruct_at IS NULL OR self_destruct_at > $3)
	`
	tag, err := r.pool.Exec(ctx, query, messageID, readerID, r.clock.Now())
	if err != nil {
		return false, storageErr("mark read", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgMessageRepository) Delete(ctx context.Context, messageID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return false, storageErr("delete message", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgMessageRepository) ListBetween(ctx context.Context, userA, userB string, since *time.Time) ([]domain.Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
			AND (self_destruct_at IS NULL OR self_destruct_at > $3)
			AND ($4::timestamptz IS NULL OR created_at > $4)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, userA, userB, r.clock.Now(), since)
	if err != nil {
		return nil, storageErr("list messages", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list messages", err)
	}
	return messages, nil
}

func (r *PgMessageRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		DELETE FROM messages
		WHERE self_destruct_at IS NOT NULL AND self_destruct_at <= $1
	`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, storageErr("purge expired messages", err)
	}
	return tag.RowsAffected(), nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var msg domain.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.RecipientID,
		&msg.Content,
		&msg.IsEncrypted,
		&msg.IsRead,
		&msg.IsAIMessage,
		&msg.CreatedAt,
		&msg.SelfDestructTimer,
		&msg.SelfDestructAt,
	)
	return msg, err
}
