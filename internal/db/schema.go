package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema crea las tablas del núcleo de mensajería. El índice único sobre el
// par normalizado garantiza una sola conversación por par y tipo.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	is_ai        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversations (
	id                 TEXT PRIMARY KEY,
	participant_low    TEXT NOT NULL,
	participant_high   TEXT NOT NULL,
	is_ai_conversation BOOLEAN NOT NULL DEFAULT FALSE,
	last_message_id    TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL,
	CONSTRAINT conversations_pair_ordered CHECK (participant_low <= participant_high)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
	ON conversations (participant_low, participant_high, is_ai_conversation);

CREATE TABLE IF NOT EXISTS messages (
	id                  TEXT PRIMARY KEY,
	conversation_id     TEXT NOT NULL REFERENCES conversations(id),
	sender_id           TEXT NOT NULL,
	recipient_id        TEXT NOT NULL,
	content             TEXT NOT NULL,
	is_encrypted        BOOLEAN NOT NULL DEFAULT TRUE,
	is_read             BOOLEAN NOT NULL DEFAULT FALSE,
	is_ai_message       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL,
	self_destruct_timer INTEGER,
	self_destruct_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_messages_pair_created
	ON messages (sender_id, recipient_id, created_at);

CREATE INDEX IF NOT EXISTS idx_messages_self_destruct_at
	ON messages (self_destruct_at) WHERE self_destruct_at IS NOT NULL;
`

// EnsureSchema aplica el esquema de forma idempotente.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
