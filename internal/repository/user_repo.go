package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"securechat/internal/domain"
)

// UserRepository expone lo poco que el núcleo necesita del subsistema de usuarios.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (domain.User, error)
	// EnsureAssistant busca o crea el usuario sintético del asistente por email.
	EnsureAssistant(ctx context.Context, email, displayName string) (domain.User, error)
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	const query = `
		SELECT id, email, display_name, is_ai, created_at
		FROM users
		WHERE id = $1
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.IsAI,
		&u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, storageErr("get user", err)
	}
	return u, nil
}

func (r *PgUserRepository) EnsureAssistant(ctx context.Context, email, displayName string) (domain.User, error) {
	const query = `
		INSERT INTO users (id, email, display_name, is_ai, created_at)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (email) DO UPDATE SET is_ai = TRUE
		RETURNING id, email, display_name, is_ai, created_at
	`
	var u domain.User
	err := r.pool.QueryRow(ctx, query, uuid.NewString(), email, displayName, time.Now().UTC()).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.IsAI,
		&u.CreatedAt,
	)
	if err != nil {
		return domain.User{}, storageErr("ensure assistant user", err)
	}
	return u, nil
}
