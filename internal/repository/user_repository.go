package repository

import (
	"context"
	"errors"
	"fmt"

	"freight-chat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{
		pool: pool,
	}
}

func (r *PostgresUserRepo) CreateUser(ctx context.Context, user *models.User) error {
	const query = `
		INSERT INTO users (username, name, role, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query,
		user.Username,
		user.Name,
		user.Role,
		user.Password_Hash,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (r *PostgresUserRepo) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const query = `
		SELECT id, username, name, role, password_hash, created_at
		FROM users
		WHERE username = $1`

	return r.scanUser(r.pool.QueryRow(ctx, query, username), "username "+username)
}

func (r *PostgresUserRepo) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	const query = `
		SELECT id, username, name, role, password_hash, created_at
		FROM users
		WHERE id = $1`

	return r.scanUser(r.pool.QueryRow(ctx, query, id), fmt.Sprintf("id %d", id))
}

func (r *PostgresUserRepo) scanUser(row pgx.Row, key string) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.Role,
		&user.Password_Hash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user by %s: %w", key, err)
	}
	return user, nil
}
