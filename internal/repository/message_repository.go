package repository

import (
	"context"
	"fmt"

	"freight-chat/internal/models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresMessagesRepo struct {
	pool *pgxpool.Pool
}

func NewMessagesRepo(pool *pgxpool.Pool) *PostgresMessagesRepo {
	return &PostgresMessagesRepo{
		pool: pool,
	}
}

func (r *PostgresMessagesRepo) Save(ctx context.Context, m *models.Message) error {
	const query = `
		INSERT INTO chat_messages (room_id, sender_id, content, msg_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := r.pool.QueryRow(ctx, query,
		m.RoomID,
		m.SenderID,
		m.Content,
		m.Type,
		m.CreatedAt,
	).Scan(&m.ID)

	if err != nil {
		return fmt.Errorf("failed to save message from %d in room %d: %w", m.SenderID, m.RoomID, err)
	}

	return nil
}

func (r *PostgresMessagesRepo) Fetch(ctx context.Context, roomID int64, page, size int) ([]models.Message, bool, error) {
	const query = `
		SELECT m.id, m.room_id, m.sender_id, u.name, m.content, m.msg_type, m.created_at
		FROM chat_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.room_id = $1
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3`

	// One extra row tells whether an older page exists.
	rows, err := r.pool.Query(ctx, query, roomID, size+1, page*size)
	if err != nil {
		return nil, false, fmt.Errorf("fetch failed for room %d: %w", roomID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, size)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(
			&m.ID,
			&m.RoomID,
			&m.SenderID,
			&m.SenderName,
			&m.Content,
			&m.Type,
			&m.CreatedAt,
		); err != nil {
			return nil, false, fmt.Errorf("scan failed: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasNext := len(messages) > size
	if hasNext {
		messages = messages[:size]
	}
	return messages, hasNext, nil
}
