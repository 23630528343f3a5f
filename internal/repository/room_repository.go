package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"freight-chat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresRoomRepo struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) *PostgresRoomRepo {
	return &PostgresRoomRepo{
		pool: pool,
	}
}

// personalKey identifies the 1:1 room of two users regardless of order.
func personalKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (r *PostgresRoomRepo) ListRooms(ctx context.Context, userID int64) ([]models.Room, error) {
	const query = `
		SELECT r.id,
		       COALESCE(r.name, other.name, ''),
		       r.room_type,
		       COALESCE(last.content, ''),
		       last.created_at,
		       (SELECT count(*)
		          FROM chat_messages m
		         WHERE m.room_id = r.id
		           AND m.id > me.last_read_message_id
		           AND m.sender_id <> me.user_id)
		FROM chat_room_members me
		JOIN chat_rooms r ON r.id = me.room_id
		LEFT JOIN LATERAL (
			SELECT u.name
			FROM chat_room_members om
			JOIN users u ON u.id = om.user_id
			WHERE om.room_id = r.id AND om.user_id <> me.user_id
			LIMIT 1
		) other ON r.room_type = 'PERSONAL'
		LEFT JOIN LATERAL (
			SELECT content, created_at
			FROM chat_messages
			WHERE room_id = r.id
			ORDER BY id DESC
			LIMIT 1
		) last ON true
		WHERE me.user_id = $1
		ORDER BY last.created_at DESC NULLS LAST, r.id DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms for user %d: %w", userID, err)
	}
	defer rows.Close()

	rooms := make([]models.Room, 0)
	for rows.Next() {
		var room models.Room
		var lastAt *time.Time
		if err := rows.Scan(
			&room.ID,
			&room.Name,
			&room.Type,
			&room.LastMessage,
			&lastAt,
			&room.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		room.LastMessageTime = lastAt
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *PostgresRoomRepo) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM chat_room_members WHERE room_id = $1 AND user_id = $2)`

	var member bool
	if err := r.pool.QueryRow(ctx, query, roomID, userID).Scan(&member); err != nil {
		return false, fmt.Errorf("failed to check membership of user %d in room %d: %w", userID, roomID, err)
	}
	return member, nil
}

func (r *PostgresRoomRepo) GetOrCreatePersonal(ctx context.Context, userID, targetID int64) (int64, error) {
	key := personalKey(userID, targetID)

	var roomID int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (room_type, personal_key)
			VALUES ('PERSONAL', $1)
			ON CONFLICT (personal_key) DO NOTHING
			RETURNING id`, key).Scan(&roomID)
		if errors.Is(err, pgx.ErrNoRows) {
			err = tx.QueryRow(ctx, `SELECT id FROM chat_rooms WHERE personal_key = $1`, key).Scan(&roomID)
		}
		if err != nil {
			return err
		}
		return addMembers(ctx, tx, roomID, []int64{userID, targetID})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get personal room %s: %w", key, err)
	}
	return roomID, nil
}

func (r *PostgresRoomRepo) CreateRoom(ctx context.Context, name string, roomType models.RoomType, members []int64) (int64, error) {
	var roomID int64
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO chat_rooms (name, room_type)
			VALUES ($1, $2)
			RETURNING id`, name, roomType).Scan(&roomID); err != nil {
			return err
		}
		return addMembers(ctx, tx, roomID, members)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create room %q: %w", name, err)
	}
	return roomID, nil
}

func addMembers(ctx context.Context, tx pgx.Tx, roomID int64, members []int64) error {
	for _, userID := range members {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_room_members (room_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRoomRepo) MarkRead(ctx context.Context, roomID, userID, messageID int64) error {
	const query = `
		UPDATE chat_room_members
		SET last_read_message_id = GREATEST(last_read_message_id, $3)
		WHERE room_id = $1 AND user_id = $2`

	if _, err := r.pool.Exec(ctx, query, roomID, userID, messageID); err != nil {
		return fmt.Errorf("failed to mark room %d read for user %d: %w", roomID, userID, err)
	}
	return nil
}
