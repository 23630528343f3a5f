package repository

import (
	"context"
	"errors"

	"freight-chat/internal/models"
)

var ErrNotFound = errors.New("repository: not found")

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

type RoomRepository interface {
	// ListRooms returns the rooms userID belongs to, most recently active first.
	ListRooms(ctx context.Context, userID int64) ([]models.Room, error)
	IsMember(ctx context.Context, roomID, userID int64) (bool, error)
	// GetOrCreatePersonal returns the 1:1 room of the two users.
	GetOrCreatePersonal(ctx context.Context, userID, targetID int64) (int64, error)
	CreateRoom(ctx context.Context, name string, roomType models.RoomType, members []int64) (int64, error)
	// MarkRead moves the user's read marker forward to messageID.
	MarkRead(ctx context.Context, roomID, userID, messageID int64) error
}

type MessageRepo interface {
	// Save assigns the message id.
	Save(ctx context.Context, message *models.Message) error
	// Fetch returns one newest-first page and whether older messages exist.
	Fetch(ctx context.Context, roomID int64, page, size int) ([]models.Message, bool, error)
}
