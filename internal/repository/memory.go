package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"freight-chat/internal/models"
)

type memoryRoom struct {
	id          int64
	name        string
	roomType    models.RoomType
	personalKey string
	// lastRead is the read marker per member.
	lastRead map[int64]int64
	// messages are held oldest first.
	messages []models.Message
}

// Memory keeps users, rooms and messages in process memory. It backs the
// server when no database is configured, and tests.
type Memory struct {
	mu          sync.RWMutex
	users       map[int64]*models.User
	rooms       map[int64]*memoryRoom
	nextUserID  int64
	nextRoomID  int64
	nextMessage int64
}

func NewMemory() *Memory {
	return &Memory{
		users: make(map[int64]*models.User),
		rooms: make(map[int64]*memoryRoom),
	}
}

func (s *Memory) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.Username == user.Username {
			return fmt.Errorf("failed to insert user: username %q taken", user.Username)
		}
	}
	s.nextUserID++
	user.ID = s.nextUserID
	user.CreatedAt = time.Now().UTC()
	stored := *user
	s.users[user.ID] = &stored
	return nil
}

func (s *Memory) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Username == username {
			found := *user
			return &found, nil
		}
	}
	return nil, fmt.Errorf("user username %s: %w", username, ErrNotFound)
}

func (s *Memory) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user id %d: %w", id, ErrNotFound)
	}
	found := *user
	return &found, nil
}

func (s *Memory) ListRooms(ctx context.Context, userID int64) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]models.Room, 0)
	for _, room := range s.rooms {
		lastRead, member := room.lastRead[userID]
		if !member {
			continue
		}

		view := models.Room{ID: room.id, Name: room.name, Type: room.roomType}
		if room.roomType == models.RoomPersonal {
			for memberID := range room.lastRead {
				if memberID != userID {
					if other, ok := s.users[memberID]; ok {
						view.Name = other.Name
					}
				}
			}
		}
		if n := len(room.messages); n > 0 {
			last := room.messages[n-1]
			at := last.CreatedAt
			view.LastMessage = last.Content
			view.LastMessageTime = &at
		}
		for _, msg := range room.messages {
			if msg.ID > lastRead && msg.SenderID != userID {
				view.UnreadCount++
			}
		}
		rooms = append(rooms, view)
	}

	slices.SortFunc(rooms, func(a, b models.Room) int {
		switch {
		case a.LastMessageTime != nil && b.LastMessageTime == nil:
			return -1
		case a.LastMessageTime == nil && b.LastMessageTime != nil:
			return 1
		case a.LastMessageTime != nil && !a.LastMessageTime.Equal(*b.LastMessageTime):
			return b.LastMessageTime.Compare(*a.LastMessageTime)
		}
		return int(b.ID - a.ID)
	})
	return rooms, nil
}

func (s *Memory) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return false, nil
	}
	_, member := room.lastRead[userID]
	return member, nil
}

func (s *Memory) GetOrCreatePersonal(ctx context.Context, userID, targetID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := personalKey(userID, targetID)
	for _, room := range s.rooms {
		if room.personalKey == key {
			return room.id, nil
		}
	}
	room := s.newRoomLocked("", models.RoomPersonal, []int64{userID, targetID})
	room.personalKey = key
	return room.id, nil
}

func (s *Memory) CreateRoom(ctx context.Context, name string, roomType models.RoomType, members []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.newRoomLocked(name, roomType, members).id, nil
}

func (s *Memory) newRoomLocked(name string, roomType models.RoomType, members []int64) *memoryRoom {
	s.nextRoomID++
	room := &memoryRoom{
		id:       s.nextRoomID,
		name:     name,
		roomType: roomType,
		lastRead: make(map[int64]int64, len(members)),
	}
	for _, userID := range members {
		room.lastRead[userID] = 0
	}
	s.rooms[room.id] = room
	return room
}

func (s *Memory) MarkRead(ctx context.Context, roomID, userID, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	if current, member := room.lastRead[userID]; member && messageID > current {
		room.lastRead[userID] = messageID
	}
	return nil
}

func (s *Memory) Save(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[m.RoomID]
	if !ok {
		return fmt.Errorf("failed to save message in room %d: %w", m.RoomID, ErrNotFound)
	}
	s.nextMessage++
	m.ID = s.nextMessage
	if m.SenderName == "" {
		if sender, ok := s.users[m.SenderID]; ok {
			m.SenderName = sender.Name
		}
	}
	room.messages = append(room.messages, *m)
	return nil
}

func (s *Memory) Fetch(ctx context.Context, roomID int64, page, size int) ([]models.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[roomID]
	if !ok {
		return nil, false, fmt.Errorf("fetch failed for room %d: %w", roomID, ErrNotFound)
	}

	messages := make([]models.Message, 0, size)
	end := len(room.messages) - page*size
	start := max(end-size, 0)
	for i := end - 1; i >= start; i-- {
		messages = append(messages, room.messages[i])
	}
	return messages, start > 0, nil
}
