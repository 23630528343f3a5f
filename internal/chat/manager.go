// Package chat is the client side of room messaging: who the caller is, which
// rooms they have, each room's paginated history, and a live STOMP channel
// whose messages are merged into the newest-first message list.
//
// A Manager owns at most one live channel. Enter binds history loading and
// the channel to a room visit and returns the function that ends the visit.
// Failures never panic into the caller; they are logged and reported as
// events, and state is left at its previous value.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"freight-chat/internal/models"
	"freight-chat/internal/types"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidRoomID = errors.New("chat: invalid room id")
	// ErrChannelBusy is returned when a channel is already open. Disconnect
	// before connecting to another room.
	ErrChannelBusy = errors.New("chat: a channel is already open")
)

// Backend is the REST surface the manager depends on. *client.Client
// implements it.
type Backend interface {
	Profile(ctx context.Context) (*types.Profile, error)
	Rooms(ctx context.Context) ([]models.Room, error)
	History(ctx context.Context, roomID int64, page int) (*types.HistoryPage, error)
	CreatePersonalRoom(ctx context.Context, targetUserID int64) (int64, error)
	// Token is the bearer credential presented on STOMP CONNECT.
	Token() string
}

type Config struct {
	Backend Backend
	// SocketURL is the STOMP endpoint, e.g. "ws://localhost:8080/ws-stomp".
	SocketURL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Listener, if set, receives every event.
	Listener Listener
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

type Manager struct {
	backend   Backend
	socketURL string
	dialer    *websocket.Dialer
	listener  Listener
	logger    zerolog.Logger

	mu       sync.Mutex
	userID   int64
	userName string
	rooms    []models.Room

	// activeRoom is the room the message list belongs to. generation is
	// bumped on every room context change so late responses can be told apart.
	activeRoom int64
	generation uint64
	messages   []models.Message
	seen       map[int64]struct{}
	page       int
	hasNext    bool
	loadingOld bool

	// replaceSeq identifies the latest page-0 request. While one is pending,
	// live messages are also recorded in live so the replace keeps them.
	replaceSeq     uint64
	pendingReplace bool
	live           []models.Message

	channel *channel
	state   ChannelState
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("chat: Backend is required")
	}
	if cfg.SocketURL == "" {
		return nil, fmt.Errorf("chat: SocketURL is required")
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Manager{
		backend:   cfg.Backend,
		socketURL: cfg.SocketURL,
		dialer:    dialer,
		listener:  cfg.Listener,
		logger:    logger.With().Str("component", "chat").Logger(),
		seen:      make(map[int64]struct{}),
	}, nil
}

func (m *Manager) emit(event Event) {
	if m.listener != nil {
		m.listener(event)
	}
}

// ResolveIdentity fetches the caller's profile once. Until it succeeds the
// manager has no identity: sending is disabled and IsMine reports false.
// Failures are not retried here.
func (m *Manager) ResolveIdentity(ctx context.Context) error {
	m.mu.Lock()
	resolved := m.userID > 0
	m.mu.Unlock()
	if resolved {
		return nil
	}

	profile, err := m.backend.Profile(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("identity unresolved, sending disabled")
		m.emit(Event{Kind: EventIdentityFailed, Err: err})
		return err
	}

	m.mu.Lock()
	m.userID = profile.UserID
	m.userName = profile.Name
	m.mu.Unlock()

	m.logger.Info().Int64("user_id", profile.UserID).Msg("identity resolved")
	m.emit(Event{Kind: EventIdentityResolved})
	return nil
}

// UserID returns the resolved identity, or false while unresolved.
func (m *Manager) UserID() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID, m.userID > 0
}

// IsMine reports whether msg was sent by the resolved identity.
func (m *Manager) IsMine(msg models.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID > 0 && msg.SenderID == m.userID
}

// FetchMyRooms refreshes the room list. On failure the previous list is
// returned unchanged.
func (m *Manager) FetchMyRooms(ctx context.Context) []models.Room {
	rooms, err := m.backend.Rooms(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("room list refresh failed")
		m.emit(Event{Kind: EventRoomsFailed, Err: err})
		return m.Rooms()
	}

	m.mu.Lock()
	m.rooms = rooms
	m.mu.Unlock()

	m.emit(Event{Kind: EventRoomsUpdated})
	return m.Rooms()
}

// Rooms returns the last fetched room list.
func (m *Manager) Rooms() []models.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	rooms := make([]models.Room, len(m.rooms))
	copy(rooms, m.rooms)
	return rooms
}

// OpenPersonalRoom returns the 1:1 room with targetUserID, creating it on the
// server if needed.
func (m *Manager) OpenPersonalRoom(ctx context.Context, targetUserID int64) (int64, error) {
	if targetUserID <= 0 {
		return 0, fmt.Errorf("chat: invalid target user id %d", targetUserID)
	}
	roomID, err := m.backend.CreatePersonalRoom(ctx, targetUserID)
	if err != nil {
		m.logger.Warn().Err(err).Int64("target_user_id", targetUserID).Msg("personal room unavailable")
		return 0, err
	}
	return roomID, nil
}

// Messages returns a snapshot of the message list, newest first.
func (m *Manager) Messages() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages := make([]models.Message, len(m.messages))
	copy(messages, m.messages)
	return messages
}

// HasNext reports whether older history pages exist for the active room.
func (m *Manager) HasNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasNext
}

// ActiveRoom returns the room the message list belongs to, or 0.
func (m *Manager) ActiveRoom() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeRoom
}

func (m *Manager) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// focusLocked makes roomID the active room. Switching rooms clears the list
// so messages never leak between rooms.
func (m *Manager) focusLocked(roomID int64) {
	if m.activeRoom == roomID {
		return
	}
	m.resetRoomLocked(roomID)
}

func (m *Manager) resetRoomLocked(roomID int64) {
	m.activeRoom = roomID
	m.generation++
	m.messages = nil
	m.seen = make(map[int64]struct{})
	m.page = 0
	m.hasNext = false
	m.loadingOld = false
	m.pendingReplace = false
	m.live = nil
}
