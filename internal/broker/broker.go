// Package broker is the server side of the chat channel: a STOMP endpoint
// over WebSocket that authenticates CONNECT with an access token, lets room
// members subscribe to /sub/chat/room/{id}, and persists and fans out what
// they publish to /pub/chat/message.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"freight-chat/internal/auth"
	"freight-chat/internal/middleware"
	"freight-chat/internal/repository"
	"freight-chat/internal/stomp"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const handshakeTimeout = 10 * time.Second

var errHandshake = errors.New("broker: handshake failed")

type Config struct {
	Issuer   *auth.Issuer
	Users    repository.UserRepository
	Rooms    repository.RoomRepository
	Messages repository.MessageRepo
	// RateBurst and RateInterval size each session's SEND token bucket.
	// Defaults are 5 messages and one more every 500ms.
	RateBurst    int32
	RateInterval time.Duration
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

type Broker struct {
	hub      *Hub
	issuer   *auth.Issuer
	users    repository.UserRepository
	rooms    repository.RoomRepository
	messages repository.MessageRepo
	upgrader websocket.Upgrader

	rateBurst    int32
	rateInterval time.Duration
	logger       zerolog.Logger

	quitOnce sync.Once

	// roomLocks serialize save-then-broadcast per room so live delivery
	// follows message id order.
	roomLocksMu sync.Mutex
	roomLocks   map[int64]*sync.Mutex
}

func (b *Broker) roomLock(roomID int64) *sync.Mutex {
	b.roomLocksMu.Lock()
	defer b.roomLocksMu.Unlock()
	lock, ok := b.roomLocks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		b.roomLocks[roomID] = lock
	}
	return lock
}

func New(cfg Config) (*Broker, error) {
	if cfg.Issuer == nil || cfg.Users == nil || cfg.Rooms == nil || cfg.Messages == nil {
		return nil, fmt.Errorf("broker: Issuer, Users, Rooms and Messages are required")
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = 500 * time.Millisecond
	}

	return &Broker{
		hub:      NewHub(logger),
		issuer:   cfg.Issuer,
		users:    cfg.Users,
		rooms:    cfg.Rooms,
		messages: cfg.Messages,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rateBurst:    cfg.RateBurst,
		rateInterval: cfg.RateInterval,
		logger:       logger.With().Str("component", "broker").Logger(),
		roomLocks:    make(map[int64]*sync.Mutex),
	}, nil
}

// Run drives the hub until Shutdown.
func (b *Broker) Run() {
	b.hub.Run()
}

// Shutdown closes every session and stops the hub. It is safe to call more
// than once.
func (b *Broker) Shutdown() {
	b.quitOnce.Do(func() { close(b.hub.Quit) })
}

func (b *Broker) ActiveSessions() int {
	return b.hub.ActiveSessions()
}

// send hands a request to the hub unless it has stopped.
func (b *Broker) send(ch chan<- subscription, sub subscription) {
	select {
	case ch <- sub:
	case <-b.hub.Quit:
	}
}

func (b *Broker) unregister(s *Session) {
	select {
	case b.hub.Unregister <- s:
	case <-b.hub.Quit:
	}
}

// ServeWS upgrades the request, completes the STOMP handshake and starts
// the session pumps.
func (b *Broker) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	session, err := b.handshake(r.Context(), conn)
	if err != nil {
		b.logger.Info().Err(err).Str("remote", r.RemoteAddr).Msg("connect rejected")
		if data, encErr := stomp.Encode(stomp.Error("authentication failed")); encErr == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	select {
	case b.hub.Register <- session:
	case <-b.hub.Quit:
		conn.Close()
		return
	}

	go session.WritePump()
	go session.ReadPump()
}

// handshake waits for CONNECT, authenticates its bearer token and answers
// CONNECTED.
func (b *Broker) handshake(ctx context.Context, conn *websocket.Conn) (*Session, error) {
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	var connect *frame.Frame
	for connect == nil {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errHandshake, err)
		}
		connect, err = stomp.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errHandshake, err)
		}
	}
	if connect.Command != frame.CONNECT && connect.Command != frame.STOMP {
		return nil, fmt.Errorf("%w: expected CONNECT, got %s", errHandshake, connect.Command)
	}

	claims, err := b.issuer.ValidateToken(stomp.BearerToken(connect))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errHandshake, err)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	user, err := b.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errHandshake, err)
	}

	id := uuid.NewString()
	data, err := stomp.Encode(stomp.Connected(id))
	if err != nil {
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("%w: %w", errHandshake, err)
	}
	conn.SetReadDeadline(time.Time{})

	return &Session{
		ID:       id,
		UserID:   user.ID,
		UserName: user.Name,
		Conn:     conn,
		broker:   b,
		limiter:  middleware.NewRatelimiter(b.rateBurst, b.rateInterval),
		logger:   b.logger.With().Str("session", id).Int64("user_id", user.ID).Logger(),
		send:     make(chan []byte, sendBuffer),
	}, nil
}
