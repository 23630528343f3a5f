package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"freight-chat/internal/middleware"
	"freight-chat/internal/models"
	"freight-chat/internal/stomp"
	"freight-chat/internal/types"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 16 << 10
	sendBuffer     = 256
	storeTimeout   = 5 * time.Second
	warningBackoff = 3 * time.Second
)

// MaxContentLength is the longest message body accepted, in characters.
const MaxContentLength = 1000

// Session is one authenticated STOMP connection.
type Session struct {
	ID       string
	UserID   int64
	UserName string
	Conn     *websocket.Conn

	broker  *Broker
	limiter *middleware.RateLimiter
	logger  zerolog.Logger

	lastWarning time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (s *Session) enqueue(data []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

func (s *Session) enqueueFrame(f *frame.Frame) {
	data, err := stomp.Encode(f)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode frame")
		return
	}
	s.enqueue(data)
}

// closeSend stops the write pump once it has flushed what is queued.
func (s *Session) closeSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
		s.broker.unregister(s)
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			// One STOMP frame per WebSocket message.
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) ReadPump() {
	defer s.broker.unregister(s)

	s.Conn.SetReadLimit(maxFrameBytes)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info().Err(err).Msg("unexpected close")
			}
			return
		}

		f, err := stomp.Decode(data)
		if err != nil {
			s.logger.Debug().Err(err).Msg("undecodable frame ignored")
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.SUBSCRIBE:
			if err := s.subscribe(f); err != nil {
				s.logger.Info().Err(err).Msg("subscription refused")
				s.enqueueFrame(stomp.Error(err.Error()))
				return
			}

		case frame.UNSUBSCRIBE:
			s.broker.send(s.broker.hub.unsubscribe, subscription{session: s, id: f.Header.Get(frame.Id)})

		case frame.SEND:
			s.publish(f)

		case frame.DISCONNECT:
			if receipt := f.Header.Get(frame.Receipt); receipt != "" {
				s.enqueueFrame(stomp.Receipt(receipt))
			}
			s.logger.Debug().Msg("client disconnected")
			return

		default:
			s.logger.Debug().Str("command", f.Command).Msg("unsupported frame ignored")
		}
	}
}

// subscribe registers a room subscription for a member of that room.
func (s *Session) subscribe(f *frame.Frame) error {
	id := f.Header.Get(frame.Id)
	destination := f.Header.Get(frame.Destination)
	if id == "" {
		return fmt.Errorf("subscription id is required")
	}
	roomID, ok := stomp.ParseRoomTopic(destination)
	if !ok {
		return fmt.Errorf("unknown destination %q", destination)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	member, err := s.broker.rooms.IsMember(ctx, roomID, s.UserID)
	if err != nil {
		return fmt.Errorf("membership check failed")
	}
	if !member {
		return fmt.Errorf("not a member of room %d", roomID)
	}

	s.broker.send(s.broker.hub.subscribe, subscription{session: s, id: id, destination: destination})
	return nil
}

// publish stores an outbound chat message and hands it to the hub. Sender
// and timestamp come from the session, never from the client. Messages of
// one room reach the hub in id order. Rejected messages are logged and
// dropped; the connection stays up.
func (s *Session) publish(f *frame.Frame) {
	if destination := f.Header.Get(frame.Destination); destination != stomp.PublishDestination {
		s.logger.Debug().Str("destination", destination).Msg("send to unknown destination dropped")
		return
	}

	if !s.limiter.Allow() {
		if time.Since(s.lastWarning) > warningBackoff {
			s.logger.Warn().Msg("rate limit exceeded, dropping messages")
			s.lastWarning = time.Now()
		}
		return
	}

	var payload types.OutboundMessage
	if err := json.Unmarshal(f.Body, &payload); err != nil {
		s.logger.Debug().Err(err).Msg("malformed message body dropped")
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		s.logger.Debug().Int("length", len(content)).Msg("message content rejected")
		return
	}
	messageType := payload.Type
	if messageType == "" {
		messageType = models.TypeText
	}
	if messageType == models.TypeSystem || !messageType.Valid() {
		s.logger.Debug().Str("type", string(messageType)).Msg("message type rejected")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	member, err := s.broker.rooms.IsMember(ctx, payload.RoomID, s.UserID)
	if err != nil {
		s.logger.Error().Err(err).Int64("room_id", payload.RoomID).Msg("membership check failed")
		return
	}
	if !member {
		s.logger.Info().Int64("room_id", payload.RoomID).Msg("send to foreign room dropped")
		return
	}

	message := &models.Message{
		RoomID:     payload.RoomID,
		SenderID:   s.UserID,
		SenderName: s.UserName,
		Content:    content,
		Type:       messageType,
		CreatedAt:  time.Now().UTC(),
	}
	lock := s.broker.roomLock(message.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.broker.messages.Save(ctx, message); err != nil {
		s.logger.Error().Err(err).Int64("room_id", payload.RoomID).Msg("failed to persist message")
		return
	}

	if err := s.broker.rooms.MarkRead(ctx, message.RoomID, s.UserID, message.ID); err != nil {
		s.logger.Warn().Err(err).Msg("failed to advance sender read marker")
	}

	select {
	case s.broker.hub.Broadcast <- message:
	case <-s.broker.hub.Quit:
	}
}
