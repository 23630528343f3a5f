package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"freight-chat/internal/models"
	"freight-chat/internal/stomp"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 5 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	handshakeTimeout = 10 * time.Second
	maxFrameBytes    = 64 << 10
	sendBuffer       = 64
)

var errChannelClosed = errors.New("chat: channel closed")

// channel is one STOMP session over one WebSocket, subscribed to one room.
type channel struct {
	roomID         int64
	generation     uint64
	subscriptionID string

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex
	send    chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newChannel(roomID int64, generation uint64) *channel {
	return &channel{
		roomID:         roomID,
		generation:     generation,
		subscriptionID: "sub-" + uuid.NewString(),
		send:           make(chan []byte, sendBuffer),
		done:           make(chan struct{}),
	}
}

// ConnectSocket opens the real-time channel for roomID and subscribes to the
// room topic. It blocks until the subscription is sent or the handshake
// fails. An invalid room id is a no-op. Only one channel may be open at a
// time; a second call before Disconnect returns ErrChannelBusy.
func (m *Manager) ConnectSocket(ctx context.Context, roomID int64) error {
	return m.connect(ctx, roomID, nil)
}

// connect opens the channel. When visit is non-nil the channel is only
// opened while that room visit is still current.
func (m *Manager) connect(ctx context.Context, roomID int64, visit *uint64) error {
	if roomID <= 0 {
		m.logger.Debug().Int64("room_id", roomID).Msg("connect skipped")
		return nil
	}

	m.mu.Lock()
	if visit != nil && (m.generation != *visit || m.activeRoom != roomID) {
		m.mu.Unlock()
		return nil
	}
	if m.channel != nil {
		busyRoom := m.channel.roomID
		m.mu.Unlock()
		m.logger.Warn().Int64("room_id", roomID).Int64("open_room_id", busyRoom).Msg("connect rejected, channel already open")
		return ErrChannelBusy
	}
	m.focusLocked(roomID)
	ch := newChannel(roomID, m.generation)
	m.channel = ch
	m.state = StateConnecting
	m.mu.Unlock()
	m.emit(Event{Kind: EventStateChanged, State: StateConnecting, RoomID: roomID})

	if err := ch.open(ctx, m.dialer, m.socketURL, m.backend.Token()); err != nil {
		return m.connectFailed(ch, err)
	}
	if !m.advance(ch, StateConnected) {
		ch.close()
		return errChannelClosed
	}

	if err := ch.write(stomp.Subscribe(ch.subscriptionID, stomp.RoomTopic(roomID))); err != nil {
		return m.connectFailed(ch, fmt.Errorf("chat: subscribe: %w", err))
	}
	if !m.advance(ch, StateSubscribed) {
		ch.close()
		return errChannelClosed
	}

	go ch.writePump()
	go m.readPump(ch)

	m.logger.Info().Int64("room_id", roomID).Msg("channel subscribed")
	return nil
}

// advance moves the state forward if ch is still the open channel.
func (m *Manager) advance(ch *channel, state ChannelState) bool {
	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return false
	}
	m.state = state
	m.mu.Unlock()
	m.emit(Event{Kind: EventStateChanged, State: state, RoomID: ch.roomID})
	return true
}

func (m *Manager) connectFailed(ch *channel, err error) error {
	ch.close()

	m.mu.Lock()
	owned := m.channel == ch
	if owned {
		m.channel = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if !owned {
		// Disconnect won the race; the failure is just the teardown.
		return errChannelClosed
	}

	m.logger.Warn().Err(err).Int64("room_id", ch.roomID).Msg("channel connect failed")
	m.emit(Event{Kind: EventConnectionFailed, RoomID: ch.roomID, Err: err})
	m.emit(Event{Kind: EventStateChanged, State: StateDisconnected, RoomID: ch.roomID})
	return err
}

// Disconnect closes the open channel, if any. It is always safe to call.
func (m *Manager) Disconnect() {
	m.disconnect(nil)
}

// disconnect closes the open channel. A non-nil only restricts it to that
// channel.
func (m *Manager) disconnect(only *channel) {
	m.mu.Lock()
	ch := m.channel
	if ch == nil || (only != nil && ch != only) {
		m.mu.Unlock()
		return
	}
	m.channel = nil
	m.state = StateDisconnected
	m.mu.Unlock()

	ch.close()

	m.logger.Info().Int64("room_id", ch.roomID).Msg("channel disconnected")
	m.emit(Event{Kind: EventStateChanged, State: StateDisconnected, RoomID: ch.roomID})
}

// channelLost handles a channel that died on its own.
func (m *Manager) channelLost(ch *channel, cause error) {
	m.mu.Lock()
	owned := m.channel == ch
	if owned {
		m.channel = nil
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	ch.close()
	if !owned {
		return
	}

	m.logger.Warn().Err(cause).Int64("room_id", ch.roomID).Msg("channel lost")
	m.emit(Event{Kind: EventConnectionFailed, RoomID: ch.roomID, Err: cause})
	m.emit(Event{Kind: EventStateChanged, State: StateDisconnected, RoomID: ch.roomID})
}

func (m *Manager) readPump(ch *channel) {
	var cause error
	defer func() {
		m.channelLost(ch, cause)
	}()

	conn := ch.conn
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ch.closed() {
				return
			}
			cause = fmt.Errorf("chat: read: %w", err)
			return
		}

		f, err := stomp.Decode(data)
		if err != nil {
			m.dropInbound(ch.roomID, err)
			continue
		}
		if f == nil {
			continue
		}

		switch f.Command {
		case frame.MESSAGE:
			m.handleInbound(ch, f)
		case frame.ERROR:
			cause = fmt.Errorf("chat: broker error: %s", f.Header.Get(frame.Message))
			return
		case frame.RECEIPT:
		default:
			m.logger.Debug().Str("command", f.Command).Msg("ignoring frame")
		}
	}
}

// handleInbound decodes a MESSAGE frame and prepends it to the list. Frames
// that cannot be decoded, that belong to another room, or whose id is
// already held are dropped and the channel stays up.
func (m *Manager) handleInbound(ch *channel, f *frame.Frame) {
	var msg models.Message
	if err := json.Unmarshal(f.Body, &msg); err != nil {
		m.dropInbound(ch.roomID, fmt.Errorf("chat: malformed message body: %w", err))
		return
	}
	if msg.ID <= 0 {
		m.dropInbound(ch.roomID, fmt.Errorf("chat: message without id"))
		return
	}
	if msg.RoomID == 0 {
		msg.RoomID = ch.roomID
	}

	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return
	}
	if msg.RoomID != m.activeRoom || msg.RoomID != ch.roomID {
		m.mu.Unlock()
		m.dropInbound(ch.roomID, fmt.Errorf("chat: message %d addressed to room %d", msg.ID, msg.RoomID))
		return
	}
	if _, dup := m.seen[msg.ID]; dup {
		m.mu.Unlock()
		m.logger.Debug().Int64("message_id", msg.ID).Msg("duplicate message ignored")
		return
	}
	m.seen[msg.ID] = struct{}{}
	m.messages = append([]models.Message{msg}, m.messages...)
	if m.pendingReplace {
		m.live = append(m.live, msg)
	}
	m.mu.Unlock()

	m.emit(Event{Kind: EventMessageReceived, RoomID: msg.RoomID, Message: &msg})
}

func (m *Manager) dropInbound(roomID int64, err error) {
	m.logger.Warn().Err(err).Int64("room_id", roomID).Msg("inbound frame dropped")
	m.emit(Event{Kind: EventMessageDropped, RoomID: roomID, Err: err})
}

// open dials the broker and completes the STOMP CONNECT handshake.
func (ch *channel) open(ctx context.Context, dialer *websocket.Dialer, socketURL, token string) error {
	conn, _, err := dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		return fmt.Errorf("chat: dial %s: %w", socketURL, err)
	}

	ch.mu.Lock()
	select {
	case <-ch.done:
		ch.mu.Unlock()
		conn.Close()
		return errChannelClosed
	default:
	}
	ch.conn = conn
	ch.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	host := ""
	if parsed, err := url.Parse(socketURL); err == nil {
		host = parsed.Hostname()
	}
	if err := ch.write(stomp.Connect(host, token)); err != nil {
		return fmt.Errorf("chat: connect frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("chat: awaiting CONNECTED: %w", err)
		}
		f, err := stomp.Decode(data)
		if err != nil {
			return err
		}
		if f == nil {
			continue
		}
		switch f.Command {
		case frame.CONNECTED:
			return nil
		case frame.ERROR:
			return fmt.Errorf("chat: broker rejected connect: %s", f.Header.Get(frame.Message))
		default:
			return fmt.Errorf("chat: unexpected %s before CONNECTED", f.Command)
		}
	}
}

func (ch *channel) write(f *frame.Frame) error {
	data, err := stomp.Encode(f)
	if err != nil {
		return err
	}
	return ch.writeRaw(data)
}

func (ch *channel) writeRaw(data []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	ch.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// enqueue hands an encoded frame to the write pump without blocking.
func (ch *channel) enqueue(data []byte) bool {
	select {
	case <-ch.done:
		return false
	default:
	}
	select {
	case ch.send <- data:
		return true
	default:
		return false
	}
}

func (ch *channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ch.done:
			return

		case data := <-ch.send:
			if err := ch.writeRaw(data); err != nil {
				ch.conn.Close()
				return
			}

		case <-ticker.C:
			if err := ch.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				ch.conn.Close()
				return
			}
		}
	}
}

func (ch *channel) closed() bool {
	select {
	case <-ch.done:
		return true
	default:
		return false
	}
}

// close says goodbye to the broker and closes the socket. The socket is
// closed when close returns.
func (ch *channel) close() {
	ch.closeOnce.Do(func() {
		ch.mu.Lock()
		close(ch.done)
		conn := ch.conn
		ch.mu.Unlock()
		if conn == nil {
			return
		}

		if data, err := stomp.Encode(stomp.Disconnect("bye-" + ch.subscriptionID)); err == nil {
			ch.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			conn.WriteMessage(websocket.TextMessage, data)
			ch.writeMu.Unlock()
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
}
