package chat

import (
	"encoding/json"
	"strings"

	"freight-chat/internal/models"
	"freight-chat/internal/stomp"
	"freight-chat/internal/types"
)

// SendMessage publishes a text message to roomID over the open channel. It
// returns whether the message was handed to the channel. Empty content, an
// unresolved identity, or a channel that is not connected to roomID make it
// a silent no-op. Nothing is added to the message list: the message shows up when
// the broker echoes it back on the room subscription.
func (m *Manager) SendMessage(roomID int64, content string) bool {
	content = strings.TrimSpace(content)
	if roomID <= 0 || content == "" {
		return false
	}

	m.mu.Lock()
	ch, state, senderID := m.channel, m.state, m.userID
	m.mu.Unlock()

	if ch == nil || (state != StateConnected && state != StateSubscribed) {
		m.logger.Debug().Int64("room_id", roomID).Msg("send skipped, channel not connected")
		return false
	}
	if roomID != ch.roomID {
		m.logger.Debug().Int64("room_id", roomID).Int64("channel_room_id", ch.roomID).Msg("send skipped, channel subscribed to another room")
		return false
	}
	if senderID <= 0 {
		m.logger.Debug().Int64("room_id", roomID).Msg("send skipped, identity unresolved")
		return false
	}

	body, err := json.Marshal(types.OutboundMessage{
		RoomID:   roomID,
		SenderID: senderID,
		Content:  content,
		Type:     models.TypeText,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode outbound message")
		return false
	}
	data, err := stomp.Encode(stomp.Send(stomp.PublishDestination, body))
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode SEND frame")
		return false
	}

	if !ch.enqueue(data) {
		m.logger.Warn().Int64("room_id", roomID).Msg("send dropped, channel closing or backlogged")
		return false
	}
	return true
}
