package types

import (
	"freight-chat/internal/models"
)

// HistoryPageSize is the fixed number of messages per history page.
const HistoryPageSize = 30

// HistoryPage is one newest-first page of a room's history.
type HistoryPage struct {
	RoomID      int64            `json:"roomId"`
	Messages    []models.Message `json:"messages"`
	CurrentPage int              `json:"currentPage"`
	HasNext     bool             `json:"hasNext"`
}

// OutboundMessage is the envelope published to /pub/chat/message.
type OutboundMessage struct {
	RoomID   int64              `json:"roomId"`
	SenderID int64              `json:"senderId"`
	Content  string             `json:"content"`
	Type     models.MessageType `json:"type"`
}
