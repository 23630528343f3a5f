package models

import (
	"time"
)

type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeSystem:
		return true
	}
	return false
}

// Message is a single chat message. IDs are assigned by the server and grow
// monotonically within a room.
type Message struct {
	ID         int64       `json:"messageId"`
	RoomID     int64       `json:"roomId"`
	SenderID   int64       `json:"senderId"`
	SenderName string      `json:"senderName"`
	Content    string      `json:"content"`
	Type       MessageType `json:"type"`
	CreatedAt  time.Time   `json:"createdAt"`
}
