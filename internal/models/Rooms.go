package models

import (
	"time"
)

type RoomType string

const (
	RoomPersonal RoomType = "PERSONAL"
	RoomGroupBuy RoomType = "GROUP_BUY"
	RoomFamily   RoomType = "FAMILY"
)

func (t RoomType) Valid() bool {
	switch t {
	case RoomPersonal, RoomGroupBuy, RoomFamily:
		return true
	}
	return false
}

// Room is a conversation as seen by one member. LastMessage and UnreadCount
// are computed per viewer.
type Room struct {
	ID              int64      `json:"roomId"`
	Name            string     `json:"roomName"`
	Type            RoomType   `json:"roomType"`
	LastMessage     string     `json:"lastMessage"`
	LastMessageTime *time.Time `json:"lastMessageTime,omitempty"`
	UnreadCount     int        `json:"unreadCount"`
}
