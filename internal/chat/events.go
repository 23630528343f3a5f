package chat

import (
	"freight-chat/internal/models"
)

// ChannelState is the lifecycle position of the real-time channel.
type ChannelState int

const (
	StateDisconnected ChannelState = iota
	StateConnecting
	StateConnected
	StateSubscribed
)

func (s ChannelState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSubscribed:
		return "subscribed"
	}
	return "unknown"
}

type EventKind int

const (
	EventIdentityResolved EventKind = iota + 1
	EventIdentityFailed
	EventRoomsUpdated
	EventRoomsFailed
	EventHistoryLoaded
	EventHistoryFailed
	// EventHistoryDiscarded reports a response that arrived after its room
	// context was replaced or left.
	EventHistoryDiscarded
	EventStateChanged
	EventConnectionFailed
	EventMessageReceived
	// EventMessageDropped reports an inbound frame that was malformed,
	// duplicated, or addressed to another room.
	EventMessageDropped
)

func (k EventKind) String() string {
	switch k {
	case EventIdentityResolved:
		return "identity_resolved"
	case EventIdentityFailed:
		return "identity_failed"
	case EventRoomsUpdated:
		return "rooms_updated"
	case EventRoomsFailed:
		return "rooms_failed"
	case EventHistoryLoaded:
		return "history_loaded"
	case EventHistoryFailed:
		return "history_failed"
	case EventHistoryDiscarded:
		return "history_discarded"
	case EventStateChanged:
		return "state_changed"
	case EventConnectionFailed:
		return "connection_failed"
	case EventMessageReceived:
		return "message_received"
	case EventMessageDropped:
		return "message_dropped"
	}
	return "unknown"
}

// Event is a state change or failure observed by the manager. Only the
// fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	RoomID  int64
	Page    int
	State   ChannelState
	Message *models.Message
	Err     error
}

// Listener receives events. It is called synchronously from whichever
// goroutine produced the event and must be safe for concurrent use.
type Listener func(Event)
