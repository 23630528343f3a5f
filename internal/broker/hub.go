package broker

import (
	"encoding/json"
	"strconv"
	"sync/atomic"

	"freight-chat/internal/models"
	"freight-chat/internal/stomp"

	"github.com/rs/zerolog"
)

// subscription binds a session to a destination under the client's
// subscription id.
type subscription struct {
	session     *Session
	id          string
	destination string
}

// Hub owns every registered session and the room subscriptions. All of its
// state is touched only by Run, so broadcasts go out in the order they were
// received.
type Hub struct {
	sessions map[string]*Session
	// topics maps a destination to its subscribers and their subscription ids.
	topics map[string]map[*Session]string

	Register    chan *Session
	Unregister  chan *Session
	subscribe   chan subscription
	unsubscribe chan subscription
	Broadcast   chan *models.Message
	Quit        chan struct{}

	active atomic.Int64
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	logger = logger.With().Str("component", "hub").Logger()
	logger.Debug().Msg("initializing hub")
	return &Hub{
		sessions:    make(map[string]*Session),
		topics:      make(map[string]map[*Session]string),
		Register:    make(chan *Session),
		Unregister:  make(chan *Session),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		Broadcast:   make(chan *models.Message, 256),
		Quit:        make(chan struct{}),
		logger:      logger,
	}
}

// ActiveSessions returns the number of registered sessions.
func (h *Hub) ActiveSessions() int {
	return int(h.active.Load())
}

func (h *Hub) cleanupSession(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	for destination, subscribers := range h.topics {
		delete(subscribers, s)
		if len(subscribers) == 0 {
			delete(h.topics, destination)
		}
	}
	s.closeSend()
	h.active.Add(-1)
	h.logger.Info().Str("session", s.ID).Int64("user_id", s.UserID).Int("remaining", len(h.sessions)).Msg("session closed")
}

func (h *Hub) Run() {
	h.logger.Info().Msg("hub loop started")
	for {
		select {
		case <-h.Quit:
			h.logger.Info().Int("sessions", len(h.sessions)).Msg("quit signal received, closing sessions")
			for _, s := range h.sessions {
				h.cleanupSession(s)
			}
			return

		case s := <-h.Register:
			h.sessions[s.ID] = s
			h.active.Add(1)
			h.logger.Info().Str("session", s.ID).Int64("user_id", s.UserID).Int("active", len(h.sessions)).Msg("session registered")

		case s := <-h.Unregister:
			h.cleanupSession(s)

		case sub := <-h.subscribe:
			if _, ok := h.sessions[sub.session.ID]; !ok {
				continue
			}
			subscribers, ok := h.topics[sub.destination]
			if !ok {
				subscribers = make(map[*Session]string)
				h.topics[sub.destination] = subscribers
			}
			subscribers[sub.session] = sub.id
			h.logger.Debug().Str("session", sub.session.ID).Str("destination", sub.destination).Msg("subscribed")

		case sub := <-h.unsubscribe:
			for destination, subscribers := range h.topics {
				if id, ok := subscribers[sub.session]; ok && id == sub.id {
					delete(subscribers, sub.session)
					if len(subscribers) == 0 {
						delete(h.topics, destination)
					}
				}
			}

		case message := <-h.Broadcast:
			h.deliver(message)
		}
	}
}

// deliver fans a saved message out to the room's subscribers. A subscriber
// whose buffer is full is evicted.
func (h *Hub) deliver(message *models.Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		h.logger.Error().Err(err).Int64("message_id", message.ID).Msg("failed to encode message")
		return
	}

	destination := stomp.RoomTopic(message.RoomID)
	messageID := strconv.FormatInt(message.ID, 10)
	subscribers := h.topics[destination]
	h.logger.Debug().Str("destination", destination).Int("subscribers", len(subscribers)).Msg("broadcasting message")

	for s, subscriptionID := range subscribers {
		data, err := stomp.Encode(stomp.Message(destination, subscriptionID, messageID, payload))
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to encode MESSAGE frame")
			return
		}
		if !s.enqueue(data) {
			h.logger.Warn().Str("session", s.ID).Msg("session buffer full, evicting slow consumer")
			h.cleanupSession(s)
		}
	}
}
