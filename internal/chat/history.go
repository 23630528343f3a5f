package chat

import (
	"context"

	"freight-chat/internal/models"
)

// LoadHistory fetches one page of a room's history. Page 0 replaces the
// message list and page > 0 appends older messages to its tail. An invalid
// room id or negative page returns immediately without a request.
//
// A response is applied only if its room context is still current: leaving
// the room, switching rooms, or issuing a newer page-0 request discards it.
func (m *Manager) LoadHistory(ctx context.Context, roomID int64, page int) error {
	return m.loadHistory(ctx, roomID, page, nil)
}

// loadHistory loads a page. When visit is non-nil the request is only made
// while that room visit is still current.
func (m *Manager) loadHistory(ctx context.Context, roomID int64, page int, visit *uint64) error {
	if roomID <= 0 || page < 0 {
		m.logger.Debug().Int64("room_id", roomID).Int("page", page).Msg("history load skipped")
		return nil
	}

	m.mu.Lock()
	if visit != nil && (m.generation != *visit || m.activeRoom != roomID) {
		m.mu.Unlock()
		return nil
	}
	m.focusLocked(roomID)
	if page > 0 && m.pendingReplace {
		// The page cursor belongs to the list page 0 is about to replace.
		m.mu.Unlock()
		m.logger.Debug().Int64("room_id", roomID).Int("page", page).Msg("older page skipped, reload in flight")
		return nil
	}
	generation := m.generation
	if page == 0 {
		m.replaceSeq++
		m.pendingReplace = true
		m.live = nil
	}
	replaceSeq := m.replaceSeq
	m.mu.Unlock()

	history, err := m.backend.History(ctx, roomID, page)

	m.mu.Lock()
	sameVisit := m.activeRoom == roomID && m.generation == generation
	current := sameVisit && m.replaceSeq == replaceSeq
	if page > 0 && sameVisit {
		m.loadingOld = false
	}
	if err != nil {
		if page == 0 && current {
			m.pendingReplace = false
			m.live = nil
		}
		m.mu.Unlock()
		m.logger.Warn().Err(err).Int64("room_id", roomID).Int("page", page).Msg("history load failed")
		m.emit(Event{Kind: EventHistoryFailed, RoomID: roomID, Page: page, Err: err})
		return err
	}
	if !current {
		m.mu.Unlock()
		m.logger.Debug().Int64("room_id", roomID).Int("page", page).Msg("stale history response discarded")
		m.emit(Event{Kind: EventHistoryDiscarded, RoomID: roomID, Page: page})
		return nil
	}

	if page == 0 {
		m.replaceLocked(history.Messages)
	} else {
		m.appendLocked(history.Messages)
	}
	m.page = page
	m.hasNext = history.HasNext
	count := len(m.messages)
	m.mu.Unlock()

	m.logger.Debug().Int64("room_id", roomID).Int("page", page).Int("messages", count).Msg("history loaded")
	m.emit(Event{Kind: EventHistoryLoaded, RoomID: roomID, Page: page})
	return nil
}

// LoadOlder fetches the next page of the active room when one exists.
// Concurrent calls collapse into a single request, and nothing is fetched
// while page 0 is being reloaded.
func (m *Manager) LoadOlder(ctx context.Context) error {
	m.mu.Lock()
	if m.activeRoom <= 0 || !m.hasNext || m.loadingOld || m.pendingReplace {
		m.mu.Unlock()
		return nil
	}
	m.loadingOld = true
	roomID, next := m.activeRoom, m.page+1
	m.mu.Unlock()

	return m.LoadHistory(ctx, roomID, next)
}

// replaceLocked installs a fresh page 0. Live messages that arrived while the
// request was in flight are kept at the head unless the page already has them.
func (m *Manager) replaceLocked(page []models.Message) {
	inPage := make(map[int64]struct{}, len(page))
	for _, msg := range page {
		inPage[msg.ID] = struct{}{}
	}

	messages := make([]models.Message, 0, len(m.live)+len(page))
	seen := make(map[int64]struct{}, len(m.live)+len(page))
	for i := len(m.live) - 1; i >= 0; i-- {
		msg := m.live[i]
		if _, ok := inPage[msg.ID]; ok {
			continue
		}
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		messages = append(messages, msg)
	}
	for _, msg := range page {
		if _, ok := seen[msg.ID]; ok {
			continue
		}
		seen[msg.ID] = struct{}{}
		messages = append(messages, msg)
	}

	m.messages = messages
	m.seen = seen
	m.pendingReplace = false
	m.live = nil
}

// appendLocked adds an older page to the tail, skipping ids already held.
// Ids can repeat when live messages shift the server's page boundaries.
func (m *Manager) appendLocked(page []models.Message) {
	for _, msg := range page {
		if _, ok := m.seen[msg.ID]; ok {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		m.messages = append(m.messages, msg)
	}
}
