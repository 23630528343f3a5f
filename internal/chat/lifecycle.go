package chat

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Enter starts a visit to roomID: any open channel is closed, the identity
// is resolved if needed, and the first history page and the live channel
// are requested concurrently.
//
// leave is never nil and must be called when the visit ends, on every exit
// path; it closes the channel and discards history responses still in
// flight. Calling it again, or after a later Enter has replaced the visit,
// does nothing. err reports the first history or channel failure; the visit
// stays usable in a degraded form either way.
func (m *Manager) Enter(ctx context.Context, roomID int64) (leave func(), err error) {
	if roomID <= 0 {
		return func() {}, ErrInvalidRoomID
	}

	m.Disconnect()

	m.mu.Lock()
	m.resetRoomLocked(roomID)
	visit := m.generation
	m.mu.Unlock()

	var once sync.Once
	leave = func() {
		once.Do(func() { m.leave(roomID, visit) })
	}

	m.logger.Info().Int64("room_id", roomID).Msg("entering room")

	// Identity only gates sending, so a failure here does not stop the visit.
	_ = m.ResolveIdentity(ctx)

	var group errgroup.Group
	group.Go(func() error {
		return m.loadHistory(ctx, roomID, 0, &visit)
	})
	group.Go(func() error {
		return m.connect(ctx, roomID, &visit)
	})
	return leave, group.Wait()
}

func (m *Manager) leave(roomID int64, visit uint64) {
	m.mu.Lock()
	if m.generation == visit && m.activeRoom == roomID {
		// Invalidates responses still in flight for this visit.
		m.generation++
	}
	var owned *channel
	if m.channel != nil && m.channel.generation == visit {
		owned = m.channel
	}
	m.mu.Unlock()

	m.logger.Info().Int64("room_id", roomID).Msg("leaving room")
	if owned != nil {
		m.disconnect(owned)
	}
}
