package tasks

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"freight-chat/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLister struct {
	calls atomic.Int32
}

func (l *countingLister) FetchMyRooms(ctx context.Context) []models.Room {
	l.calls.Add(1)
	return []models.Room{{ID: 1, Name: "Driver Kim", Type: models.RoomPersonal}}
}

func TestRefreshRunsOnSchedule(t *testing.T) {
	lister := &countingLister{}
	var updates atomic.Int32
	refresher := NewRoomRefresher(lister, "@every 1s", func(rooms []models.Room) {
		assert.Len(t, rooms, 1)
		updates.Add(1)
	}, zerolog.Nop())

	require.NoError(t, refresher.Start())
	defer refresher.Stop()

	require.Eventually(t, func() bool { return updates.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, lister.calls.Load(), updates.Load())
}

func TestRefreshRejectsBadSchedule(t *testing.T) {
	refresher := NewRoomRefresher(&countingLister{}, "every now and then", nil, zerolog.Nop())
	assert.Error(t, refresher.Start())
	refresher.Stop()
}

func TestRefreshWithoutCallback(t *testing.T) {
	lister := &countingLister{}
	NewRoomRefresher(lister, "@every 1m", nil, zerolog.Nop()).Refresh()
	assert.Equal(t, int32(1), lister.calls.Load())
}
