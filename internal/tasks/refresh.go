package tasks

import (
	"context"
	"fmt"
	"time"

	"freight-chat/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RoomLister is the part of the chat manager the refresher drives.
type RoomLister interface {
	FetchMyRooms(ctx context.Context) []models.Room
}

// RoomRefresher re-fetches the room list on a cron schedule so unread
// counts and last messages stay current in long-running clients.
type RoomRefresher struct {
	rooms    RoomLister
	schedule string
	timeout  time.Duration
	onUpdate func([]models.Room)
	logger   zerolog.Logger

	cron *cron.Cron
}

// NewRoomRefresher accepts standard cron specs and descriptors such as
// "@every 30s". onUpdate may be nil.
func NewRoomRefresher(rooms RoomLister, schedule string, onUpdate func([]models.Room), logger zerolog.Logger) *RoomRefresher {
	return &RoomRefresher{
		rooms:    rooms,
		schedule: schedule,
		timeout:  10 * time.Second,
		onUpdate: onUpdate,
		logger:   logger.With().Str("component", "refresher").Logger(),
	}
}

func (t *RoomRefresher) Refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	rooms := t.rooms.FetchMyRooms(ctx)
	t.logger.Debug().Int("rooms", len(rooms)).Msg("room list refreshed")
	if t.onUpdate != nil {
		t.onUpdate(rooms)
	}
}

func (t *RoomRefresher) Start() error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(t.schedule, t.Refresh); err != nil {
		return fmt.Errorf("tasks: invalid refresh schedule %q: %w", t.schedule, err)
	}

	t.cron = c
	c.Start()
	t.logger.Info().Str("schedule", t.schedule).Msg("room refresh scheduled")
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (t *RoomRefresher) Stop() {
	if t.cron == nil {
		return
	}
	<-t.cron.Stop().Done()
}
