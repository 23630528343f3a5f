package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"freight-chat/internal/chat"
	"freight-chat/internal/client"
	"freight-chat/internal/config"
	"freight-chat/internal/models"
	"freight-chat/internal/tasks"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	var (
		roomID  = pflag.Int64P("room", "r", 0, "room id to enter")
		target  = pflag.Int64P("target", "t", 0, "open the personal room with this user id")
		list    = pflag.BoolP("list", "l", false, "print the room list and exit")
		watch   = pflag.BoolP("watch", "w", false, "keep the room list refreshed until interrupted")
		verbose = pflag.BoolP("verbose", "v", false, "debug logging")
	)
	pflag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rest, err := client.New(client.Config{BaseURL: cfg.APIURL, Token: cfg.Token, Logger: &log.Logger})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create client")
	}
	if cfg.Token == "" {
		if _, err := rest.Login(ctx, cfg.Username, cfg.Password); err != nil {
			log.Fatal().Err(err).Msg("login failed")
		}
	}

	manager, err := chat.NewManager(chat.Config{
		Backend:   rest,
		SocketURL: cfg.WSURL,
		Listener:  printEvent,
		Logger:    &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chat manager")
	}

	switch {
	case *list || *watch:
		printRooms(manager.FetchMyRooms(ctx))
		if *watch {
			watchRooms(ctx, manager, cfg.RefreshSchedule)
		}
		return
	case *target > 0:
		id, err := manager.OpenPersonalRoom(ctx, *target)
		if err != nil {
			log.Fatal().Err(err).Int64("target", *target).Msg("personal room unavailable")
		}
		*roomID = id
	}

	if *roomID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: chat-client --room ID | --target USER_ID | --list [--watch]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	runRoom(ctx, manager, *roomID)
}

func watchRooms(ctx context.Context, manager *chat.Manager, schedule string) {
	refresher := tasks.NewRoomRefresher(manager, schedule, printRooms, log.Logger)
	if err := refresher.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule refresh")
	}
	defer refresher.Stop()
	<-ctx.Done()
}

func runRoom(ctx context.Context, manager *chat.Manager, roomID int64) {
	leave, err := manager.Enter(ctx, roomID)
	defer leave()
	if err != nil {
		log.Warn().Err(err).Int64("room_id", roomID).Msg("room entered in degraded state")
	}

	messages := manager.Messages()
	for i := len(messages) - 1; i >= 0; i-- {
		printMessage(manager, messages[i])
	}
	fmt.Println("-- type to send, /older for earlier messages, /quit to leave --")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return
			case "/older":
				oldest := oldestID(manager.Messages())
				if err := manager.LoadOlder(ctx); err != nil {
					continue
				}
				older := olderThan(manager.Messages(), oldest)
				for i := len(older) - 1; i >= 0; i-- {
					printMessage(manager, older[i])
				}
				if !manager.HasNext() {
					fmt.Println("-- start of conversation --")
				}
			default:
				if !manager.SendMessage(roomID, line) && strings.TrimSpace(line) != "" {
					fmt.Println("-- not sent: channel is not connected --")
				}
			}
		}
	}
}

// oldestID returns the id at the tail of a newest-first list, or 0 when empty.
func oldestID(messages []models.Message) int64 {
	if len(messages) == 0 {
		return 0
	}
	return messages[len(messages)-1].ID
}

// olderThan keeps the messages strictly older than id, newest first. Live
// messages prepended while a page loads are left out. An id of 0 keeps all.
func olderThan(messages []models.Message, id int64) []models.Message {
	if id == 0 {
		return messages
	}
	var older []models.Message
	for _, msg := range messages {
		if msg.ID < id {
			older = append(older, msg)
		}
	}
	return older
}

func printEvent(event chat.Event) {
	switch event.Kind {
	case chat.EventMessageReceived:
		fmt.Printf("[%s] %s: %s\n", event.Message.CreatedAt.Local().Format(time.Kitchen), event.Message.SenderName, event.Message.Content)
	case chat.EventConnectionFailed:
		fmt.Printf("-- connection lost: %v --\n", event.Err)
	}
}

func printMessage(manager *chat.Manager, msg models.Message) {
	sender := msg.SenderName
	if manager.IsMine(msg) {
		sender = "me"
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), sender, msg.Content)
}

func printRooms(rooms []models.Room) {
	fmt.Printf("%-6s %-10s %-24s %-7s %s\n", "ID", "TYPE", "NAME", "UNREAD", "LAST")
	for _, room := range rooms {
		fmt.Printf("%-6d %-10s %-24s %-7d %s\n", room.ID, room.Type, room.Name, room.UnreadCount, room.LastMessage)
	}
}
