package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"freight-chat/internal/api"
	"freight-chat/internal/auth"
	"freight-chat/internal/broker"
	"freight-chat/internal/config"
	"freight-chat/internal/db"
	"freight-chat/internal/repository"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type stores struct {
	users    repository.UserRepository
	rooms    repository.RoomRepository
	messages repository.MessageRepo
	close    func()
}

func openStores(ctx context.Context, cfg *config.ServerConfig) (*stores, error) {
	if cfg.DatabaseURL == "" {
		memory := repository.NewMemory()
		return &stores{users: memory, rooms: memory, messages: memory, close: func() {}}, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		users:    repository.NewUserRepo(pool),
		rooms:    repository.NewRoomRepo(pool),
		messages: repository.NewMessagesRepo(pool),
		close:    pool.Close,
	}, nil
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.Env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer st.close()

	if cfg.Env != "production" {
		hash, err := auth.HashPassword(cfg.DemoPassword)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to hash demo password")
		}
		if err := repository.SeedDemo(ctx, st.users, st.rooms, hash); err != nil {
			log.Fatal().Err(err).Msg("failed to seed demo data")
		}
		log.Info().Msg("demo users shipper/driver ready")
	}

	issuer, err := auth.NewIssuer(cfg.AuthKey, 24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token issuer")
	}

	b, err := broker.New(broker.Config{
		Issuer:   issuer,
		Users:    st.users,
		Rooms:    st.rooms,
		Messages: st.messages,
		Logger:   &log.Logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create broker")
	}
	go b.Run()

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Users:    st.users,
			Rooms:    st.rooms,
			Messages: st.messages,
			Issuer:   issuer,
			Socket:   b.ServeWS,
			Logger:   log.Logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("chat server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-stop

	log.Info().Msg("shutdown signal received, cleaning up")
	b.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
