package api

import (
	"net/http"
	"time"

	"freight-chat/internal/auth"
	"freight-chat/internal/middleware"
	"freight-chat/internal/repository"
	"freight-chat/internal/stomp"

	"github.com/rs/zerolog"
)

type Deps struct {
	Users    repository.UserRepository
	Rooms    repository.RoomRepository
	Messages repository.MessageRepo
	Issuer   *auth.Issuer
	// Socket serves the STOMP endpoint. Optional.
	Socket http.HandlerFunc
	Logger zerolog.Logger
}

// NewRouter mounts the REST API and, when set, the STOMP endpoint.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger.With().Str("component", "api").Logger()
	authenticate := middleware.Authenticate(deps.Issuer, deps.Users, deps.Logger)
	protected := func(h http.HandlerFunc) http.Handler { return authenticate(h) }

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("POST /api/auth/login",
		LoginHandler(deps.Users, deps.Issuer, middleware.NewRatelimiter(10, time.Second), logger))
	mux.Handle("GET /api/users/me", protected(ProfileHandler()))
	mux.Handle("GET /api/chat/rooms", protected(RoomsHandler(deps.Rooms, logger)))
	mux.Handle("GET /api/chat/room/{roomId}", protected(HistoryHandler(deps.Rooms, deps.Messages, logger)))
	mux.Handle("POST /api/chat/room/personal/{targetUserId}", protected(PersonalRoomHandler(deps.Users, deps.Rooms, logger)))

	if deps.Socket != nil {
		mux.HandleFunc("GET "+stomp.Endpoint, deps.Socket)
	}

	return mux
}
