package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"freight-chat/internal/middleware"
	"freight-chat/internal/repository"
	"freight-chat/internal/types"

	"github.com/rs/zerolog"
)

const maxPageSize = 100

// ProfileHandler serves the authenticated caller's identity.
func ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}
		writeJSON(w, http.StatusOK, types.Profile{UserID: user.ID, Name: user.Name, Role: user.Role})
	}
}

func RoomsHandler(rooms repository.RoomRepository, logger zerolog.Logger) http.HandlerFunc {
	logger = logger.With().Str("handler", "rooms").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		list, err := rooms.ListRooms(dbctx, user.ID)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", user.ID).Msg("room list failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// HistoryHandler serves one newest-first page of a room and moves the
// caller's read marker to the newest message served. The page size is
// clamped to 1..100 and defaults to 30.
func HistoryHandler(rooms repository.RoomRepository, messages repository.MessageRepo, logger zerolog.Logger) http.HandlerFunc {
	logger = logger.With().Str("handler", "history").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}

		roomID, err := strconv.ParseInt(r.PathValue("roomId"), 10, 64)
		if err != nil || roomID <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid room id")
			return
		}
		page, size, err := pageParams(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		member, err := rooms.IsMember(dbctx, roomID, user.ID)
		if err != nil {
			logger.Error().Err(err).Int64("room_id", roomID).Msg("membership check failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}
		if !member {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "not a member of this room")
			return
		}

		list, hasNext, err := messages.Fetch(dbctx, roomID, page, size)
		if err != nil {
			logger.Error().Err(err).Int64("room_id", roomID).Int("page", page).Msg("history fetch failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		if page == 0 && len(list) > 0 {
			if err := rooms.MarkRead(dbctx, roomID, user.ID, list[0].ID); err != nil {
				logger.Warn().Err(err).Int64("room_id", roomID).Msg("failed to mark room read")
			}
		}

		writeJSON(w, http.StatusOK, types.HistoryPage{
			RoomID:      roomID,
			Messages:    list,
			CurrentPage: page,
			HasNext:     hasNext,
		})
	}
}

func pageParams(r *http.Request) (page, size int, err error) {
	query := r.URL.Query()

	if raw := query.Get("page"); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 0 {
			return 0, 0, errors.New("invalid page")
		}
	}

	size = types.HistoryPageSize
	if raw := query.Get("size"); raw != "" {
		size, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, errors.New("invalid size")
		}
		size = min(max(size, 1), maxPageSize)
	}
	return page, size, nil
}

// PersonalRoomHandler returns the 1:1 room with the target user as a bare
// JSON number, creating the room on first use.
func PersonalRoomHandler(users repository.UserRepository, rooms repository.RoomRepository, logger zerolog.Logger) http.HandlerFunc {
	logger = logger.With().Str("handler", "personal_room").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
			return
		}

		targetID, err := strconv.ParseInt(r.PathValue("targetUserId"), 10, 64)
		if err != nil || targetID <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid user id")
			return
		}
		if targetID == user.ID {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "cannot open a personal room with yourself")
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if _, err := users.GetUserByID(dbctx, targetID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "user not found")
				return
			}
			logger.Error().Err(err).Int64("target_user_id", targetID).Msg("user lookup failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		roomID, err := rooms.GetOrCreatePersonal(dbctx, user.ID, targetID)
		if err != nil {
			logger.Error().Err(err).Int64("target_user_id", targetID).Msg("personal room failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		logger.Debug().Int64("user_id", user.ID).Int64("room_id", roomID).Msg("personal room ready")
		writeJSON(w, http.StatusOK, roomID)
	}
}
