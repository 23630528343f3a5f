package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"freight-chat/internal/auth"
	"freight-chat/internal/models"
	"freight-chat/internal/repository"
	"freight-chat/internal/types"

	"github.com/rs/zerolog"
)

type contextKey string

const UserKey contextKey = "user"

// UserFromContext returns the user attached by Authenticate.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserKey).(*models.User)
	return user, ok
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func Authenticate(issuer *auth.Issuer, users repository.UserRepository, logger zerolog.Logger) func(http.Handler) http.Handler {
	logger = logger.With().Str("component", "auth").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
				return
			}

			claims, err := issuer.ValidateToken(token)
			if err != nil {
				logger.Info().Err(err).Str("remote", r.RemoteAddr).Msg("invalid bearer token")
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "session expired or invalid")
				return
			}

			user, err := users.GetUserByID(r.Context(), claims.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					logger.Info().Int64("user_id", claims.UserID).Msg("token valid but user no longer exists")
					writeError(w, http.StatusUnauthorized, "UNKNOWN_USER", "user account not found")
					return
				}
				logger.Error().Err(err).Msg("user lookup failed")
				writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(types.ErrorResponse{Code: code, Message: message})
}
