package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"freight-chat/internal/auth"
	"freight-chat/internal/middleware"
	"freight-chat/internal/repository"
	"freight-chat/internal/types"

	"github.com/rs/zerolog"
)

func getIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LoginHandler exchanges a username and password for an access token.
// Attempts beyond the limiter's budget are answered with 429.
func LoginHandler(users repository.UserRepository, issuer *auth.Issuer, limiter *middleware.RateLimiter, logger zerolog.Logger) http.HandlerFunc {
	logger = logger.With().Str("handler", "login").Logger()
	return func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)

		if limiter != nil && !limiter.Allow() {
			logger.Warn().Str("ip", ip).Msg("login rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many login attempts")
			return
		}

		dbctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)

		defer cancel()

		var payload types.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			logger.Debug().Err(err).Str("ip", ip).Msg("decode error")
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
			return
		}

		payload.Username = strings.TrimSpace(payload.Username)
		if payload.Username == "" || payload.Password == "" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "username and password are required")
			return
		}

		user, err := users.GetUserByUsername(dbctx, payload.Username)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				logger.Info().Str("username", payload.Username).Str("ip", ip).Msg("user not found")
				writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
				return
			}
			logger.Error().Err(err).Str("username", payload.Username).Msg("user lookup failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}

		if !auth.VerifyPassword(payload.Password, user.Password_Hash) {
			logger.Info().Str("username", payload.Username).Str("ip", ip).Msg("invalid password")
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid username or password")
			return
		}

		token, err := issuer.GenerateToken(user.ID)
		if err != nil {
			logger.Error().Err(err).Int64("user_id", user.ID).Msg("token generation failed")
			writeError(w, http.StatusInternalServerError, "INTERNAL", "failed to create session")
			return
		}

		logger.Info().Int64("user_id", user.ID).Str("ip", ip).Msg("login succeeded")
		writeJSON(w, http.StatusOK, types.AuthResponse{AccessToken: token, UserID: user.ID})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: message})
}
