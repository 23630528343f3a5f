package types

import (
	"freight-chat/internal/models"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	AccessToken string `json:"accessToken"`
	UserID      int64  `json:"userId"`
}

// Profile is the identity document served at /api/users/me.
type Profile struct {
	UserID int64       `json:"userId"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
