package client

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the chat backend. Callers can use
// errors.As to inspect it, or IsAPIError for a status check.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("chat api: %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("chat api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsAPIError reports whether err is an *APIError with the given HTTP status.
func IsAPIError(err error, status int) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == status
	}
	return false
}
