// Package client is the REST side of the chat backend: identity, room list,
// paginated history and personal room creation.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"freight-chat/internal/models"
	"freight-chat/internal/types"

	"github.com/rs/zerolog"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8080".
	BaseURL string
	// Token is the bearer credential. May be empty until Login.
	Token string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.RWMutex
	token string
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("client: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("client: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "rest").Logger(),
	}, nil
}

// Token returns the bearer credential, shared with the real-time channel.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges username and password for an access token and stores it on
// the client for subsequent requests.
func (c *Client) Login(ctx context.Context, username, password string) (*types.AuthResponse, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", types.LoginRequest{
		Username: username,
		Password: password,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("client: login failed: %w", err)
	}

	var response types.AuthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("client: failed to parse login response: %w", err)
	}
	c.mu.Lock()
	c.token = response.AccessToken
	c.mu.Unlock()

	c.logger.Info().Int64("user_id", response.UserID).Msg("logged in")
	return &response, nil
}

// Profile returns the caller's identity.
func (c *Client) Profile(ctx context.Context) (*types.Profile, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/users/me", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("client: profile failed: %w", err)
	}

	var profile types.Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("client: failed to parse profile: %w", err)
	}
	if profile.UserID <= 0 {
		return nil, fmt.Errorf("client: profile has no user id")
	}
	return &profile, nil
}

// Rooms returns the caller's rooms in server order.
func (c *Client) Rooms(ctx context.Context) ([]models.Room, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/chat/rooms", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("client: room list failed: %w", err)
	}

	var rooms []models.Room
	if err := json.Unmarshal(body, &rooms); err != nil {
		return nil, fmt.Errorf("client: failed to parse room list: %w", err)
	}
	return rooms, nil
}

// History fetches one newest-first page of a room's messages.
func (c *Client) History(ctx context.Context, roomID int64, page int) (*types.HistoryPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(types.HistoryPageSize))

	path := "/api/chat/room/" + strconv.FormatInt(roomID, 10)
	body, err := c.doRequest(ctx, http.MethodGet, path, nil, query)
	if err != nil {
		return nil, fmt.Errorf("client: history for room %d page %d failed: %w", roomID, page, err)
	}

	var history types.HistoryPage
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("client: failed to parse history: %w", err)
	}
	return &history, nil
}

// CreatePersonalRoom returns the id of the 1:1 room with targetUserID,
// creating it if it does not exist yet.
func (c *Client) CreatePersonalRoom(ctx context.Context, targetUserID int64) (int64, error) {
	path := "/api/chat/room/personal/" + strconv.FormatInt(targetUserID, 10)
	body, err := c.doRequest(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("client: personal room with %d failed: %w", targetUserID, err)
	}

	var roomID int64
	if err := json.Unmarshal(body, &roomID); err != nil {
		return 0, fmt.Errorf("client: failed to parse room id: %w", err)
	}
	return roomID, nil
}

// doRequest performs a request against the backend and returns the body of
// a 2xx response. Anything else becomes an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().Str("method", method).Str("path", path).Int("status", response.StatusCode).Msg("request completed")

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	apiErr := &APIError{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, apiErr); jsonErr != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(responseBody))
	}
	return nil, apiErr
}
