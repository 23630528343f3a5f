package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ServerConfig configures the reference chat backend.
type ServerConfig struct {
	DatabaseURL  string
	Port         string
	Env          string
	AuthKey      string
	Host         string
	DemoPassword string
}

// ClientConfig configures the chat client.
type ClientConfig struct {
	APIURL          string
	WSURL           string
	Token           string
	Username        string
	Password        string
	RefreshSchedule string
}

var (
	ErrMissingAuthKey    = errors.New("config: AUTH_KEY (JWT secret) is required")
	ErrMissingCredential = errors.New("config: CHAT_TOKEN or CHAT_USERNAME/CHAT_PASSWORD is required")
)

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("component", "config").Msg("no .env file found, relying on system environment variables")
		return
	}
	log.Debug().Str("component", "config").Msg("loaded .env file")
}

func LoadServer() (*ServerConfig, error) {
	loadDotEnv()

	cfg := &ServerConfig{
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("APP_ENV", "development"),
		AuthKey:      getEnv("AUTH_KEY", ""),
		Host:         getEnv("HOST", "localhost"),
		DemoPassword: getEnv("DEMO_PASSWORD", "password"),
	}

	if cfg.AuthKey == "" {
		return nil, ErrMissingAuthKey
	}

	logger := log.With().Str("component", "config").Logger()
	logger.Info().Str("env", cfg.Env).Str("port", cfg.Port).Msg("server configuration loaded")
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory storage")
	} else {
		logger.Info().Str("database", maskDBSource(cfg.DatabaseURL)).Msg("database configured")
	}
	return cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	loadDotEnv()

	cfg := &ClientConfig{
		APIURL:          strings.TrimRight(getEnv("CHAT_API_URL", "http://localhost:8080"), "/"),
		WSURL:           getEnv("CHAT_WS_URL", ""),
		Token:           getEnv("CHAT_TOKEN", ""),
		Username:        getEnv("CHAT_USERNAME", ""),
		Password:        getEnv("CHAT_PASSWORD", ""),
		RefreshSchedule: getEnv("CHAT_REFRESH_SCHEDULE", "@every 30s"),
	}

	if cfg.WSURL == "" {
		wsURL, err := DeriveSocketURL(cfg.APIURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = wsURL
	}

	if cfg.Token == "" && (cfg.Username == "" || cfg.Password == "") {
		return nil, ErrMissingCredential
	}
	return cfg, nil
}

// DeriveSocketURL maps the REST base URL onto the STOMP endpoint of the same
// host: http becomes ws and https becomes wss.
func DeriveSocketURL(apiURL string) (string, error) {
	parsed, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("config: invalid CHAT_API_URL %q: %w", apiURL, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("config: unsupported CHAT_API_URL scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws-stomp"
	return parsed.String(), nil
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		log.Debug().Str("component", "config").Str("key", key).Msg("variable not set, using default")
		return defaultValue
	}

	return value
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
