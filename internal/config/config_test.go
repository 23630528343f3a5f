package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSocketURL(t *testing.T) {
	tests := []struct {
		apiURL  string
		want    string
		wantErr bool
	}{
		{apiURL: "http://localhost:8080", want: "ws://localhost:8080/ws-stomp"},
		{apiURL: "https://api.example.com/", want: "wss://api.example.com/ws-stomp"},
		{apiURL: "https://api.example.com/v1", want: "wss://api.example.com/v1/ws-stomp"},
		{apiURL: "ftp://example.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.apiURL, func(t *testing.T) {
			got, err := DeriveSocketURL(tt.apiURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("CHAT_API_URL", "http://chat.local:9000/")
	t.Setenv("CHAT_WS_URL", "")
	t.Setenv("CHAT_TOKEN", "abc")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://chat.local:9000", cfg.APIURL)
	assert.Equal(t, "ws://chat.local:9000/ws-stomp", cfg.WSURL)
	assert.Equal(t, "@every 30s", cfg.RefreshSchedule)
}

func TestLoadClientRequiresCredential(t *testing.T) {
	t.Setenv("CHAT_TOKEN", "")
	t.Setenv("CHAT_USERNAME", "driver")
	t.Setenv("CHAT_PASSWORD", "")

	_, err := LoadClient()
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestLoadServer(t *testing.T) {
	t.Setenv("AUTH_KEY", "")
	_, err := LoadServer()
	assert.ErrorIs(t, err, ErrMissingAuthKey)

	t.Setenv("AUTH_KEY", "k")
	t.Setenv("DATABASE_URL", "postgres://user:pw@db:5432/chat")
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres://****:****@db:5432/chat", maskDBSource(cfg.DatabaseURL))
}
