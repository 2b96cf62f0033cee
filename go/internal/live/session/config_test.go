package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guesssenpai/livesync/go/internal/models"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing slug", mutate: func(c *Config) { c.Slug = " " }, wantErr: "slug is required"},
		{name: "missing lobby", mutate: func(c *Config) { c.LobbyID = "" }, wantErr: "lobby id is required"},
		{name: "missing match", mutate: func(c *Config) { c.MatchID = "" }, wantErr: "match id is required"},
		{name: "http scheme", mutate: func(c *Config) { c.BaseURL = "http://example.com/live" }, wantErr: "scheme must be ws or wss"},
		{name: "zero delay", mutate: func(c *Config) { c.ReconnectDelay = 0 }, wantErr: "reconnect delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.AutoReconnect)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 20, cfg.ReactionLimit)
	assert.Equal(t, 300, cfg.GuessLimit)
}

func TestChannelURLs(t *testing.T) {
	cfg := testConfig()
	cfg.BaseURL = "wss://live.example.com/live/"
	cfg.LobbyID = "lobby 7"

	p := models.PlayerIdentity{ID: "p 1", DisplayName: "Mika R", AvatarURL: "https://img.example.com/a.png"}
	assert.Equal(t,
		"wss://live.example.com/live/lobby/anime/lobby%207?avatar=https%3A%2F%2Fimg.example.com%2Fa.png&name=Mika+R&playerId=p+1",
		cfg.LobbyURL(p))

	// empty optional parameters are omitted
	assert.Equal(t, "wss://live.example.com/live/match/anime/m1?playerId=p1", cfg.MatchURL(models.PlayerIdentity{ID: "p1"}))
}
