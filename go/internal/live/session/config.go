package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/guesssenpai/livesync/go/internal/live/transport"
	"github.com/guesssenpai/livesync/go/internal/models"
)

// Config holds configuration for a live session
type Config struct {
	// BaseURL is the live endpoint root, e.g. ws://localhost:8000/live.
	BaseURL string
	Slug    string
	LobbyID string
	MatchID string

	AutoReconnect  bool
	ReconnectDelay time.Duration
	ReactionLimit  int
	GuessLimit     int

	Transport transport.Config
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:        "ws://localhost:8000/live",
		AutoReconnect:  true,
		ReconnectDelay: 3 * time.Second,
		ReactionLimit:  20,
		GuessLimit:     300,
		Transport:      transport.DefaultConfig(),
	}
}

// Validate checks that the session can build both channel URLs.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Slug) == "" {
		errs = append(errs, errors.New("slug is required"))
	}
	if strings.TrimSpace(c.LobbyID) == "" {
		errs = append(errs, errors.New("lobby id is required"))
	}
	if strings.TrimSpace(c.MatchID) == "" {
		errs = append(errs, errors.New("match id is required"))
	}
	u, err := url.Parse(c.BaseURL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("invalid base url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("base url scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.ReconnectDelay <= 0 {
		errs = append(errs, errors.New("reconnect delay must be positive"))
	}
	return errors.Join(errs...)
}

// LobbyURL is the lobby channel endpoint for player p.
func (c Config) LobbyURL(p models.PlayerIdentity) string {
	return c.channelURL("lobby", c.LobbyID, p)
}

// MatchURL is the match channel endpoint for player p.
func (c Config) MatchURL(p models.PlayerIdentity) string {
	return c.channelURL("match", c.MatchID, p)
}

// channelURL builds <base>/<scope>/<slug>/<id>?playerId=..&name=..&avatar=..
// with empty optional parameters left out.
func (c Config) channelURL(scope, id string, p models.PlayerIdentity) string {
	q := url.Values{}
	q.Set("playerId", p.ID)
	if p.DisplayName != "" {
		q.Set("name", p.DisplayName)
	}
	if p.AvatarURL != "" {
		q.Set("avatar", p.AvatarURL)
	}
	return fmt.Sprintf("%s/%s/%s/%s?%s",
		strings.TrimRight(c.BaseURL, "/"),
		scope,
		url.PathEscape(c.Slug),
		url.PathEscape(id),
		q.Encode())
}
