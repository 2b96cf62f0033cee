package models

// ReactionEvent is an emoji reaction posted to a lobby. Identity is by ID.
type ReactionEvent struct {
	ID          string `json:"id"`
	PlayerID    string `json:"playerId"`
	Emoji       string `json:"emoji"`
	TimestampMs int64  `json:"timestampMs"`
}

// LobbyState is the pre-match waiting room.
type LobbyState struct {
	ID               string          `json:"id"`
	Slug             string          `json:"slug"`
	CountdownSeconds *int            `json:"countdownSeconds"`
	UpdatedAt        int64           `json:"updatedAt"` // ms epoch
	Players          []LobbyPlayer   `json:"players"`
	Reactions        []ReactionEvent `json:"reactions"`
}

// Player returns the lobby entry for id.
func (l *LobbyState) Player(id string) (LobbyPlayer, bool) {
	if l == nil {
		return LobbyPlayer{}, false
	}
	for _, p := range l.Players {
		if p.ID == id {
			return p, true
		}
	}
	return LobbyPlayer{}, false
}

// ReadyCount returns how many players have toggled ready.
func (l *LobbyState) ReadyCount() int {
	if l == nil {
		return 0
	}
	n := 0
	for _, p := range l.Players {
		if p.Ready {
			n++
		}
	}
	return n
}

// AllReady reports whether the lobby has players and every one of them is ready.
func (l *LobbyState) AllReady() bool {
	return l != nil && len(l.Players) > 0 && l.ReadyCount() == len(l.Players)
}
