package models

import "time"

// GuessEvent is one guess in a match's guess stream.
//
// Optimistic is true while the event exists only locally; it flips to false
// once the server echoes an event with the same ID.
type GuessEvent struct {
	ID          string `json:"id"`
	PlayerID    string `json:"playerId"`
	GuessText   string `json:"guessText"`
	TimestampMs int64  `json:"timestampMs"`
	Optimistic  bool   `json:"optimistic"`
}

// Confirmed reports whether the server has acknowledged the guess.
func (g GuessEvent) Confirmed() bool {
	return !g.Optimistic
}

// TimerState is the server-owned match timer. RemainingSeconds is nil when
// no timer has been set.
type TimerState struct {
	RemainingSeconds *int  `json:"remainingSeconds"`
	Running          bool  `json:"running"`
	UpdatedAtMs      int64 `json:"updatedAtMs"`
}

// Remaining computes the value to display at now without any network traffic.
func (t TimerState) Remaining(now time.Time) *int {
	if t.RemainingSeconds == nil {
		return nil
	}
	remaining := *t.RemainingSeconds
	if t.Running {
		// a server clock ahead of ours must not add time back
		elapsed := max(int((now.UnixMilli()-t.UpdatedAtMs)/1000), 0)
		remaining = max(remaining-elapsed, 0)
	}
	return &remaining
}

// MatchState is the active round.
type MatchState struct {
	ID        string           `json:"id"`
	Slug      string           `json:"slug"`
	UpdatedAt int64            `json:"updatedAt"` // ms epoch
	Guesses   []GuessEvent     `json:"guesses"`
	Timer     TimerState       `json:"timer"`
	Players   []PlayerPresence `json:"players"`
}
