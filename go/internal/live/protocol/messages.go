// Package protocol defines the JSON frames exchanged on the lobby and match
// channels.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → server message types.
const (
	TypeSync         = "sync"
	TypeReady        = "ready"
	TypeReaction     = "reaction"
	TypeGuess        = "guess"
	TypeTimer        = "timer"
	TypeSetCountdown = "set_countdown"
)

// Server → client message types. reaction, guess and timer reuse the client
// names above.
const (
	TypeWelcome    = "welcome"
	TypeLobbyState = "lobby_state"
	TypeMatchState = "match_state"
)

// Outbound is a client message waiting to be written. Payload is any value
// that marshals to a JSON object, or nil.
type Outbound struct {
	Type    string
	Payload any
}

// ReadyPayload toggles readiness in the lobby.
type ReadyPayload struct {
	Ready bool `json:"ready"`
}

// ReactionPayload posts an emoji with a client-generated event id.
type ReactionPayload struct {
	Emoji   string `json:"emoji"`
	EventID string `json:"eventId"`
}

// GuessPayload submits guess text with a client-generated event id.
type GuessPayload struct {
	Guess   string `json:"guess"`
	EventID string `json:"eventId"`
}

// TimerPayload asks the server to set the match timer. A nil Remaining
// clears it.
type TimerPayload struct {
	Remaining *int `json:"remaining"`
	Running   bool `json:"running"`
}

// CountdownPayload asks the server to set the lobby countdown. A nil Seconds
// clears it.
type CountdownPayload struct {
	Seconds *int `json:"seconds"`
}

func Sync() Outbound { return Outbound{Type: TypeSync} }

func Ready(ready bool) Outbound {
	return Outbound{Type: TypeReady, Payload: ReadyPayload{Ready: ready}}
}

func Reaction(emoji, eventID string) Outbound {
	return Outbound{Type: TypeReaction, Payload: ReactionPayload{Emoji: emoji, EventID: eventID}}
}

func Guess(text, eventID string) Outbound {
	return Outbound{Type: TypeGuess, Payload: GuessPayload{Guess: text, EventID: eventID}}
}

func Timer(remaining *int, running bool) Outbound {
	return Outbound{Type: TypeTimer, Payload: TimerPayload{Remaining: remaining, Running: running}}
}

func SetCountdown(seconds *int) Outbound {
	return Outbound{Type: TypeSetCountdown, Payload: CountdownPayload{Seconds: seconds}}
}

// Encode serializes o as a flat object: {"type": ..., <payload fields>}.
func Encode(o Outbound) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if o.Payload != nil {
		raw, err := json.Marshal(o.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", o.Type, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("%s payload is not a JSON object: %w", o.Type, err)
		}
	}
	typ, err := json.Marshal(o.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ
	return json.Marshal(fields)
}
