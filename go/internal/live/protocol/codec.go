package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/guesssenpai/livesync/go/internal/live/timestamps"
	"github.com/guesssenpai/livesync/go/internal/models"
)

var (
	// ErrMalformed wraps every decode failure of a known message type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage is returned for well-formed frames with a type this
	// client does not handle.
	ErrUnknownMessage = errors.New("unknown message type")
)

// Inbound is a decoded server frame.
type Inbound interface{ isInbound() }

// Welcome is sent once per connection with the id the server registered.
type Welcome struct {
	Scope    string
	PlayerID string
}

// LobbySnapshot replaces the lobby wholesale.
type LobbySnapshot struct{ Lobby models.LobbyState }

// ReactionDelta carries one reaction.
type ReactionDelta struct{ Event models.ReactionEvent }

// MatchSnapshot replaces the match wholesale.
type MatchSnapshot struct{ State models.MatchState }

// GuessDelta carries one confirmed guess.
type GuessDelta struct{ Event models.GuessEvent }

// TimerDelta replaces the match timer.
type TimerDelta struct{ Timer models.TimerState }

func (Welcome) isInbound()       {}
func (LobbySnapshot) isInbound() {}
func (ReactionDelta) isInbound() {}
func (MatchSnapshot) isInbound() {}
func (GuessDelta) isInbound()    {}
func (TimerDelta) isInbound()    {}

// Wire shapes as emitted by the live server. Timestamps are decoded as
// arbitrary values and normalized afterwards.
type wirePlayer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar"`
	Ready      bool   `json:"ready"`
	LastActive any    `json:"lastActive"`
}

type wireReaction struct {
	ID        string `json:"id"`
	PlayerID  string `json:"playerId"`
	Emoji     string `json:"emoji"`
	Timestamp any    `json:"timestamp"`
}

type wireGuess struct {
	ID        string `json:"id"`
	PlayerID  string `json:"playerId"`
	Guess     string `json:"guess"`
	Timestamp any    `json:"timestamp"`
}

type wireTimer struct {
	Remaining *float64 `json:"remaining"`
	Running   bool     `json:"running"`
	UpdatedAt any      `json:"updatedAt"`
}

type wireLobby struct {
	ID        string         `json:"id"`
	Slug      string         `json:"slug"`
	Countdown *float64       `json:"countdown"`
	UpdatedAt any            `json:"updatedAt"`
	Players   []wirePlayer   `json:"players"`
	Reactions []wireReaction `json:"reactions"`
}

type wireMatch struct {
	ID        string       `json:"id"`
	Slug      string       `json:"slug"`
	UpdatedAt any          `json:"updatedAt"`
	Guesses   []wireGuess  `json:"guesses"`
	Timer     *wireTimer   `json:"timer"`
	Players   []wirePlayer `json:"players"`
}

type envelope struct {
	Type     string          `json:"type"`
	Scope    string          `json:"scope"`
	PlayerID string          `json:"playerId"`
	Lobby    *wireLobby      `json:"lobby"`
	State    *wireMatch      `json:"state"`
	Event    json.RawMessage `json:"event"`
	Timer    *wireTimer      `json:"timer"`
}

// Decoder turns raw frames into Inbound values, normalizing every timestamp.
type Decoder struct {
	norm timestamps.Normalizer
}

// NewDecoder returns a Decoder using norm for timestamps.
func NewDecoder(norm timestamps.Normalizer) Decoder {
	return Decoder{norm: norm}
}

// PeekType returns the type field of a frame without validating the rest.
func PeekType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) != nil {
		return ""
	}
	return head.Type
}

// Decode parses one frame.
func (d Decoder) Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeWelcome:
		return Welcome{Scope: env.Scope, PlayerID: env.PlayerID}, nil

	case TypeLobbyState:
		if env.Lobby == nil {
			return nil, fmt.Errorf("%w: lobby_state without lobby", ErrMalformed)
		}
		return LobbySnapshot{Lobby: d.lobby(*env.Lobby)}, nil

	case TypeReaction:
		var ev wireReaction
		if err := decodeEvent(env.Event, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("%w: reaction without id", ErrMalformed)
		}
		return ReactionDelta{Event: d.reaction(ev)}, nil

	case TypeMatchState:
		if env.State == nil {
			return nil, fmt.Errorf("%w: match_state without state", ErrMalformed)
		}
		return MatchSnapshot{State: d.match(*env.State)}, nil

	case TypeGuess:
		var ev wireGuess
		if err := decodeEvent(env.Event, &ev); err != nil {
			return nil, err
		}
		if ev.ID == "" {
			return nil, fmt.Errorf("%w: guess without id", ErrMalformed)
		}
		return GuessDelta{Event: d.guess(ev)}, nil

	case TypeTimer:
		if env.Timer == nil {
			return nil, fmt.Errorf("%w: timer without timer", ErrMalformed)
		}
		return TimerDelta{Timer: d.timer(*env.Timer)}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, env.Type)
	}
}

func decodeEvent(raw json.RawMessage, into any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing event", ErrMalformed)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (d Decoder) lobby(w wireLobby) models.LobbyState {
	out := models.LobbyState{
		ID:               w.ID,
		Slug:             w.Slug,
		CountdownSeconds: toInt(w.Countdown),
		UpdatedAt:        d.norm.Normalize(w.UpdatedAt),
		Players:          make([]models.LobbyPlayer, 0, len(w.Players)),
		Reactions:        make([]models.ReactionEvent, 0, len(w.Reactions)),
	}
	seen := make(map[string]int, len(w.Players))
	for _, p := range w.Players {
		out.Players = upsert(out.Players, seen, p.ID, models.LobbyPlayer{
			ID:           p.ID,
			DisplayName:  p.Name,
			AvatarURL:    p.Avatar,
			Ready:        p.Ready,
			LastActiveAt: d.norm.Normalize(p.LastActive),
		})
	}
	seen = make(map[string]int, len(w.Reactions))
	for _, r := range w.Reactions {
		out.Reactions = upsert(out.Reactions, seen, r.ID, d.reaction(r))
	}
	return out
}

// upsert keeps at most one entry per id in list: a repeated id replaces the
// earlier entry in place, so the last one wins.
func upsert[T any](list []T, seen map[string]int, id string, v T) []T {
	if i, ok := seen[id]; ok {
		list[i] = v
		return list
	}
	seen[id] = len(list)
	return append(list, v)
}

func (d Decoder) reaction(w wireReaction) models.ReactionEvent {
	return models.ReactionEvent{
		ID:          w.ID,
		PlayerID:    w.PlayerID,
		Emoji:       w.Emoji,
		TimestampMs: d.norm.Normalize(w.Timestamp),
	}
}

func (d Decoder) guess(w wireGuess) models.GuessEvent {
	return models.GuessEvent{
		ID:          w.ID,
		PlayerID:    w.PlayerID,
		GuessText:   w.Guess,
		TimestampMs: d.norm.Normalize(w.Timestamp),
	}
}

func (d Decoder) timer(w wireTimer) models.TimerState {
	return models.TimerState{
		RemainingSeconds: toInt(w.Remaining),
		Running:          w.Running,
		UpdatedAtMs:      d.norm.Normalize(w.UpdatedAt),
	}
}

func (d Decoder) match(w wireMatch) models.MatchState {
	out := models.MatchState{
		ID:        w.ID,
		Slug:      w.Slug,
		UpdatedAt: d.norm.Normalize(w.UpdatedAt),
		Guesses:   make([]models.GuessEvent, 0, len(w.Guesses)),
		Players:   make([]models.PlayerPresence, 0, len(w.Players)),
	}
	if w.Timer != nil {
		out.Timer = d.timer(*w.Timer)
	} else {
		out.Timer = models.TimerState{UpdatedAtMs: out.UpdatedAt}
	}
	seen := make(map[string]int, len(w.Guesses))
	for _, g := range w.Guesses {
		out.Guesses = upsert(out.Guesses, seen, g.ID, d.guess(g))
	}
	seen = make(map[string]int, len(w.Players))
	for _, p := range w.Players {
		out.Players = upsert(out.Players, seen, p.ID, models.PlayerPresence{
			ID:           p.ID,
			DisplayName:  p.Name,
			AvatarURL:    p.Avatar,
			LastActiveAt: d.norm.Normalize(p.LastActive),
		})
	}
	return out
}

// toInt truncates a seconds count, clamped to [0, math.MaxInt32].
func toInt(f *float64) *int {
	if f == nil {
		return nil
	}
	var v int
	switch {
	case math.IsNaN(*f) || *f <= 0:
	case *f >= math.MaxInt32:
		v = math.MaxInt32
	default:
		v = int(*f)
	}
	return &v
}
