package session

import (
	"slices"

	"github.com/guesssenpai/livesync/go/internal/live/feed"
	"github.com/guesssenpai/livesync/go/internal/models"
)

// state is the reconciled view. It is only touched by the session loop and
// is copy-on-write: a LobbyState, MatchState or slice that has been
// published is never modified again, every change builds a new value.
type state struct {
	lobby     *models.LobbyState
	match     *models.MatchState
	reactions []models.ReactionEvent

	lobbyWelcome string
	matchWelcome string
}

// replaceLobby installs a lobby snapshot. The reaction feed is replaced by
// the snapshot's reactions, which supersede any optimistic entries.
func (st *state) replaceLobby(l models.LobbyState, reactionLimit int) {
	st.reactions = feed.Tail(l.Reactions, reactionLimit)
	l.Reactions = st.reactions
	st.lobby = &l
}

func (st *state) mergeReaction(ev models.ReactionEvent, limit int) {
	st.reactions = feed.MergeReaction(st.reactions, ev, limit)
	if st.lobby != nil {
		l := *st.lobby
		l.Reactions = st.reactions
		st.lobby = &l
	}
}

func (st *state) replaceMatch(m models.MatchState, guessLimit int) {
	m.Guesses = feed.Tail(m.Guesses, guessLimit)
	st.match = &m
}

// mergeGuess confirms or appends a server guess.
func (st *state) mergeGuess(ev models.GuessEvent, guessLimit int, empty func() models.MatchState) {
	m := st.matchOr(empty)
	m.Guesses = feed.Tail(feed.MergeGuess(m.Guesses, ev), guessLimit)
	st.match = &m
}

// appendOptimisticGuess records a guess that only exists locally so far.
func (st *state) appendOptimisticGuess(ev models.GuessEvent, guessLimit int, empty func() models.MatchState) {
	ev.Optimistic = true
	m := st.matchOr(empty)
	guesses := make([]models.GuessEvent, len(m.Guesses), len(m.Guesses)+1)
	copy(guesses, m.Guesses)
	m.Guesses = feed.Tail(append(guesses, ev), guessLimit)
	st.match = &m
}

// replaceTimer swaps only the timer, keeping guesses and players.
func (st *state) replaceTimer(t models.TimerState, empty func() models.MatchState) {
	m := st.matchOr(empty)
	m.Timer = t
	st.match = &m
}

// matchOr returns a copy of the current match, or a synthesized empty one
// so deltas that arrive before any snapshot are still visible.
func (st *state) matchOr(empty func() models.MatchState) models.MatchState {
	if st.match != nil {
		return *st.match
	}
	return empty()
}

// ready returns the local player's readiness, false when unknown.
func (st *state) ready(playerID string) bool {
	p, ok := st.lobby.Player(playerID)
	return ok && p.Ready
}

// setReady flips the player's flag in place of a round trip. It reports
// false when the player is not in the lobby yet, leaving state untouched.
func (st *state) setReady(playerID string, ready bool) bool {
	if st.lobby == nil {
		return false
	}
	idx := slices.IndexFunc(st.lobby.Players, func(p models.LobbyPlayer) bool { return p.ID == playerID })
	if idx < 0 {
		return false
	}
	l := *st.lobby
	l.Players = slices.Clone(l.Players)
	l.Players[idx].Ready = ready
	st.lobby = &l
	return true
}
