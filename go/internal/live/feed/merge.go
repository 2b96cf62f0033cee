// Package feed merges incoming live events into local event lists by id.
//
// Every function here is pure: the input slice is never modified, so a list
// that has already been handed to an observer stays valid.
package feed

import (
	"slices"

	"github.com/guesssenpai/livesync/go/internal/models"
)

// Merge replaces the element of list that shares incoming's id with
// combine(existing, incoming), or appends incoming when the id is new.
// Replaying the same incoming element is a no-op after the first merge as
// long as combine is idempotent.
func Merge[T any](list []T, incoming T, id func(T) string, combine func(existing, incoming T) T) []T {
	key := id(incoming)
	idx := slices.IndexFunc(list, func(e T) bool { return id(e) == key })
	if idx < 0 {
		out := make([]T, len(list), len(list)+1)
		copy(out, list)
		return append(out, incoming)
	}
	out := slices.Clone(list)
	out[idx] = combine(list[idx], incoming)
	return out
}

// Tail keeps the newest limit elements. A non-positive limit disables the cap.
func Tail[T any](list []T, limit int) []T {
	if limit <= 0 || len(list) <= limit {
		return list
	}
	return slices.Clone(list[len(list)-limit:])
}

// MergeGuess confirms a locally optimistic guess or appends a new one.
// Whatever the source of incoming, the stored entry is marked confirmed.
func MergeGuess(list []models.GuessEvent, incoming models.GuessEvent) []models.GuessEvent {
	incoming.Optimistic = false
	return Merge(list, incoming, guessID, overlayGuess)
}

// MergeReaction merges a reaction by id and keeps the newest limit entries.
func MergeReaction(list []models.ReactionEvent, incoming models.ReactionEvent, limit int) []models.ReactionEvent {
	return Tail(Merge(list, incoming, reactionID, overlayReaction), limit)
}

func guessID(g models.GuessEvent) string       { return g.ID }
func reactionID(r models.ReactionEvent) string { return r.ID }

// overlayGuess lets server fields win, keeping local values only for fields
// the server left empty.
func overlayGuess(existing, incoming models.GuessEvent) models.GuessEvent {
	out := existing
	if incoming.PlayerID != "" {
		out.PlayerID = incoming.PlayerID
	}
	if incoming.GuessText != "" {
		out.GuessText = incoming.GuessText
	}
	if incoming.TimestampMs != 0 {
		out.TimestampMs = incoming.TimestampMs
	}
	out.Optimistic = false
	return out
}

func overlayReaction(existing, incoming models.ReactionEvent) models.ReactionEvent {
	out := existing
	if incoming.PlayerID != "" {
		out.PlayerID = incoming.PlayerID
	}
	if incoming.Emoji != "" {
		out.Emoji = incoming.Emoji
	}
	if incoming.TimestampMs != 0 {
		out.TimestampMs = incoming.TimestampMs
	}
	return out
}
