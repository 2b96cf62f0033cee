package session

import (
	"strings"

	"github.com/guesssenpai/livesync/go/internal/live/channel"
	"github.com/guesssenpai/livesync/go/internal/live/protocol"
	"github.com/guesssenpai/livesync/go/internal/models"
)

// ToggleReady flips the local player's readiness as currently known from
// the lobby (unknown counts as not ready) and returns the new value.
func (s *Session) ToggleReady() (bool, error) {
	var next bool
	err := s.do(func() error {
		next = !s.state.ready(s.identity.ID)
		return s.setReady(next)
	})
	return next, err
}

// SetReady sends ready and applies it to the local lobby right away.
func (s *Session) SetReady(ready bool) error {
	return s.do(func() error {
		return s.setReady(ready)
	})
}

func (s *Session) setReady(ready bool) error {
	if err := s.lobbyCh.Send(protocol.Ready(ready)); err != nil {
		return err
	}
	if s.state.setReady(s.identity.ID, ready) {
		s.dirty = true
	}
	return nil
}

// SendReaction posts emoji to the lobby and appends it to the local feed.
// The server echo carries the same id and merges into this entry.
func (s *Session) SendReaction(emoji string) (models.ReactionEvent, error) {
	if strings.TrimSpace(emoji) == "" {
		return models.ReactionEvent{}, ErrEmptyReaction
	}
	var ev models.ReactionEvent
	err := s.do(func() error {
		ev = models.ReactionEvent{
			ID:          s.newID(),
			PlayerID:    s.identity.ID,
			Emoji:       emoji,
			TimestampMs: s.norm.Now(),
		}
		if err := s.lobbyCh.Send(protocol.Reaction(ev.Emoji, ev.ID)); err != nil {
			return err
		}
		s.state.mergeReaction(ev, s.cfg.ReactionLimit)
		s.dirty = true
		return nil
	})
	return ev, err
}

// SendGuess submits text and shows it immediately as an optimistic guess.
func (s *Session) SendGuess(text string) (models.GuessEvent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.GuessEvent{}, ErrEmptyGuess
	}
	var ev models.GuessEvent
	err := s.do(func() error {
		ev = models.GuessEvent{
			ID:          s.newID(),
			PlayerID:    s.identity.ID,
			GuessText:   text,
			TimestampMs: s.norm.Now(),
			Optimistic:  true,
		}
		if err := s.matchCh.Send(protocol.Guess(ev.GuessText, ev.ID)); err != nil {
			return err
		}
		s.state.appendOptimisticGuess(ev, s.cfg.GuessLimit, s.emptyMatch)
		s.dirty = true
		return nil
	})
	return ev, err
}

// SetTimer asks the server to set the match timer. Local state only changes
// when the server's timer update arrives.
func (s *Session) SetTimer(remaining *int, running bool) error {
	return s.do(func() error {
		return s.matchCh.Send(protocol.Timer(remaining, running))
	})
}

// SetCountdown asks the server to set the lobby countdown, nil clears it.
// Like SetTimer it has no local effect.
func (s *Session) SetCountdown(seconds *int) error {
	return s.do(func() error {
		return s.lobbyCh.Send(protocol.SetCountdown(seconds))
	})
}

// RequestSync asks both servers for fresh snapshots. A channel that is not
// open is skipped: it syncs on its own as soon as it opens.
func (s *Session) RequestSync() error {
	return s.do(func() error {
		for _, ch := range []*channel.Channel{s.lobbyCh, s.matchCh} {
			if ch.Status() != channel.StatusOpen {
				continue
			}
			if err := ch.Send(protocol.Sync()); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reconnect cancels any scheduled reconnect and restarts both channels now.
func (s *Session) Reconnect() error {
	return s.do(func() error {
		s.reconnect.stop()
		s.started = true
		s.logger.Info().Msg("manual reconnect")
		s.restart()
		return nil
	})
}
