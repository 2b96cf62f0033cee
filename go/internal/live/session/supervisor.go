package session

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/guesssenpai/livesync/go/internal/live/channel"
)

// reconnector owns the single pending reconnect timer of a session. It is
// loop-owned like the rest of the session state; only the goroutine waiting
// on the timer runs elsewhere, and it just posts reconnectDue.
type reconnector struct {
	clock clockwork.Clock
	delay time.Duration

	gen    uint64
	timer  clockwork.Timer
	cancel chan struct{}
}

func (r *reconnector) pending() bool {
	return r.timer != nil
}

// schedule starts the timer unless one is already pending. It reports
// whether a new timer was started.
func (r *reconnector) schedule(post func(message) bool) bool {
	if r.timer != nil {
		return false
	}
	r.gen++
	gen := r.gen
	timer := r.clock.NewTimer(r.delay)
	cancel := make(chan struct{})
	r.timer = timer
	r.cancel = cancel

	go func() {
		select {
		case <-timer.Chan():
			post(reconnectDue{gen: gen})
		case <-cancel:
		}
	}()
	return true
}

// stop cancels the pending timer, if any.
func (r *reconnector) stop() {
	if r.timer == nil {
		return
	}
	stopAndDrainTimer(r.timer)
	close(r.cancel)
	r.timer = nil
	r.cancel = nil
}

// fire consumes a due notification. Notifications from a timer that was
// stopped or replaced in the meantime are rejected.
func (r *reconnector) fire(gen uint64) bool {
	if r.timer == nil || gen != r.gen {
		return false
	}
	r.timer = nil
	r.cancel = nil
	return true
}

// stopAndDrainTimer stops a timer and drains its channel so a fired value
// is never picked up later.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

// superviseReconnect schedules an automatic reconnect when the session is
// offline and nothing is already in progress: no pending timer and no
// channel still connecting. Each failed attempt therefore leads to exactly
// one new timer.
func (s *Session) superviseReconnect() {
	if !s.cfg.AutoReconnect || !s.started || s.closed {
		return
	}
	lobby, match := s.lobbyCh.Status(), s.matchCh.Status()
	if !channel.Offline(lobby, match) || lobby == channel.StatusConnecting || match == channel.StatusConnecting {
		return
	}
	if s.reconnect.schedule(s.post) {
		s.logger.Info().
			Dur("delay", s.cfg.ReconnectDelay).
			Str("lobby_status", string(lobby)).
			Str("match_status", string(match)).
			Msg("offline, reconnect scheduled")
	}
}

func (s *Session) handleReconnectDue(gen uint64) {
	if !s.reconnect.fire(gen) || s.closed {
		return
	}
	s.logger.Info().Msg("reconnecting")
	s.restart()
}

// restart re-establishes both channels from scratch.
func (s *Session) restart() {
	s.stats.Reconnects++
	s.lobbyCh.Open(s.ctx, s.cfg.LobbyURL(s.identity))
	s.matchCh.Open(s.ctx, s.cfg.MatchURL(s.identity))
	s.dirty = true
}
