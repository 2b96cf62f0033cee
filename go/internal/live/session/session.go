// Package session reconciles the lobby and match channels of one live game
// into a single immutable view.
//
// All state is owned by one goroutine, the session loop. Transport and timer
// goroutines only post events into its inbox, and every public method is a
// request answered by the loop, so an optimistic change is already part of
// Snapshot when the method returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guesssenpai/livesync/go/internal/live/channel"
	"github.com/guesssenpai/livesync/go/internal/live/identity"
	"github.com/guesssenpai/livesync/go/internal/live/protocol"
	"github.com/guesssenpai/livesync/go/internal/live/timestamps"
	"github.com/guesssenpai/livesync/go/internal/live/transport"
	"github.com/guesssenpai/livesync/go/internal/models"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrEmptyGuess    = errors.New("guess is empty")
	ErrEmptyReaction = errors.New("reaction emoji is empty")
)

const inboxSize = 256

// message is anything the session loop processes.
type message interface{ isMessage() }

type channelEvent struct{ channel.Event }

type call struct {
	fn    func() error
	reply chan error
}

type reconnectDue struct{ gen uint64 }

func (channelEvent) isMessage() {}
func (call) isMessage()         {}
func (reconnectDue) isMessage() {}

// Session is one player's live connection to a lobby and its match.
type Session struct {
	cfg      Config
	identity models.PlayerIdentity
	clock    clockwork.Clock
	dialer   transport.Dialer
	logger   zerolog.Logger
	newID    func() string
	norm     timestamps.Normalizer
	decoder  protocol.Decoder

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan message
	done   chan struct{}

	current      atomic.Pointer[Snapshot]
	currentStats atomic.Pointer[Stats]

	// loop-owned
	lobbyCh   *channel.Channel
	matchCh   *channel.Channel
	state     state
	reconnect reconnector
	stats     Stats
	subs      []*subscriber
	nextSubID int
	version   uint64
	dirty     bool
	started   bool
	closed    bool
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the websocket dialer built from Config.Transport.
func WithDialer(d transport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithClock replaces the real clock, for reconnect timers and timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger overrides the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithIDGenerator replaces the generator of reaction and guess event ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) { s.newID = gen }
}

// New creates a session for player and starts its loop. Channels stay idle
// until Start; actions taken before that are queued. Close must be called to
// release the session.
func New(cfg Config, player models.PlayerIdentity, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if player.ID == "" {
		return nil, errors.New("player id is required")
	}
	if cfg.ReactionLimit <= 0 {
		cfg.ReactionLimit = DefaultConfig().ReactionLimit
	}
	if cfg.GuessLimit <= 0 {
		cfg.GuessLimit = DefaultConfig().GuessLimit
	}

	s := &Session{
		cfg:      cfg,
		identity: player,
		clock:    clockwork.NewRealClock(),
		logger:   log.Logger,
		newID:    identity.NewID,
		inbox:    make(chan message, inboxSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = transport.NewWebsocketDialer(cfg.Transport).WithLogger(s.logger)
	}

	s.logger = s.logger.With().
		Str("slug", cfg.Slug).
		Str("lobby_id", cfg.LobbyID).
		Str("match_id", cfg.MatchID).
		Str("player_id", player.ID).
		Logger()
	s.norm = timestamps.NewNormalizer(s.clock)
	s.decoder = protocol.NewDecoder(s.norm)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.reconnect = reconnector{clock: s.clock, delay: cfg.ReconnectDelay}

	postEvent := func(ev channel.Event) { s.post(channelEvent{ev}) }
	s.lobbyCh = channel.New(channel.Lobby, s.dialer, postEvent, s.logger)
	s.matchCh = channel.New(channel.Match, s.dialer, postEvent, s.logger)

	s.publish()
	go s.run()
	return s, nil
}

// Start opens both channels. Calling it again is a no-op.
func (s *Session) Start() error {
	return s.do(func() error {
		if s.started {
			return nil
		}
		s.started = true
		s.logger.Info().Msg("starting live session")
		s.lobbyCh.Open(s.ctx, s.cfg.LobbyURL(s.identity))
		s.matchCh.Open(s.ctx, s.cfg.MatchURL(s.identity))
		return nil
	})
}

// Close tears the session down: both channels are closed, a pending
// reconnect is cancelled and subscriptions end. It is safe to call more
// than once.
func (s *Session) Close() error {
	err := s.do(func() error {
		s.closed = true
		s.reconnect.stop()
		s.lobbyCh.Close()
		s.matchCh.Close()
		s.cancel()
		s.dirty = true
		s.logger.Info().Msg("live session closed")
		return nil
	})
	<-s.done
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	return err
}

// Done is closed once the session loop has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Identity returns the player this session connects as.
func (s *Session) Identity() models.PlayerIdentity {
	return s.identity
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Snapshot returns the latest published view. It stays valid after Close.
func (s *Session) Snapshot() Snapshot {
	return *s.current.Load()
}

// Stats returns processing counters as of the latest published view.
func (s *Session) Stats() Stats {
	return *s.currentStats.Load()
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(fn func() error) error {
	c := call{fn: fn, reply: make(chan error, 1)}
	if !s.post(c) {
		return ErrSessionClosed
	}
	select {
	case err := <-c.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// post hands m to the loop. It reports false once the loop has exited.
func (s *Session) post(m message) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		if ev, ok := m.(channelEvent); ok && ev.Type == channel.EventOpened && ev.Conn != nil {
			ev.Conn.Close()
		}
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	for {
		var answered *call
		var result error

		m := <-s.inbox
		switch m := m.(type) {
		case channelEvent:
			s.handleChannelEvent(m.Event)
		case call:
			result = m.fn()
			answered = &m
		case reconnectDue:
			s.handleReconnectDue(m.gen)
		}
		s.superviseReconnect()
		s.publish()

		// reply after publishing so the caller already sees its change
		if answered != nil {
			answered.reply <- result
		}
		if s.closed {
			for _, sub := range s.subs {
				close(sub.ch)
			}
			s.subs = nil
			return
		}
	}
}

func (s *Session) channelFor(kind channel.Kind) *channel.Channel {
	if kind == channel.Lobby {
		return s.lobbyCh
	}
	return s.matchCh
}

func (s *Session) handleChannelEvent(ev channel.Event) {
	if !s.channelFor(ev.Kind).Apply(ev) {
		s.stats.StaleEvents++
		return
	}
	if ev.Type == channel.EventMessage {
		s.handleFrame(ev.Kind, ev.Data)
	}
}

// handleFrame decodes one inbound frame and folds it into state. A frame
// that fails to decode is logged and dropped without touching state.
func (s *Session) handleFrame(kind channel.Kind, data []byte) {
	msg, err := s.decoder.Decode(data)
	if errors.Is(err, protocol.ErrUnknownMessage) {
		s.stats.FramesIgnored++
		s.logger.Debug().Str("channel", string(kind)).Err(err).Msg("ignoring message")
		return
	}
	if err != nil {
		s.stats.FramesDropped++
		s.logger.Warn().
			Str("channel", string(kind)).
			Str("message_type", protocol.PeekType(data)).
			Err(err).
			Msg("dropping malformed message")
		return
	}

	switch m := msg.(type) {
	case protocol.Welcome:
		s.welcome(kind, m)
	case protocol.LobbySnapshot:
		if !s.expect(kind, channel.Lobby, data) {
			return
		}
		s.state.replaceLobby(m.Lobby, s.cfg.ReactionLimit)
	case protocol.ReactionDelta:
		if !s.expect(kind, channel.Lobby, data) {
			return
		}
		s.state.mergeReaction(m.Event, s.cfg.ReactionLimit)
	case protocol.MatchSnapshot:
		if !s.expect(kind, channel.Match, data) {
			return
		}
		s.state.replaceMatch(m.State, s.cfg.GuessLimit)
	case protocol.GuessDelta:
		if !s.expect(kind, channel.Match, data) {
			return
		}
		s.state.mergeGuess(m.Event, s.cfg.GuessLimit, s.emptyMatch)
	case protocol.TimerDelta:
		if !s.expect(kind, channel.Match, data) {
			return
		}
		s.state.replaceTimer(m.Timer, s.emptyMatch)
	}
	s.stats.FramesApplied++
	s.dirty = true
}

// expect checks that a frame arrived on the channel that owns its type.
func (s *Session) expect(got, want channel.Kind, data []byte) bool {
	if got == want {
		return true
	}
	s.stats.FramesIgnored++
	s.logger.Debug().
		Str("channel", string(got)).
		Str("message_type", protocol.PeekType(data)).
		Msg("ignoring message on the wrong channel")
	return false
}

func (s *Session) welcome(kind channel.Kind, w protocol.Welcome) {
	if kind == channel.Lobby {
		s.state.lobbyWelcome = w.PlayerID
	} else {
		s.state.matchWelcome = w.PlayerID
	}
	if w.PlayerID != "" && w.PlayerID != s.identity.ID {
		s.logger.Warn().
			Str("channel", string(kind)).
			Str("server_player_id", w.PlayerID).
			Msg("server acknowledged a different player id")
	}
}

// emptyMatch is the placeholder used when a match delta or a local guess
// arrives before any match snapshot.
func (s *Session) emptyMatch() models.MatchState {
	now := s.norm.Now()
	return models.MatchState{
		ID:        s.cfg.MatchID,
		Slug:      s.cfg.Slug,
		UpdatedAt: now,
		Guesses:   []models.GuessEvent{},
		Timer:     models.TimerState{UpdatedAtMs: now},
		Players:   []models.PlayerPresence{},
	}
}

type subscriber struct {
	id   int
	ch   chan Snapshot
	once sync.Once
}

// deliver never blocks the loop. A subscriber that falls behind only ever
// misses intermediate snapshots, never the latest one.
func (sub *subscriber) deliver(snap Snapshot, logger zerolog.Logger) {
	select {
	case sub.ch <- snap:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- snap:
		logger.Debug().Int("subscriber", sub.id).Uint64("version", snap.Version).Msg("slow subscriber, skipped a snapshot")
	default:
		logger.Warn().Int("subscriber", sub.id).Msg("subscriber channel full, dropping snapshot")
	}
}

// Subscribe returns a channel receiving every new snapshot, starting with
// the current one, and a function ending the subscription. The channel is
// closed on unsubscribe or when the session closes.
func (s *Session) Subscribe(buffer int) (<-chan Snapshot, func(), error) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan Snapshot, buffer)}
	err := s.do(func() error {
		s.nextSubID++
		sub.id = s.nextSubID
		s.subs = append(s.subs, sub)
		sub.ch <- *s.current.Load()
		return nil
	})
	if err != nil {
		return nil, func() {}, err
	}

	unsubscribe := func() {
		sub.once.Do(func() {
			s.do(func() error {
				for i, other := range s.subs {
					if other == sub {
						s.subs = append(s.subs[:i], s.subs[i+1:]...)
						close(sub.ch)
						break
					}
				}
				return nil
			})
		})
	}
	return sub.ch, unsubscribe, nil
}
