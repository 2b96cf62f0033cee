// Package publish fans reconciled session snapshots out over NATS so other
// processes can render the live game.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guesssenpai/livesync/go/internal/live/channel"
	"github.com/guesssenpai/livesync/go/internal/live/session"
	"github.com/guesssenpai/livesync/go/internal/models"
)

const (
	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second

	// DefaultSubjectPrefix is the first subject token of every message.
	DefaultSubjectPrefix = "livesync"
)

// Sink delivers one message. Core NATS and JetStream both satisfy it
// through CoreSink and StreamSink.
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// CoreSink publishes fire-and-forget on a plain NATS connection.
type CoreSink struct{ Conn *nats.Conn }

func (s CoreSink) Publish(_ context.Context, subject string, data []byte) error {
	return s.Conn.Publish(subject, data)
}

// StreamSink publishes into a JetStream stream and waits for the ack.
type StreamSink struct{ JS jetstream.JetStream }

func (s StreamSink) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := s.JS.Publish(ctx, subject, data)
	return err
}

// Connect opens a NATS connection that reconnects forever.
func Connect(natsURL string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("livesync"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// EnsureStream creates or updates a stream capturing every subject under
// prefix, keeping messages for maxAge.
func EnsureStream(ctx context.Context, nc *nats.Conn, name, prefix string, maxAge time.Duration) (jetstream.JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Description: "Reconciled live session snapshots",
		Subjects:    []string{token(prefix) + ".>"},
		MaxAge:      maxAge,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", name, err)
	}
	return js, nil
}

// Envelope is the JSON document published per change.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"` // "lobby" or "match"
	Slug      string          `json:"slug"`
	ID        string          `json:"id"`
	PlayerID  string          `json:"playerId"`
	Version   uint64          `json:"version"`
	Status    channel.Status  `json:"status"`
	Offline   bool            `json:"offline"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type lobbyPayload struct {
	Lobby     *models.LobbyState     `json:"lobby"`
	Reactions []models.ReactionEvent `json:"reactions"`
}

type matchPayload struct {
	Match *models.MatchState `json:"match"`
}

// NATSPublisher publishes the lobby and match halves of each snapshot to
// their own subjects, skipping halves that did not change.
type NATSPublisher struct {
	sink   Sink
	prefix string
	cfg    session.Config
	logger zerolog.Logger
	now    func() time.Time

	lastLobby  *models.LobbyState
	lastFeed   []models.ReactionEvent
	lastMatch  *models.MatchState
	lastStatus [2]channel.Status
	lastOnline [2]bool
	published  [2]bool
}

// NewNATSPublisher publishes the session described by cfg. An empty prefix
// uses DefaultSubjectPrefix.
func NewNATSPublisher(sink Sink, prefix string, cfg session.Config) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		sink:   sink,
		prefix: prefix,
		cfg:    cfg,
		logger: log.Logger,
		now:    time.Now,
	}
}

// WithLogger returns p logging to l.
func (p *NATSPublisher) WithLogger(l zerolog.Logger) *NATSPublisher {
	p.logger = l
	return p
}

// LobbySubject is livesync.<slug>.lobby.<lobbyId>.
func (p *NATSPublisher) LobbySubject() string {
	return Subject(p.prefix, p.cfg.Slug, "lobby", p.cfg.LobbyID)
}

// MatchSubject is livesync.<slug>.match.<matchId>.
func (p *NATSPublisher) MatchSubject() string {
	return Subject(p.prefix, p.cfg.Slug, "match", p.cfg.MatchID)
}

// Subject joins tokens into a NATS subject, replacing characters NATS
// reserves inside a token.
func Subject(prefix, slug, scope, id string) string {
	return strings.Join([]string{token(prefix), token(slug), scope, token(id)}, ".")
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return tokenReplacer.Replace(s)
}

// Run publishes every snapshot from updates until ctx ends or updates is
// closed. Publish failures are logged and do not stop the loop.
func (p *NATSPublisher) Run(ctx context.Context, updates <-chan session.Snapshot) error {
	p.logger.Info().
		Str("lobby_subject", p.LobbySubject()).
		Str("match_subject", p.MatchSubject()).
		Msg("snapshot publisher started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				p.logger.Info().Msg("snapshot publisher stopped")
				return nil
			}
			if err := p.Publish(ctx, snap); err != nil {
				p.logger.Warn().Err(err).Uint64("version", snap.Version).Msg("failed to publish snapshot")
			}
		}
	}
}

// Publish sends the parts of snap that changed since the previous call.
// Each half is tracked on its own: a half that failed is retried on the
// next call without resending the half that went through.
func (p *NATSPublisher) Publish(ctx context.Context, snap session.Snapshot) error {
	online := !snap.Offline
	lobbyChanged := !p.published[0] || snap.Lobby != p.lastLobby || !sameFeed(snap.Reactions, p.lastFeed) ||
		snap.LobbyStatus != p.lastStatus[0] || online != p.lastOnline[0]
	matchChanged := !p.published[1] || snap.Match != p.lastMatch ||
		snap.MatchStatus != p.lastStatus[1] || online != p.lastOnline[1]

	var errs []error
	if lobbyChanged {
		err := p.send(ctx, p.LobbySubject(), "lobby", p.cfg.LobbyID, snap.LobbyStatus, snap,
			lobbyPayload{Lobby: snap.Lobby, Reactions: snap.Reactions})
		if err != nil {
			p.published[0] = false
			errs = append(errs, err)
		} else {
			p.lastLobby, p.lastFeed = snap.Lobby, snap.Reactions
			p.lastStatus[0], p.lastOnline[0] = snap.LobbyStatus, online
			p.published[0] = true
		}
	}
	if matchChanged {
		err := p.send(ctx, p.MatchSubject(), "match", p.cfg.MatchID, snap.MatchStatus, snap,
			matchPayload{Match: snap.Match})
		if err != nil {
			p.published[1] = false
			errs = append(errs, err)
		} else {
			p.lastMatch = snap.Match
			p.lastStatus[1], p.lastOnline[1] = snap.MatchStatus, online
			p.published[1] = true
		}
	}
	return errors.Join(errs...)
}

func (p *NATSPublisher) send(ctx context.Context, subject, eventType, id string, status channel.Status, snap session.Snapshot, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	data, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Slug:      p.cfg.Slug,
		ID:        id,
		PlayerID:  snap.Identity.ID,
		Version:   snap.Version,
		Status:    status,
		Offline:   snap.Offline,
		Timestamp: p.now().UTC(),
		Payload:   raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := p.sink.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Uint64("version", snap.Version).Int("size", len(data)).Msg("published snapshot")
	return nil
}

// sameFeed compares by identity: the session never mutates a published
// slice, so a new feed always has a new backing array or length.
func sameFeed(a, b []models.ReactionEvent) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
