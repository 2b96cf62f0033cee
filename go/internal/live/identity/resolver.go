// Package identity resolves the stable player id used on live connections.
package identity

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/guesssenpai/livesync/go/internal/models"
)

// Profile is what the caller knows about the player. ID is set only for an
// authenticated player and then wins over anything stored.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Resolver derives the PlayerIdentity for a session.
type Resolver struct {
	store  Store
	logger zerolog.Logger
	newID  func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger overrides the global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithIDGenerator replaces NewID, mostly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(r *Resolver) { r.newID = gen }
}

// NewResolver returns a Resolver persisting into store. A nil store behaves
// like storage that is unavailable: every resolve yields a fresh id.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:  store,
		logger: log.Logger,
		newID:  NewID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve never fails. Storage errors are logged and degrade to an id that
// only lives as long as this session.
func (r *Resolver) Resolve(p Profile) models.PlayerIdentity {
	identity := models.PlayerIdentity{
		ID:          strings.TrimSpace(p.ID),
		DisplayName: p.DisplayName,
		AvatarURL:   p.AvatarURL,
	}
	if identity.ID != "" {
		return identity
	}

	if r.store == nil {
		identity.ID = r.newID()
		r.logger.Warn().Str("player_id", identity.ID).Msg("no identity store, using ephemeral player id")
		return identity
	}

	stored, err := r.store.Load()
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to load persisted player id")
	}
	if stored = strings.TrimSpace(stored); stored != "" {
		identity.ID = stored
		return identity
	}

	identity.ID = r.newID()
	if err := r.store.Save(identity.ID); err != nil {
		r.logger.Warn().Err(err).Str("player_id", identity.ID).Msg("failed to persist player id, id is ephemeral")
		return identity
	}
	r.logger.Debug().Str("player_id", identity.ID).Msg("persisted new player id")
	return identity
}

// NewID returns a random UUID, or a timestamp+random composite when the
// system random source is unavailable.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fallbackID(time.Now())
}

func fallbackID(now time.Time) string {
	return fmt.Sprintf("%s-%s",
		strconv.FormatInt(now.UnixMilli(), 36),
		strconv.FormatUint(rand.Uint64(), 36))
}
