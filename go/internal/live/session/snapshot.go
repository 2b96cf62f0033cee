package session

import (
	"github.com/guesssenpai/livesync/go/internal/live/channel"
	"github.com/guesssenpai/livesync/go/internal/models"
)

// Snapshot is an immutable view of a session. Consumers must not modify it;
// a new Snapshot with a higher Version is published on every change.
type Snapshot struct {
	Version  uint64                `json:"version"`
	Identity models.PlayerIdentity `json:"identity"`

	Lobby     *models.LobbyState     `json:"lobby"`
	Match     *models.MatchState     `json:"match"`
	Reactions []models.ReactionEvent `json:"reactions"`

	LobbyStatus        channel.Status `json:"lobbyStatus"`
	MatchStatus        channel.Status `json:"matchStatus"`
	Offline            bool           `json:"offline"`
	ReconnectScheduled bool           `json:"reconnectScheduled"`
	LobbyPending       int            `json:"lobbyPending"`
	MatchPending       int            `json:"matchPending"`

	// Player ids the servers acknowledged in their welcome frames.
	LobbyPlayerID string `json:"lobbyPlayerId,omitempty"`
	MatchPlayerID string `json:"matchPlayerId,omitempty"`
}

// Stats counts what the session has processed.
type Stats struct {
	FramesApplied int           `json:"framesApplied"`
	FramesDropped int           `json:"framesDropped"`
	FramesIgnored int           `json:"framesIgnored"`
	StaleEvents   int           `json:"staleEvents"`
	Reconnects    int           `json:"reconnects"`
	Lobby         channel.Stats `json:"lobby"`
	Match         channel.Stats `json:"match"`
}

func (s *Session) buildSnapshot() Snapshot {
	return Snapshot{
		Version:            s.version,
		Identity:           s.identity,
		Lobby:              s.state.lobby,
		Match:              s.state.match,
		Reactions:          s.state.reactions,
		LobbyStatus:        s.lobbyCh.Status(),
		MatchStatus:        s.matchCh.Status(),
		Offline:            channel.Offline(s.lobbyCh.Status(), s.matchCh.Status()),
		ReconnectScheduled: s.reconnect.pending(),
		LobbyPending:       s.lobbyCh.PendingCount(),
		MatchPending:       s.matchCh.PendingCount(),
		LobbyPlayerID:      s.state.lobbyWelcome,
		MatchPlayerID:      s.state.matchWelcome,
	}
}

// publish stores a new snapshot and fans it out when anything changed since
// the last one.
func (s *Session) publish() {
	snap := s.buildSnapshot()
	prev := s.current.Load()
	stats := s.stats
	stats.Lobby = s.lobbyCh.Stats()
	stats.Match = s.matchCh.Stats()
	s.currentStats.Store(&stats)

	if prev != nil && !s.dirty && sameView(*prev, snap) {
		return
	}
	s.dirty = false
	s.version++
	snap.Version = s.version
	s.current.Store(&snap)

	for _, sub := range s.subs {
		sub.deliver(snap, s.logger)
	}
}

// sameView compares the parts of a snapshot that can change without a state
// mutation: statuses, queue lengths and the reconnect flag.
func sameView(a, b Snapshot) bool {
	return a.LobbyStatus == b.LobbyStatus &&
		a.MatchStatus == b.MatchStatus &&
		a.ReconnectScheduled == b.ReconnectScheduled &&
		a.LobbyPending == b.LobbyPending &&
		a.MatchPending == b.MatchPending
}
