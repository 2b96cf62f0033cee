package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guesssenpai/livesync/go/internal/models"
)

func TestToggleReady(t *testing.T) {
	env := newEnv(t)
	lobby, _ := env.start()

	lobby.Deliver(`{"type":"lobby_state","lobby":{"id":"l1","slug":"anime","players":[
		{"id":"p1","name":"Mika","ready":false},{"id":"p2","name":"Ren","ready":true}]}}`)
	env.waitFor(func(s Snapshot) bool { return s.Lobby != nil })

	next, err := env.sess.ToggleReady()
	require.NoError(t, err)
	assert.True(t, next)

	snap := env.sess.Snapshot()
	me, ok := snap.Lobby.Player("p1")
	require.True(t, ok)
	assert.True(t, me.Ready, "flipped without waiting for the server")
	assert.True(t, snap.Lobby.AllReady())
	assert.JSONEq(t, `{"type":"ready","ready":true}`, string(lobby.Sent()[1]))

	next, err = env.sess.ToggleReady()
	require.NoError(t, err)
	assert.False(t, next)
	assert.Equal(t, 1, env.sess.Snapshot().Lobby.ReadyCount())
}

func TestToggleReadyBeforeLobbyKnown(t *testing.T) {
	env := newEnv(t)

	next, err := env.sess.ToggleReady()
	require.NoError(t, err)
	assert.True(t, next, "unknown readiness counts as not ready")

	snap := env.sess.Snapshot()
	assert.Nil(t, snap.Lobby)
	assert.Equal(t, 1, snap.LobbyPending, "queued while offline")

	lobby, _ := env.start()
	assert.Equal(t, []string{"ready", "sync"}, lobby.SentTypes())
}

func TestStateSetReadyUnknownPlayer(t *testing.T) {
	lobby := &models.LobbyState{ID: "l1", Players: []models.LobbyPlayer{{ID: "p2"}}}
	st := state{lobby: lobby}

	assert.False(t, st.setReady("p1", true))
	assert.Same(t, lobby, st.lobby)

	assert.True(t, st.setReady("p2", true))
	assert.False(t, lobby.Players[0].Ready, "original is never modified")
	assert.True(t, st.lobby.Players[0].Ready)
}

func TestStateMergeReactionKeepsLobbyInSync(t *testing.T) {
	var st state
	st.mergeReaction(models.ReactionEvent{ID: "r1", Emoji: "x"}, 20)
	assert.Nil(t, st.lobby)
	assert.Len(t, st.reactions, 1)

	st.replaceLobby(models.LobbyState{ID: "l1"}, 20)
	assert.Empty(t, st.reactions, "snapshot supersedes local reactions")

	st.mergeReaction(models.ReactionEvent{ID: "r2", Emoji: "y"}, 20)
	assert.Equal(t, st.reactions, st.lobby.Reactions)
}
