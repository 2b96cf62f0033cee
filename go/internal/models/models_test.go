package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestTimerRemaining(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)

	cases := []struct {
		name  string
		timer TimerState
		want  *int
	}{
		{
			name:  "unset timer",
			timer: TimerState{},
			want:  nil,
		},
		{
			name:  "paused timer ignores elapsed time",
			timer: TimerState{RemainingSeconds: intPtr(30), Running: false, UpdatedAtMs: 1_700_000_000_000},
			want:  intPtr(30),
		},
		{
			name:  "running timer counts down",
			timer: TimerState{RemainingSeconds: intPtr(30), Running: true, UpdatedAtMs: 1_700_000_000_000},
			want:  intPtr(20),
		},
		{
			name:  "running timer floors partial seconds",
			timer: TimerState{RemainingSeconds: intPtr(30), Running: true, UpdatedAtMs: 1_700_000_000_500},
			want:  intPtr(21),
		},
		{
			name:  "running timer never goes negative",
			timer: TimerState{RemainingSeconds: intPtr(5), Running: true, UpdatedAtMs: 1_700_000_000_000},
			want:  intPtr(0),
		},
		{
			name:  "server clock ahead does not add time",
			timer: TimerState{RemainingSeconds: intPtr(5), Running: true, UpdatedAtMs: 1_700_000_020_000},
			want:  intPtr(5),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.timer.Remaining(now)
			if tc.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tc.want, *got)
		})
	}
}

func TestLobbyHelpers(t *testing.T) {
	var empty *LobbyState
	assert.False(t, empty.AllReady())
	assert.Equal(t, 0, empty.ReadyCount())
	_, ok := empty.Player("p1")
	assert.False(t, ok)

	lobby := &LobbyState{Players: []LobbyPlayer{
		{ID: "p1", Ready: true},
		{ID: "p2", Ready: false},
	}}
	assert.Equal(t, 1, lobby.ReadyCount())
	assert.False(t, lobby.AllReady())

	p, ok := lobby.Player("p2")
	require.True(t, ok)
	assert.False(t, p.Ready)

	lobby.Players[1].Ready = true
	assert.True(t, lobby.AllReady())
}

func TestGuessConfirmed(t *testing.T) {
	assert.False(t, GuessEvent{Optimistic: true}.Confirmed())
	assert.True(t, GuessEvent{}.Confirmed())
}
