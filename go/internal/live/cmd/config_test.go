package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "livesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestFlagPrecedence(t *testing.T) {
	t.Setenv("LIVESYNC_SLUG", "anime")
	t.Setenv("LIVESYNC_RECONNECT_DELAY", "5s")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.Flags().Parse([]string{"--lobby", "l1"}))

	path := writeConfig(t, `
slug: movies
lobby: l9
match: m1
guess_limit: 50
allowed-origins:
  - http://localhost:5173
  - http://127.0.0.1:5173
`)
	require.NoError(t, applyConfigFile(cmd.Flags(), path))

	assert.Equal(t, "anime", cfg.slug, "env beats the file")
	assert.Equal(t, "l1", cfg.lobbyID, "flag beats the file")
	assert.Equal(t, "m1", cfg.matchID)
	assert.Equal(t, 50, cfg.guessLimit)
	assert.Equal(t, 5*time.Second, cfg.reconnectDelay)
	assert.Equal(t, []string{"http://localhost:5173", "http://127.0.0.1:5173"}, cfg.origins)
	assert.Equal(t, "ws://localhost:8000/live", cfg.baseURL, "defaults stay")
	require.NoError(t, cfg.validate())
}

func TestInvalidEnvValueIsReported(t *testing.T) {
	t.Setenv("LIVESYNC_RECONNECT_DELAY", "soon")
	t.Setenv("LIVESYNC_GUESS_LIMIT", "lots")

	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.Flags().Parse([]string{"--slug", "anime", "--lobby", "l1", "--match", "m1"}))

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid environment value for reconnect-delay")
	assert.ErrorContains(t, err, "invalid environment value for guess-limit")
}

func TestInvalidEnvValueOverriddenByFlag(t *testing.T) {
	t.Setenv("LIVESYNC_RECONNECT_DELAY", "soon")

	cfg := &Config{}
	cmd := newCmd(cfg)
	// no slug, so RunE stops at validation instead of running
	require.NoError(t, cmd.Flags().Parse([]string{"--reconnect-delay", "1s"}))

	err := cmd.RunE(cmd, nil)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "reconnect-delay")
	assert.Equal(t, time.Second, cfg.reconnectDelay)
}

func TestConfigFileErrors(t *testing.T) {
	cmd := newCmd(&Config{})

	err := applyConfigFile(cmd.Flags(), writeConfig(t, "colour: blue\n"))
	assert.ErrorContains(t, err, `unknown config key "colour"`)

	err = applyConfigFile(cmd.Flags(), writeConfig(t, "guess-limit: lots\n"))
	assert.ErrorContains(t, err, "invalid config value for guess-limit")

	err = applyConfigFile(cmd.Flags(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	cmd := newCmd(cfg)
	require.NoError(t, cmd.Flags().Parse([]string{"-s", "anime", "-l", "l1", "-m", "m1"}))
	require.NoError(t, cfg.validate())

	cfg.natsStream = "LIVESYNC"
	assert.ErrorContains(t, cfg.validate(), "--nats-stream requires --nats-url")

	cfg.natsStream = ""
	cfg.matchID = ""
	assert.ErrorContains(t, cfg.validate(), "match id is required")
}

func TestInviteURL(t *testing.T) {
	cfg := &Config{baseURL: "wss://live.example.com/live", slug: "anime", lobbyID: "l1"}
	invite, err := cfg.inviteURL()
	require.NoError(t, err)
	assert.Equal(t, "https://live.example.com/live/lobby/anime/l1", invite)

	cfg.baseURL = "ws://localhost:8000/live"
	invite, err = cfg.inviteURL()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/live/lobby/anime/l1", invite)

	cfg.invite = "https://guess.example.com/join/abc"
	invite, err = cfg.inviteURL()
	require.NoError(t, err)
	assert.Equal(t, "https://guess.example.com/join/abc", invite)
}

func TestIdentityStore(t *testing.T) {
	cfg := &Config{ephemeral: true}
	store, err := cfg.identityStore()
	require.NoError(t, err)
	assert.Nil(t, store)

	path := filepath.Join(t.TempDir(), "profile.yaml")
	cfg = &Config{profilePath: path}
	store, err = cfg.identityStore()
	require.NoError(t, err)
	require.NoError(t, store.Save("p1"))
	id, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}
