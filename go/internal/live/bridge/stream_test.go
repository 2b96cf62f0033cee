package bridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guesssenpai/livesync/go/internal/live/session"
	"github.com/guesssenpai/livesync/go/internal/live/transport/transporttest"
	"github.com/guesssenpai/livesync/go/internal/models"
)

func newTestSession(t *testing.T) (*session.Session, *transporttest.Dialer) {
	t.Helper()
	cfg := session.DefaultConfig()
	cfg.Slug, cfg.LobbyID, cfg.MatchID = "anime", "l1", "m1"

	dialer := transporttest.NewDialer()
	sess, err := session.New(cfg, models.PlayerIdentity{ID: "p1", DisplayName: "Mika"},
		session.WithDialer(dialer),
		session.WithLogger(zerolog.Nop()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess, dialer
}

func dialStream(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/state"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&snap))
	return snap
}

func TestStreamDeliversSnapshots(t *testing.T) {
	sess, _ := newTestSession(t)
	srv := httptest.NewServer(newTestHandler(sess))
	defer srv.Close()

	conn := dialStream(t, srv)
	first := readSnapshot(t, conn)
	assert.Equal(t, "p1", first.Identity.ID)

	_, err := sess.SendGuess("Spike")
	require.NoError(t, err)

	// the guess may arrive after intermediate snapshots
	for {
		snap := readSnapshot(t, conn)
		if snap.Match != nil && len(snap.Match.Guesses) == 1 {
			assert.Equal(t, "Spike", snap.Match.Guesses[0].GuessText)
			assert.Greater(t, snap.Version, first.Version)
			break
		}
	}
}

func TestStreamEndsWhenSessionCloses(t *testing.T) {
	sess, _ := newTestSession(t)
	srv := httptest.NewServer(newTestHandler(sess))
	defer srv.Close()

	conn := dialStream(t, srv)
	readSnapshot(t, conn)

	require.NoError(t, sess.Close())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var err error
	for err == nil {
		// a final snapshot may still be in flight
		_, _, err = conn.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestStreamRejectsForeignOrigin(t *testing.T) {
	sess, _ := newTestSession(t)
	srv := httptest.NewServer(newTestHandler(sess, WithAllowedOrigins("http://localhost:5173")))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/state"
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStreamOnClosedSession(t *testing.T) {
	sess, _ := newTestSession(t)
	require.NoError(t, sess.Close())

	rec := do(t, newTestHandler(sess), http.MethodGet, "/ws/state", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
