package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guesssenpai/livesync/go/internal/live/protocol"
	"github.com/guesssenpai/livesync/go/internal/live/transport"
	"github.com/guesssenpai/livesync/go/internal/live/transport/transporttest"
)

const lobbyURL = "ws://live.test/lobby/anime/l1?playerId=p1"

type harness struct {
	t      *testing.T
	dialer *transporttest.Dialer
	events chan Event
	ch     *Channel
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		dialer: transporttest.NewDialer(),
		events: make(chan Event, 64),
	}
	h.ch = New(Lobby, h.dialer, func(ev Event) { h.events <- ev }, zerolog.Nop())
	return h
}

// next applies the next posted event and reports whether it was current.
func (h *harness) next() (Event, bool) {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev, h.ch.Apply(ev)
	case <-time.After(2 * time.Second):
		h.t.Fatal("no channel event posted")
		return Event{}, false
	}
}

func (h *harness) open() *transporttest.Conn {
	h.t.Helper()
	h.ch.Open(context.Background(), lobbyURL)
	ev, ok := h.next()
	require.True(h.t, ok)
	require.Equal(h.t, EventOpened, ev.Type)
	return h.dialer.Latest("/lobby/")
}

func TestOffline(t *testing.T) {
	tests := []struct {
		lobby, match Status
		want         bool
	}{
		{StatusOpen, StatusOpen, false},
		{StatusOpen, StatusClosed, true},
		{StatusError, StatusOpen, true},
		{StatusConnecting, StatusIdle, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Offline(tt.lobby, tt.match), "%s/%s", tt.lobby, tt.match)
	}
}

func TestQueueFlushOrderThenSync(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StatusIdle, h.ch.Status())

	require.NoError(t, h.ch.Send(protocol.Guess("A", "e1")))
	require.NoError(t, h.ch.Send(protocol.Reaction("B", "e2")))
	require.NoError(t, h.ch.Send(protocol.Ready(true)))
	assert.Equal(t, 3, h.ch.PendingCount())

	conn := h.open()
	assert.Equal(t, StatusOpen, h.ch.Status())
	assert.True(t, conn.Started())
	assert.Zero(t, h.ch.PendingCount())

	assert.Equal(t, []string{"guess", "reaction", "ready", "sync"}, conn.SentTypes())
	sent := conn.Sent()
	assert.JSONEq(t, `{"type":"guess","guess":"A","eventId":"e1"}`, string(sent[0]))
	assert.JSONEq(t, `{"type":"reaction","emoji":"B","eventId":"e2"}`, string(sent[1]))

	stats := h.ch.Stats()
	assert.Equal(t, 3, stats.Queued)
	assert.Equal(t, 3, stats.Flushed)
	assert.Equal(t, 4, stats.Sent)
}

func TestSendWhileOpenDispatchesImmediately(t *testing.T) {
	h := newHarness(t)
	conn := h.open()

	require.NoError(t, h.ch.Send(protocol.Ready(false)))
	assert.Equal(t, []string{"sync", "ready"}, conn.SentTypes())
	assert.Zero(t, h.ch.PendingCount())
}

func TestCloseAndErrorRetainQueue(t *testing.T) {
	h := newHarness(t)
	conn := h.open()

	conn.Drop(nil)
	_, ok := h.next()
	require.True(t, ok)
	assert.Equal(t, StatusClosed, h.ch.Status())

	require.NoError(t, h.ch.Send(protocol.Guess("late", "e9")))
	assert.Equal(t, 1, h.ch.PendingCount())

	second := h.open()
	assert.Equal(t, []string{"guess", "sync"}, second.SentTypes())

	second.Drop(errors.New("connection reset"))
	_, ok = h.next()
	require.True(t, ok)
	assert.Equal(t, StatusError, h.ch.Status())
}

func TestDialFailure(t *testing.T) {
	h := newHarness(t)
	h.dialer.FailWith(errors.New("connection refused"))

	h.ch.Open(context.Background(), lobbyURL)
	assert.Equal(t, StatusConnecting, h.ch.Status())

	ev, ok := h.next()
	require.True(t, ok)
	assert.Equal(t, EventDialFailed, ev.Type)
	assert.Equal(t, StatusError, h.ch.Status())
	assert.Equal(t, 1, h.ch.Stats().Failures)
}

func TestReopenSupersedesPendingDial(t *testing.T) {
	h := newHarness(t)

	h.ch.Open(context.Background(), lobbyURL)
	first, ok := h.next()
	require.True(t, ok)
	require.Equal(t, EventOpened, first.Type)
	firstConn := h.dialer.Latest("/lobby/")

	// a late Opened from a superseded dial must not become the live conn
	h.ch.Open(context.Background(), lobbyURL)
	assert.True(t, firstConn.Closed())
	stale := Event{Kind: Lobby, Gen: first.Gen, Type: EventOpened, Conn: &transporttest.Conn{URL: "stale"}}
	assert.False(t, h.ch.Apply(stale))
	assert.True(t, stale.Conn.(*transporttest.Conn).Closed())

	_, ok = h.next()
	require.True(t, ok)
	assert.Equal(t, StatusOpen, h.ch.Status())
}

func TestCloseMakesOldConnectionInert(t *testing.T) {
	h := newHarness(t)
	conn := h.open()

	h.ch.Close()
	assert.Equal(t, StatusClosed, h.ch.Status())
	assert.True(t, conn.Closed())

	// traffic from the closed conn is ignored
	conn.Deliver(`{"type":"lobby_state","lobby":{}}`)
	_, ok := h.next()
	assert.False(t, ok)
	conn.Drop(errors.New("late"))
	_, ok = h.next()
	assert.False(t, ok)
	assert.Equal(t, StatusClosed, h.ch.Status())

	// and sends queue for the next open instead of reaching it
	require.NoError(t, h.ch.Send(protocol.Ready(true)))
	assert.Equal(t, []string{"sync"}, conn.SentTypes())
	assert.Equal(t, 1, h.ch.PendingCount())
}

func TestSendFailureRequeues(t *testing.T) {
	h := newHarness(t)
	conn := h.open()
	conn.FailSends(transport.ErrSendBufferFull)

	require.NoError(t, h.ch.Send(protocol.Guess("x", "e1")))
	assert.Equal(t, []protocol.Outbound{protocol.Guess("x", "e1")}, h.ch.Pending())
}

func TestQueuedMessageIsNotOvertakenWhileOpen(t *testing.T) {
	h := newHarness(t)
	conn := h.open()

	conn.FailSends(transport.ErrSendBufferFull)
	require.NoError(t, h.ch.Send(protocol.Guess("a", "1")))
	require.Equal(t, 1, h.ch.PendingCount())

	conn.FailSends(nil)
	require.NoError(t, h.ch.Send(protocol.Guess("b", "2")))

	assert.Equal(t, StatusOpen, h.ch.Status())
	assert.Zero(t, h.ch.PendingCount())
	sent := conn.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "sync", protocol.PeekType(sent[0]))
	assert.JSONEq(t, `{"type":"guess","guess":"a","eventId":"1"}`, string(sent[1]))
	assert.JSONEq(t, `{"type":"guess","guess":"b","eventId":"2"}`, string(sent[2]))
}

func TestQueuedMessagesStayQueuedWhileSendsFail(t *testing.T) {
	h := newHarness(t)
	conn := h.open()
	conn.FailSends(transport.ErrSendBufferFull)

	require.NoError(t, h.ch.Send(protocol.Guess("a", "1")))
	require.NoError(t, h.ch.Send(protocol.Guess("b", "2")))

	assert.Equal(t, []protocol.Outbound{protocol.Guess("a", "1"), protocol.Guess("b", "2")}, h.ch.Pending())
	assert.Len(t, conn.Sent(), 1, "only the sync from opening")
}

func TestFlushInterruptedKeepsTail(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ch.Send(protocol.Guess("a", "1")))
	require.NoError(t, h.ch.Send(protocol.Guess("b", "2")))

	h.ch.Open(context.Background(), lobbyURL)
	ev := <-h.events
	ev.Conn.(*transporttest.Conn).FailSends(errors.New("broken pipe"))
	require.True(t, h.ch.Apply(ev))

	assert.Equal(t, []protocol.Outbound{protocol.Guess("a", "1"), protocol.Guess("b", "2")}, h.ch.Pending())
}

func TestSendRejectsUnencodable(t *testing.T) {
	h := newHarness(t)
	err := h.ch.Send(protocol.Outbound{Type: "bad", Payload: make(chan int)})
	assert.Error(t, err)
	assert.Zero(t, h.ch.PendingCount())
}

func TestQueueRequeue(t *testing.T) {
	var q Queue
	q.Push(protocol.Sync())
	q.Requeue([]protocol.Outbound{protocol.Ready(true), protocol.Ready(false)})
	assert.Equal(t, []protocol.Outbound{protocol.Ready(true), protocol.Ready(false), protocol.Sync()}, q.Drain())
	assert.Zero(t, q.Len())
}
