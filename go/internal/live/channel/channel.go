// Package channel implements one logical live connection: its status, its
// outbound queue and the flush-then-sync rule on open.
//
// A Channel is owned by a single goroutine. Dial and transport goroutines
// never touch it; they report through the post callback with the channel
// generation they were started under, and the owner feeds those events back
// through Apply. Every Open and Close bumps the generation, so events from a
// previous connection are recognized and ignored.
package channel

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/guesssenpai/livesync/go/internal/live/protocol"
	"github.com/guesssenpai/livesync/go/internal/live/transport"
)

// EventType tells what happened on the transport.
type EventType int

const (
	EventOpened EventType = iota
	EventMessage
	EventClosed
	EventDialFailed
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventDialFailed:
		return "dial_failed"
	default:
		return "unknown"
	}
}

// Event is posted by transport goroutines for the owner to Apply.
type Event struct {
	Kind Kind
	Gen  uint64
	Type EventType
	Conn transport.Conn // EventOpened
	Data []byte         // EventMessage
	Err  error          // EventClosed, EventDialFailed
}

// Stats counts outbound traffic.
type Stats struct {
	Sent     int `json:"sent"`
	Queued   int `json:"queued"`
	Flushed  int `json:"flushed"`
	Dials    int `json:"dials"`
	Failures int `json:"failures"`
}

// Channel is one of the two connections of a session.
type Channel struct {
	kind   Kind
	dialer transport.Dialer
	post   func(Event)
	logger zerolog.Logger

	status     Status
	gen        uint64
	conn       transport.Conn
	cancelDial context.CancelFunc
	queue      Queue
	stats      Stats
}

// New returns an idle channel. post must not block for long; it is called
// from dial and transport goroutines.
func New(kind Kind, dialer transport.Dialer, post func(Event), logger zerolog.Logger) *Channel {
	return &Channel{
		kind:   kind,
		dialer: dialer,
		post:   post,
		logger: logger.With().Str("channel", string(kind)).Logger(),
		status: StatusIdle,
	}
}

func (c *Channel) Kind() Kind        { return c.kind }
func (c *Channel) Status() Status    { return c.status }
func (c *Channel) Gen() uint64       { return c.gen }
func (c *Channel) Stats() Stats      { return c.stats }
func (c *Channel) PendingCount() int { return c.queue.Len() }

// Pending returns the queued messages in send order.
func (c *Channel) Pending() []protocol.Outbound {
	return c.queue.Items()
}

// Open starts a fresh connection to url, dropping any current one. The
// queue survives and is flushed once the new connection is applied.
func (c *Channel) Open(ctx context.Context, url string) {
	c.teardown()
	c.gen++
	c.setStatus(StatusConnecting)
	c.stats.Dials++

	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel

	kind, gen, dialer, post := c.kind, c.gen, c.dialer, c.post
	c.logger.Debug().Str("url", url).Uint64("gen", gen).Msg("dialing")
	go func() {
		defer cancel()
		conn, err := dialer.Dial(dialCtx, url)
		if err != nil {
			post(Event{Kind: kind, Gen: gen, Type: EventDialFailed, Err: err})
			return
		}
		post(Event{Kind: kind, Gen: gen, Type: EventOpened, Conn: conn})
	}()
}

// Close drops the connection and invalidates every event still in flight
// for it. Queued messages are kept for the next Open.
func (c *Channel) Close() {
	c.teardown()
	c.gen++
	if c.status != StatusIdle {
		c.setStatus(StatusClosed)
	}
}

func (c *Channel) teardown() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Send dispatches o when open and queues it otherwise. The returned error
// only reports a message that cannot be encoded; transport failures requeue.
// While earlier messages are still queued on an open channel, o goes behind
// them and the queue is retried, so writes never overtake each other.
func (c *Channel) Send(o protocol.Outbound) error {
	if _, err := protocol.Encode(o); err != nil {
		return err
	}
	if c.status != StatusOpen || c.conn == nil {
		c.queue.Push(o)
		c.stats.Queued++
		c.logger.Debug().Str("message_type", o.Type).Int("pending", c.queue.Len()).Msg("channel not open, message queued")
		return nil
	}
	if c.queue.Len() == 0 {
		err := c.write(o)
		if err == nil {
			return nil
		}
		c.logger.Warn().Err(err).Str("message_type", o.Type).Msg("send failed, message queued")
	}
	c.queue.Push(o)
	c.stats.Queued++
	c.drain()
	return nil
}

func (c *Channel) write(o protocol.Outbound) error {
	data, err := protocol.Encode(o)
	if err != nil {
		return err
	}
	if err := c.conn.Send(data); err != nil {
		return err
	}
	c.stats.Sent++
	return nil
}

// Apply folds a transport event into the channel. It returns false for an
// event from a superseded connection, which the caller must ignore.
func (c *Channel) Apply(ev Event) bool {
	if ev.Gen != c.gen {
		if ev.Type == EventOpened && ev.Conn != nil {
			ev.Conn.Close()
		}
		c.logger.Debug().Stringer("event", ev.Type).Uint64("gen", ev.Gen).Msg("ignoring stale channel event")
		return false
	}

	switch ev.Type {
	case EventOpened:
		c.cancelDial = nil
		c.conn = ev.Conn
		c.setStatus(StatusOpen)
		gen, kind, post := c.gen, c.kind, c.post
		c.conn.Start(transport.Handler{
			OnMessage: func(data []byte) {
				post(Event{Kind: kind, Gen: gen, Type: EventMessage, Data: data})
			},
			OnClose: func(err error) {
				post(Event{Kind: kind, Gen: gen, Type: EventClosed, Err: err})
			},
		})
		c.flush()

	case EventMessage:

	case EventClosed:
		c.conn = nil
		if ev.Err != nil {
			c.stats.Failures++
			c.setStatus(StatusError)
		} else {
			c.setStatus(StatusClosed)
		}

	case EventDialFailed:
		c.cancelDial = nil
		c.stats.Failures++
		if !errors.Is(ev.Err, context.Canceled) {
			c.logger.Warn().Err(ev.Err).Msg("failed to connect")
		}
		c.setStatus(StatusError)
	}
	return true
}

// flush writes the queue in FIFO order and then asks the server for fresh
// snapshots.
func (c *Channel) flush() {
	if !c.drain() {
		return
	}
	if err := c.write(protocol.Sync()); err != nil {
		c.logger.Warn().Err(err).Msg("failed to request sync")
	}
}

// drain writes queued messages in FIFO order. On a write failure the unsent
// tail goes back to the queue and drain reports false.
func (c *Channel) drain() bool {
	pending := c.queue.Drain()
	for i, o := range pending {
		if err := c.write(o); err != nil {
			c.queue.Requeue(pending[i:])
			c.logger.Warn().Err(err).Int("pending", c.queue.Len()).Msg("flush interrupted")
			return false
		}
		c.stats.Flushed++
	}
	if len(pending) > 0 {
		c.logger.Debug().Int("flushed", len(pending)).Msg("flushed queued messages")
	}
	return true
}

func (c *Channel) setStatus(s Status) {
	if c.status == s {
		return
	}
	c.logger.Info().Str("status", string(s)).Str("previous", string(c.status)).Msg("channel status changed")
	c.status = s
}
