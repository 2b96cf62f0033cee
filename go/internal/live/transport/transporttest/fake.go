// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"strings"
	"sync"

	"github.com/guesssenpai/livesync/go/internal/live/protocol"
	"github.com/guesssenpai/livesync/go/internal/live/transport"
)

// Dialer hands out Conns and remembers every dial.
type Dialer struct {
	mu      sync.Mutex
	err     error
	dials   []string
	conns   []*Conn
	blocked chan struct{}
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{}
}

// FailWith makes every following Dial return err. nil restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Block holds every following Dial until Unblock or until its context ends.
func (d *Dialer) Block() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocked == nil {
		d.blocked = make(chan struct{})
	}
}

// Unblock releases held dials.
func (d *Dialer) Unblock() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.blocked != nil {
		close(d.blocked)
		d.blocked = nil
	}
}

func (d *Dialer) Dial(ctx context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, url)
	blocked := d.blocked
	d.mu.Unlock()

	if blocked != nil {
		select {
		case <-blocked:
		case <-ctx.Done():
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	c := &Conn{URL: url}
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns every URL passed to Dial, including failed ones.
func (d *Dialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// DialCount counts dials whose URL contains substr.
func (d *Dialer) DialCount(substr string) int {
	n := 0
	for _, u := range d.Dials() {
		if strings.Contains(u, substr) {
			n++
		}
	}
	return n
}

// Latest returns the newest successfully dialed Conn whose URL contains
// substr, or nil.
func (d *Dialer) Latest(substr string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.conns) - 1; i >= 0; i-- {
		if strings.Contains(d.conns[i].URL, substr) {
			return d.conns[i]
		}
	}
	return nil
}

// Conns returns every successfully dialed Conn in dial order.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Conn records writes and lets the test play the server side.
type Conn struct {
	URL string

	mu      sync.Mutex
	handler transport.Handler
	started bool
	closed  bool
	sendErr error
	sent    [][]byte
}

var _ transport.Conn = (*Conn)(nil)

func (c *Conn) Start(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.handler = h
	c.started = true
}

func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrConnClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailSends makes Send return err until called again with nil.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Conn) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns every frame written so far.
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentTypes returns the type field of every frame written so far.
func (c *Conn) SentTypes() []string {
	frames := c.Sent()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = protocol.PeekType(f)
	}
	return out
}

// Deliver plays an inbound server frame. It is a no-op before Start.
func (c *Conn) Deliver(frame string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h.OnMessage != nil {
		h.OnMessage([]byte(frame))
	}
}

// Drop simulates the server side going away with err (nil for a normal
// closure).
func (c *Conn) Drop(err error) {
	c.mu.Lock()
	h := c.handler
	c.closed = true
	c.mu.Unlock()
	if h.OnClose != nil {
		h.OnClose(err)
	}
}
