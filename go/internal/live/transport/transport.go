// Package transport is the narrow full-duplex message socket contract the
// live session depends on, plus its gorilla/websocket implementation.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrConnClosed is returned by Send after the connection was closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned by Send when the write pump is behind.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handler receives inbound traffic for one connection. Callbacks run on the
// connection's read goroutine, in delivery order. OnClose is called exactly
// once; err is nil for a normal closure.
type Handler struct {
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Conn is an established connection. No callback fires before Start, so the
// owner can finish its own bookkeeping for the open first.
type Conn interface {
	Start(h Handler)
	Send(data []byte) error
	Close() error
}

// Dialer opens connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
