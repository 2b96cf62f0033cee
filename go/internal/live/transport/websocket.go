package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for websocket connections
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
	MaxMessageSize   int64
	ReadBufferSize   int
	WriteBufferSize  int
	SendBufferSize   int
}

// DefaultConfig returns default websocket configuration
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1 << 20, // a full match snapshot carries up to 300 guesses
		ReadBufferSize:   4096,
		WriteBufferSize:  1024,
		SendBufferSize:   256,
	}
}

// WebsocketDialer dials live channels with gorilla/websocket.
type WebsocketDialer struct {
	config Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewWebsocketDialer creates a dialer. Zero config fields take their
// defaults.
func NewWebsocketDialer(config Config) *WebsocketDialer {
	config = withDefaults(config)
	return &WebsocketDialer{
		config: config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		logger: log.Logger,
	}
}

// WithLogger returns a copy of d logging to l.
func (d *WebsocketDialer) WithLogger(l zerolog.Logger) *WebsocketDialer {
	cp := *d
	cp.logger = l
	return &cp
}

// Dial establishes the websocket. Pumps are not running until Start.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &wsConn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, d.config.SendBufferSize),
		done:   make(chan struct{}),
		config: d.config,
	}
	c.logger = d.logger.With().Str("connection_id", c.id).Logger()
	c.logger.Debug().Str("url", url).Msg("websocket connection established")
	return c, nil
}

func withDefaults(c Config) Config {
	def := DefaultConfig()
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = def.ReadBufferSize
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = def.WriteBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	return c
}

// wsConn represents one websocket connection to the live server
type wsConn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	handler Handler
	started bool
	closed  bool
	local   bool

	reportOnce sync.Once
}

func (c *wsConn) Start(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	c.handler = h

	go c.writePump()
	go c.readPump()
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close shuts the connection down from our side. OnClose still fires, with
// a nil error.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.local = true
	started := c.started
	close(c.done)
	c.mu.Unlock()

	if !started {
		return c.ws.Close()
	}
	return nil
}

// shutdown marks the connection closed after a remote close or I/O failure.
func (c *wsConn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	c.mu.Unlock()
	c.ws.Close()
}

func (c *wsConn) report(err error) {
	c.reportOnce.Do(func() {
		c.mu.Lock()
		local := c.local
		onClose := c.handler.OnClose
		c.mu.Unlock()

		if local || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = nil
		}
		if err != nil {
			c.logger.Warn().Err(err).Msg("websocket connection lost")
		} else {
			c.logger.Debug().Msg("websocket connection closed")
		}
		if onClose != nil {
			onClose(err)
		}
	})
}

// writePump handles sending messages to the websocket connection
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.shutdown()
				c.report(err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown()
				c.report(err)
				return
			}

		case <-c.done:
			// best effort, the peer may already be gone
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			return
		}
	}
}

// readPump handles reading messages from the websocket connection
func (c *wsConn) readPump() {
	c.ws.SetReadLimit(c.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown()
			c.report(err)
			return
		}
		if c.handler.OnMessage != nil {
			c.handler.OnMessage(message)
		}
		c.ws.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
}
