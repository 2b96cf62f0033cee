package bridge

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
	streamBuffer     = 8
)

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// handleStream upgrades to a WebSocket and writes every new snapshot as a
// JSON text frame, starting with the current one. The stream ends when the
// client goes away or the session closes.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	updates, unsubscribe, err := h.ctrl.Subscribe(streamBuffer)
	if err != nil {
		h.writeActionError(w, "subscribe", err)
		return
	}
	defer unsubscribe()

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn().Err(err).Msg("failed to upgrade state stream")
		return
	}
	defer conn.Close()

	logger := h.logger.With().Str("stream_id", uuid.NewString()).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("state stream connected")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logger.Info().Msg("state stream disconnected")
			return
		case snap, ok := <-updates:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				logger.Info().Msg("state stream ended with session")
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				logger.Warn().Err(err).Msg("failed to write snapshot")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
