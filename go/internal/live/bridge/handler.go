// Package bridge exposes a running session over HTTP so a browser UI on the
// same machine can read state and trigger actions.
package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/guesssenpai/livesync/go/internal/live/session"
	"github.com/guesssenpai/livesync/go/internal/models"
)

const (
	serviceName  = "livesync"
	maxBodyBytes = 1 << 16
	qrSize       = 320
)

// Controller is the part of *session.Session the bridge drives.
type Controller interface {
	Config() session.Config
	Snapshot() session.Snapshot
	Stats() session.Stats
	Subscribe(buffer int) (<-chan session.Snapshot, func(), error)
	ToggleReady() (bool, error)
	SetReady(ready bool) error
	SendReaction(emoji string) (models.ReactionEvent, error)
	SendGuess(text string) (models.GuessEvent, error)
	SetTimer(remaining *int, running bool) error
	SetCountdown(seconds *int) error
	RequestSync() error
	Reconnect() error
}

var _ Controller = (*session.Session)(nil)

// Handler serves the bridge routes.
type Handler struct {
	ctrl    Controller
	origins []string
	invite  string
	version string
	logger  zerolog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAllowedOrigins restricts CORS and WebSocket origins. The default
// allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(h *Handler) { h.origins = origins }
}

// WithInviteURL enables GET /invite.png rendering url as a QR code.
func WithInviteURL(url string) Option {
	return func(h *Handler) { h.invite = url }
}

func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

func WithLogger(l zerolog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a handler driving ctrl.
func NewHandler(ctrl Controller, opts ...Option) *Handler {
	h := &Handler{
		ctrl:    ctrl,
		origins: []string{"*"},
		version: "dev",
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router wrapped in CORS handling.
func (h *Handler) Routes() http.Handler {
	mux := httprouter.New()

	mux.GET("/health", h.handleHealth)
	mux.GET("/info", h.handleInfo)
	mux.GET("/state", h.handleState)
	mux.GET("/ws/state", h.handleStream)
	mux.GET("/invite.png", h.handleInvite)

	mux.POST("/ready", h.handleReady)
	mux.POST("/reaction", h.handleReaction)
	mux.POST("/guess", h.handleGuess)
	mux.POST("/timer", h.handleTimer)
	mux.POST("/countdown", h.handleCountdown)
	mux.POST("/sync", h.handleSync)
	mux.POST("/reconnect", h.handleReconnect)

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		h.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("bridge handler panicked")
		writeError(w, http.StatusInternalServerError, "internal error")
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: h.origins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type infoResponse struct {
	Service string        `json:"service"`
	Version string        `json:"version"`
	Slug    string        `json:"slug"`
	LobbyID string        `json:"lobbyId"`
	MatchID string        `json:"matchId"`
	Stats   session.Stats `json:"stats"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	cfg := h.ctrl.Config()
	h.writeJSON(w, http.StatusOK, infoResponse{
		Service: serviceName,
		Version: h.version,
		Slug:    cfg.Slug,
		LobbyID: cfg.LobbyID,
		MatchID: cfg.MatchID,
		Stats:   h.ctrl.Stats(),
	})
}

func (h *Handler) handleState(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	h.writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *Handler) handleInvite(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if h.invite == "" {
		writeError(w, http.StatusNotFound, "no invite configured")
		return
	}
	png, err := qrcode.Encode(h.invite, qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to render invite QR code")
		writeError(w, http.StatusInternalServerError, "qr generation failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

type readyRequest struct {
	Ready *bool `json:"ready"`
}

// handleReady sets readiness when the body names it and toggles otherwise.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req readyRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	ready := false
	var err error
	if req.Ready != nil {
		ready = *req.Ready
		err = h.ctrl.SetReady(ready)
	} else {
		ready, err = h.ctrl.ToggleReady()
	}
	if err != nil {
		h.writeActionError(w, "ready", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *Handler) handleReaction(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req reactionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	ev, err := h.ctrl.SendReaction(req.Emoji)
	if err != nil {
		h.writeActionError(w, "reaction", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ev)
}

type guessRequest struct {
	Guess string `json:"guess"`
}

func (h *Handler) handleGuess(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req guessRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	ev, err := h.ctrl.SendGuess(req.Guess)
	if err != nil {
		h.writeActionError(w, "guess", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, ev)
}

type timerRequest struct {
	Remaining *int `json:"remaining"`
	Running   bool `json:"running"`
}

func (h *Handler) handleTimer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req timerRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := h.ctrl.SetTimer(req.Remaining, req.Running); err != nil {
		h.writeActionError(w, "timer", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type countdownRequest struct {
	Seconds *int `json:"seconds"`
}

func (h *Handler) handleCountdown(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req countdownRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := h.ctrl.SetCountdown(req.Seconds); err != nil {
		h.writeActionError(w, "countdown", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleSync(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := h.ctrl.RequestSync(); err != nil {
		h.writeActionError(w, "sync", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleReconnect(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if err := h.ctrl.Reconnect(); err != nil {
		h.writeActionError(w, "reconnect", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// decode reads a JSON body into dst. An empty body is accepted only when
// optional is set. It writes the error response itself and reports whether
// the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && optional:
		return true
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "request body is required")
	default:
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return false
}

func (h *Handler) writeActionError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, session.ErrEmptyGuess), errors.Is(err, session.ErrEmptyReaction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error().Err(err).Str("action", action).Msg("bridge action failed")
		writeError(w, http.StatusInternalServerError, "failed to "+action)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode bridge response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
