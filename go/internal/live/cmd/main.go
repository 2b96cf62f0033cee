package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/guesssenpai/livesync/go/internal/live/bridge"
	"github.com/guesssenpai/livesync/go/internal/live/identity"
	"github.com/guesssenpai/livesync/go/internal/live/publish"
	"github.com/guesssenpai/livesync/go/internal/live/session"
)

const (
	releaseVersion  = "0.4.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func run(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	setupLogging(cfg.verbose)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cfg.identityStore()
	if err != nil {
		log.Warn().Err(err).Msg("no profile location, using an ephemeral player id")
	}
	player := identity.NewResolver(store).Resolve(cfg.profile())

	sess, err := session.New(cfg.session(), player, session.WithLogger(log.Logger))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	log.Info().
		Str("slug", cfg.slug).
		Str("lobby_id", cfg.lobbyID).
		Str("match_id", cfg.matchID).
		Str("player_id", player.ID).
		Msg("starting livesync")

	invite, err := cfg.inviteURL()
	if err != nil {
		return fmt.Errorf("failed to build invite url: %w", err)
	}
	if cfg.qr {
		if err := printQR(out, invite); err != nil {
			log.Warn().Err(err).Msg("failed to render invite QR code")
		}
	}

	if cfg.natsURL != "" {
		nc, err := startPublisher(ctx, cfg, sess)
		if err != nil {
			return err
		}
		defer nc.Drain()
	}

	var server *http.Server
	if cfg.httpAddr != "" {
		server = startBridge(cfg, sess, invite)
	}

	if err := sess.Start(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	updates, unsubscribe, err := sess.Subscribe(16)
	if err != nil {
		return err
	}
	defer unsubscribe()
	go watch(out, player.ID, updates)

	lines := readLines(in)
	r := &repl{sess: sess, out: out, now: time.Now}
	r.help()

loop:
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal")
			break loop
		case <-sess.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := r.exec(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP bridge shutdown failed")
		}
	}
	if err := sess.Close(); err != nil {
		log.Error().Err(err).Msg("session close failed")
	}
	log.Info().Msg("livesync shutdown complete")
	return nil
}

func startPublisher(ctx context.Context, cfg *Config, sess *session.Session) (*nats.Conn, error) {
	nc, err := publish.Connect(cfg.natsURL)
	if err != nil {
		return nil, err
	}

	var sink publish.Sink = publish.CoreSink{Conn: nc}
	if cfg.natsStream != "" {
		js, err := publish.EnsureStream(ctx, nc, cfg.natsStream, cfg.natsPrefix, cfg.natsMaxAge)
		if err != nil {
			nc.Close()
			return nil, err
		}
		sink = publish.StreamSink{JS: js}
	}

	updates, unsubscribe, err := sess.Subscribe(16)
	if err != nil {
		nc.Close()
		return nil, err
	}
	pub := publish.NewNATSPublisher(sink, cfg.natsPrefix, cfg.session()).WithLogger(log.Logger)
	go func() {
		defer unsubscribe()
		if err := pub.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("snapshot publisher failed")
		}
	}()

	log.Info().Str("nats_url", cfg.natsURL).Str("stream", cfg.natsStream).Msg("publishing snapshots")
	return nc, nil
}

func startBridge(cfg *Config, sess *session.Session, invite string) *http.Server {
	handler := bridge.NewHandler(sess,
		bridge.WithAllowedOrigins(cfg.origins...),
		bridge.WithInviteURL(invite),
		bridge.WithVersion(releaseVersion),
	)
	server := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP bridge starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP bridge failed")
		}
	}()
	return server
}

func printQR(out io.Writer, invite string) error {
	qr, err := qrcode.New(invite, qrcode.Medium)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, qr.ToSmallString(false))
	fmt.Fprintf(out, "Invite: %s\n", invite)
	return nil
}
