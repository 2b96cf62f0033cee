package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/guesssenpai/livesync/go/internal/live/identity"
	"github.com/guesssenpai/livesync/go/internal/live/session"
)

type Config struct {
	configFile string

	baseURL        string
	slug           string
	lobbyID        string
	matchID        string
	autoReconnect  bool
	reconnectDelay time.Duration
	reactionLimit  int
	guessLimit     int

	playerID    string
	name        string
	avatar      string
	profilePath string
	ephemeral   bool

	httpAddr string
	origins  []string
	invite   string
	qr       bool

	natsURL    string
	natsPrefix string
	natsStream string
	natsMaxAge time.Duration

	verbose bool
}

func (c *Config) validate() error {
	if c.natsStream != "" && c.natsURL == "" {
		return errors.New("--nats-stream requires --nats-url")
	}
	if c.natsMaxAge < 0 {
		return fmt.Errorf("invalid --nats-max-age: %s", c.natsMaxAge)
	}
	return c.session().Validate()
}

func (c *Config) session() session.Config {
	cfg := session.DefaultConfig()
	cfg.BaseURL = c.baseURL
	cfg.Slug = c.slug
	cfg.LobbyID = c.lobbyID
	cfg.MatchID = c.matchID
	cfg.AutoReconnect = c.autoReconnect
	cfg.ReconnectDelay = c.reconnectDelay
	cfg.ReactionLimit = c.reactionLimit
	cfg.GuessLimit = c.guessLimit
	return cfg
}

func (c *Config) profile() identity.Profile {
	return identity.Profile{ID: c.playerID, DisplayName: c.name, AvatarURL: c.avatar}
}

// identityStore returns nil for --ephemeral, which makes every run a new
// player.
func (c *Config) identityStore() (identity.Store, error) {
	if c.ephemeral {
		return nil, nil
	}
	path := c.profilePath
	if path == "" {
		var err error
		if path, err = identity.DefaultPath(); err != nil {
			return nil, err
		}
	}
	return identity.NewFileStore(path), nil
}

// inviteURL is --invite or, failing that, the lobby address with an http
// scheme and no player parameters.
func (c *Config) inviteURL() (string, error) {
	if c.invite != "" {
		return c.invite, nil
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	return u.JoinPath("lobby", c.slug, c.lobbyID).String(), nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("LIVESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := session.DefaultConfig()
	envErrs := make(map[string]error)

	cmd := &cobra.Command{
		Use:           "livesync --slug <slug> --lobby <id> --match <id>",
		Short:         "Join a daily-puzzle lobby and match from the terminal.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				if err, ok := envErrs[f.Name]; ok && !f.Changed {
					errs = append(errs, err)
				}
			})
			if err := errors.Join(errs...); err != nil {
				return err
			}
			if cfg.configFile != "" {
				if err := applyConfigFile(cmd.Flags(), cfg.configFile); err != nil {
					return err
				}
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.configFile, "config", "c", "", "YAML file with default flag values (env: LIVESYNC_CONFIG)")

	fs.StringVar(&cfg.baseURL, "base-url", defaults.BaseURL, "live endpoint root (env: LIVESYNC_BASE_URL)")
	fs.StringVarP(&cfg.slug, "slug", "s", "", "puzzle slug (env: LIVESYNC_SLUG)")
	fs.StringVarP(&cfg.lobbyID, "lobby", "l", "", "lobby id (env: LIVESYNC_LOBBY)")
	fs.StringVarP(&cfg.matchID, "match", "m", "", "match id (env: LIVESYNC_MATCH)")
	fs.BoolVar(&cfg.autoReconnect, "auto-reconnect", defaults.AutoReconnect, "reconnect after connection loss (env: LIVESYNC_AUTO_RECONNECT)")
	fs.DurationVar(&cfg.reconnectDelay, "reconnect-delay", defaults.ReconnectDelay, "delay before reconnecting (env: LIVESYNC_RECONNECT_DELAY)")
	fs.IntVar(&cfg.reactionLimit, "reaction-limit", defaults.ReactionLimit, "reactions kept in the lobby feed (env: LIVESYNC_REACTION_LIMIT)")
	fs.IntVar(&cfg.guessLimit, "guess-limit", defaults.GuessLimit, "guesses kept per match (env: LIVESYNC_GUESS_LIMIT)")

	fs.StringVar(&cfg.playerID, "player-id", "", "authenticated player id, overrides the stored one (env: LIVESYNC_PLAYER_ID)")
	fs.StringVarP(&cfg.name, "name", "n", "", "display name (env: LIVESYNC_NAME)")
	fs.StringVar(&cfg.avatar, "avatar", "", "avatar url (env: LIVESYNC_AVATAR)")
	fs.StringVar(&cfg.profilePath, "profile", "", "player profile file (env: LIVESYNC_PROFILE)")
	fs.BoolVar(&cfg.ephemeral, "ephemeral", false, "do not persist the player id (env: LIVESYNC_EPHEMERAL)")

	fs.StringVar(&cfg.httpAddr, "http", "", "serve the local HTTP bridge on this address, e.g. 127.0.0.1:8090 (env: LIVESYNC_HTTP)")
	fs.StringSliceVar(&cfg.origins, "allowed-origins", []string{"*"}, "origins allowed to call the bridge (env: LIVESYNC_ALLOWED_ORIGINS)")
	fs.StringVar(&cfg.invite, "invite", "", "invite link shared by --qr and /invite.png (env: LIVESYNC_INVITE)")
	fs.BoolVar(&cfg.qr, "qr", false, "print the invite link as a QR code (env: LIVESYNC_QR)")

	fs.StringVar(&cfg.natsURL, "nats-url", "", "publish snapshots to this NATS server (env: LIVESYNC_NATS_URL)")
	fs.StringVar(&cfg.natsPrefix, "nats-prefix", "livesync", "first token of published subjects (env: LIVESYNC_NATS_PREFIX)")
	fs.StringVar(&cfg.natsStream, "nats-stream", "", "publish into this JetStream stream instead of core NATS (env: LIVESYNC_NATS_STREAM)")
	fs.DurationVar(&cfg.natsMaxAge, "nats-max-age", 24*time.Hour, "JetStream message retention (env: LIVESYNC_NATS_MAX_AGE)")

	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log debug output (env: LIVESYNC_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, envValue(v.Get(f.Name))); err != nil {
				envErrs[f.Name] = fmt.Errorf("invalid environment value for %s: %w", f.Name, err)
			}
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("livesync v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func envValue(v any) string {
	if s, ok := v.([]string); ok {
		return strings.Join(s, ",")
	}
	return fmt.Sprintf("%v", v)
}

// applyConfigFile fills every flag not already set on the command line or
// through the environment from a flat YAML document keyed by flag name.
func applyConfigFile(fs *pflag.FlagSet, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	for key, value := range values {
		f := fs.Lookup(key)
		if f == nil {
			return fmt.Errorf("unknown config key %q", key)
		}
		if f.Changed || key == "config" {
			continue
		}
		if err := fs.Set(key, yamlValue(value)); err != nil {
			return fmt.Errorf("invalid config value for %s: %w", key, err)
		}
	}
	return nil
}

func yamlValue(v any) string {
	list, ok := v.([]any)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprintf("%v", item)
	}
	return strings.Join(parts, ",")
}
