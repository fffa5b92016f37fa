package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	advanceGrace  time.Duration
	bind          string
	language      string
	llmModel      string
	llmTimeout    time.Duration
	llmURL        string
	maxPlayers    int
	pointsPerWin  int
	port          int
	prefix        string
	profile       bool
	questionTimer time.Duration
	roomTimeout   time.Duration
	tlsCert       string
	tlsKey        string
	verbose       bool
	version       bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxPlayers < 1 {
		return fmt.Errorf("invalid max players (must be at least 1): %d", c.maxPlayers)
	}
	if c.pointsPerWin < 1 {
		return fmt.Errorf("invalid points per correct answer (must be at least 1): %d", c.pointsPerWin)
	}
	if c.questionTimer < time.Second {
		return fmt.Errorf("invalid question timer (must be at least 1s): %s", c.questionTimer)
	}
	if c.advanceGrace < 0 {
		return fmt.Errorf("invalid advance grace (must not be negative): %s", c.advanceGrace)
	}
	if c.roomTimeout < time.Minute {
		return fmt.Errorf("invalid room timeout (must be at least 1m): %s", c.roomTimeout)
	}
	if c.llmURL == "" && c.llmModel != "" {
		return errors.New("--llm-model requires --llm-url")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizbox",
		Short:         "A real-time multiplayer quiz server, packed in a single binary.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.DurationVar(&cfg.advanceGrace, "advance-grace", 2*time.Second, "fixed delay after the question timer before advancing (env: QUIZBOX_ADVANCE_GRACE)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZBOX_BIND)")
	fs.StringVar(&cfg.language, "language", "fr", "language of served questions (env: QUIZBOX_LANGUAGE)")
	fs.StringVar(&cfg.llmModel, "llm-model", "", "model name passed to the question generation endpoint (env: QUIZBOX_LLM_MODEL)")
	fs.DurationVar(&cfg.llmTimeout, "llm-timeout", 20*time.Second, "timeout for question generation requests (env: QUIZBOX_LLM_TIMEOUT)")
	fs.StringVar(&cfg.llmURL, "llm-url", "", "OpenAI-compatible chat completions URL for question generation (env: QUIZBOX_LLM_URL)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 8, "maximum number of players per room (env: QUIZBOX_MAX_PLAYERS)")
	fs.IntVar(&cfg.pointsPerWin, "points", 10, "points awarded per correct answer (env: QUIZBOX_POINTS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: QUIZBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZBOX_PROFILE)")
	fs.DurationVar(&cfg.questionTimer, "question-timer", 30*time.Second, "default time allowed per question (env: QUIZBOX_QUESTION_TIMER)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 20*time.Minute, "time before rooms are expired (env: QUIZBOX_ROOM_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
