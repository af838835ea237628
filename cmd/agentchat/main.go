package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/agentchat/pkg/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
	withCaller bool

	cfg     *config.Config
	logSink io.Closer
}

var opts = &rootOptions{}

var rootCmd = &cobra.Command{
	Use:           "agentchat",
	Short:         "Streaming chat client for multi-agent conversational backends",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging(opts); err != nil {
			return err
		}
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		opts.cfg = cfg
		log.Debug().Str("config", opts.configPath).Msg("configuration loaded")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if opts.logSink != nil {
			return opts.logSink.Close()
		}
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "console", "log format (console or json)")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	f.BoolVar(&opts.withCaller, "with-caller", false, "include caller information in logs")

	rootCmd.AddCommand(newChatCommand(), newForwardCommand(), newMockPeerCommand(), newWatchCommand())
}

func initLogging(o *rootOptions) error {
	level, err := zerolog.ParseLevel(strings.ToLower(o.logLevel))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", o.logLevel)
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		o.logSink = f
		out = f
	}

	switch o.logFormat {
	case "json":
	case "console":
		out = zerolog.ConsoleWriter{Out: out, NoColor: o.logFile != ""}
	default:
		return errors.Errorf("invalid log format %q", o.logFormat)
	}

	ctx := zerolog.New(out).With().Timestamp()
	if o.withCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("agentchat failed")
		stop()
		os.Exit(1)
	}
}
