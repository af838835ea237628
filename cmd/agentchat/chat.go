package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/agentchat/pkg/events"
	"github.com/go-go-golems/agentchat/pkg/session"
	"github.com/go-go-golems/agentchat/pkg/ui"
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newChatCommand() *cobra.Command {
	var (
		url            string
		reconnectDelay time.Duration
		pingInterval   time.Duration
		plain          bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the peer (TUI on a terminal, line mode otherwise)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			f := cmd.Flags()
			if f.Changed("url") {
				cfg.URL = url
			}
			if f.Changed("reconnect-delay") {
				cfg.ReconnectDelay = reconnectDelay
			}
			if f.Changed("ping-interval") {
				cfg.PingInterval = pingInterval
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tui := !plain && isTerminal(os.Stdin) && isTerminal(os.Stdout)
			if tui && opts.logFile == "" {
				// the alternate screen owns the terminal
				log.Logger = zerolog.New(io.Discard)
			}

			ctx := cmd.Context()
			bus, err := events.NewBus(ctx, cfg.Events.Redis)
			if err != nil {
				return errors.Wrap(err, "create event bus")
			}
			defer func() { _ = bus.Close() }()

			sess, err := session.New(ctx, session.Config{
				URL:            cfg.URL,
				ReconnectDelay: cfg.ReconnectDelay,
				DialTimeout:    cfg.DialTimeout,
				PingInterval:   cfg.PingInterval,
				Bus:            bus,
			})
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			if err := sess.Start(); err != nil {
				return errors.Wrap(err, "open connection")
			}
			log.Info().Str("url", cfg.URL).Str("session_id", sess.ID()).Bool("tui", tui).Msg("chat session started")

			if tui {
				return ui.Run(ctx, sess)
			}
			return ui.RunPlain(ctx, sess, os.Stdin, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&url, "url", "", "websocket url of the peer (overrides config)")
	f.DurationVar(&reconnectDelay, "reconnect-delay", 0, "fixed delay between reconnect attempts")
	f.DurationVar(&pingInterval, "ping-interval", 0, "keepalive ping interval, 0 disables")
	f.BoolVar(&plain, "plain", false, "force line mode even on a terminal")
	return cmd
}
