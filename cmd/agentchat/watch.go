package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/agentchat/pkg/events"
	"github.com/go-go-golems/agentchat/pkg/session"
)

func newWatchCommand() *cobra.Command {
	var addr, stream, group, consumer string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print session snapshots mirrored to Redis Streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := opts.cfg.Events.Redis
			f := cmd.Flags()
			if f.Changed("redis-addr") {
				rs.Addr = addr
			}
			if f.Changed("stream") {
				rs.Stream = stream
			}
			if f.Changed("group") {
				rs.Group = group
			}
			if f.Changed("consumer") {
				rs.Consumer = consumer
			}

			ctx := cmd.Context()
			sub, err := events.NewRedisSubscription(ctx, rs)
			if err != nil {
				return err
			}
			defer func() { _ = sub.Close() }()

			msgs, err := sub.Subscribe(ctx)
			if err != nil {
				return err
			}
			log.Info().Str("stream", sub.Stream).Str("group", rs.Group).Msg("watching session snapshots")
			for msg := range msgs {
				printSnapshot(cmd.OutOrStdout(), msg)
				msg.Ack()
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "redis-addr", "", "redis address (overrides config)")
	f.StringVar(&stream, "stream", "", "stream name")
	f.StringVar(&group, "group", "", "consumer group")
	f.StringVar(&consumer, "consumer", "", "consumer name")
	return cmd
}

func printSnapshot(w io.Writer, msg *message.Message) {
	var s session.Snapshot
	if err := json.Unmarshal(msg.Payload, &s); err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("skipping undecodable snapshot")
		return
	}
	last := ""
	if m, ok := s.Last(); ok {
		last = fmt.Sprintf(" last=%s:%q", m.Role, truncate(m.Content, 60))
	}
	fmt.Fprintf(w, "%s v%d %s agent=%q awaiting=%t messages=%d%s\n",
		s.SessionID, s.Version, s.ConnectionStatus, s.ActiveAgent, s.AwaitingResponse, len(s.Messages), last)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
