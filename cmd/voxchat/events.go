package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/voxchat/pkg/redisstream"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

func newEventsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print UI events published to Redis Streams by a running chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.settings.Events
			if !s.Enabled {
				return errors.New("events are only shared across processes with --events-redis")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := redisstream.EnsureGroupAtTail(ctx, s.Addr, s.Topic, s.Group); err != nil {
				return err
			}
			ps, err := redisstream.Build(s)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			log.Info().Str("topic", s.Topic).Str("group", s.Group).Msg("tailing events")
			return ui.Consume(ctx, ps.Subscriber, s.Topic, func(ev ui.Event) {
				if err := enc.Encode(ev); err != nil {
					log.Warn().Err(err).Msg("write event")
				}
			})
		},
	}
	return cmd
}
