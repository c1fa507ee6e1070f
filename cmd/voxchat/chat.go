package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/voxchat/pkg/client"
	"github.com/go-go-golems/voxchat/pkg/transport"
	"github.com/go-go-golems/voxchat/pkg/tui"
)

func newChatCmd(a *app) *cobra.Command {
	var altScreen bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			events := tui.NewEventQueue()
			defer events.Close()

			c, err := a.openClient(ctx, client.WithObserver(events))
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					log.Warn().Err(err).Msg("closing client")
				}
			}()

			opts := []tea.ProgramOption{tea.WithContext(ctx)}
			if altScreen {
				opts = append(opts, tea.WithAltScreen())
			}
			p := tea.NewProgram(tui.NewModel(ctx, c, events), opts...)

			eg, groupCtx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				// A failed first dial is retried by the session backoff.
				if err := c.Connect(groupCtx); err != nil && !errors.Is(err, transport.ErrInvalidState) {
					log.Warn().Err(err).Msg("realtime connect failed, http fallback in use")
				}
				return nil
			})
			eg.Go(func() error {
				defer cancel()
				_, err := p.Run()
				if errors.Is(err, tea.ErrProgramKilled) {
					return nil
				}
				return err
			})
			return eg.Wait()
		},
	}
	cmd.Flags().BoolVar(&altScreen, "alt-screen", true, "use the terminal alternate screen")
	return cmd
}
