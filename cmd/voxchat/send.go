package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
	"github.com/go-go-golems/voxchat/pkg/client"
	"github.com/go-go-golems/voxchat/pkg/delivery"
	"github.com/go-go-golems/voxchat/pkg/render"
	"github.com/go-go-golems/voxchat/pkg/ui"
)

func newSendCmd(a *app) *cobra.Command {
	var (
		asHTML bool
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			text := strings.Join(args, " ")

			replies := make(chan chatstore.Message, 4)
			obs := ui.Funcs{
				MessageAppended: func(_ string, m chatstore.Message) {
					if m.Role == chatstore.RoleAssistant {
						select {
						case replies <- m:
						default:
						}
					}
				},
			}
			c, err := a.openClient(ctx, client.WithObserver(obs))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if a.settings.Realtime.Enabled {
				connectCtx, cancel := context.WithTimeout(ctx, wait)
				_ = c.Connect(connectCtx)
				cancel()
			}

			res, err := c.Submit(ctx, text)
			if errors.Is(err, delivery.ErrQuotaExceeded) {
				return errors.New("daily message limit reached; a pro subscription removes the limit")
			}
			if err != nil {
				return err
			}

			var reply chatstore.Message
			if res.Reply != nil {
				reply = *res.Reply
			} else {
				select {
				case reply = <-replies:
				case <-time.After(wait):
					return errors.Errorf("no reply over the realtime channel within %s", wait)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if res.DeliveryErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "delivery failed:", res.DeliveryErr)
			}
			return printReply(cmd, reply.Content, asHTML)
		},
	}
	cmd.Flags().BoolVar(&asHTML, "html", false, "print the reply as HTML")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "how long to wait for the realtime channel and its reply")
	return cmd
}

func printReply(cmd *cobra.Command, content string, asHTML bool) error {
	out := cmd.OutOrStdout()
	switch {
	case asHTML:
		_, err := fmt.Fprintln(out, render.FormatHTML(content))
		return err
	case isatty.IsTerminal(os.Stdout.Fd()):
		styled, err := glamour.Render(content, "dark")
		if err != nil {
			_, err = fmt.Fprintln(out, content)
			return err
		}
		_, err = fmt.Fprint(out, styled)
		return err
	default:
		_, err := fmt.Fprintln(out, content)
		return err
	}
}
