package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/voxchat/pkg/quota"
)

func newQuotaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quota",
		Short: "Show today's remaining messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			st := c.QuotaStatus(cmd.Context())
			out := cmd.OutOrStdout()
			if st.Unlimited {
				sub := c.Subscription()
				fmt.Fprintf(out, "pro plan, unlimited messages (expires %s)\n", sub.ExpiresAt.Local().Format(time.DateOnly))
				return nil
			}
			fmt.Fprintf(out, "%d of %d messages left today\n", st.Remaining, st.Limit)
			return nil
		},
	}
}

func newSubscriptionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Show or change the stored subscription record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			sub := c.Subscription()
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s plan=%s expires=%s customer=%s\n",
				sub.Status, sub.Plan, sub.ExpiresAt.Format(time.RFC3339), sub.CustomerID)
			return nil
		},
	}

	var (
		status   string
		plan     string
		duration time.Duration
		customer string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Merge fields into the subscription record",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			patch := quota.Subscription{Status: status, Plan: plan, CustomerID: customer}
			if duration > 0 {
				patch.ExpiresAt = time.Now().Add(duration)
			}
			sub, err := c.UpdateSubscription(cmd.Context(), patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status=%s plan=%s expires=%s\n", sub.Status, sub.Plan, sub.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	set.Flags().StringVar(&status, "status", "", "subscription status, e.g. active")
	set.Flags().StringVar(&plan, "plan", "", "plan name, e.g. pro")
	set.Flags().DurationVar(&duration, "valid-for", 0, "expire this long from now")
	set.Flags().StringVar(&customer, "customer", "", "billing customer id")
	cmd.AddCommand(set)
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var guest bool
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Store a local user; no password is checked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := ""
			switch {
			case len(args) == 1:
				username = args[0]
			case guest:
			case isatty.IsTerminal(os.Stdin.Fd()):
				ui := &input.UI{Writer: cmd.ErrOrStderr(), Reader: os.Stdin}
				answer, err := ui.Ask("Username (empty for guest)", &input.Options{
					Required:  false,
					HideOrder: true,
				})
				if err != nil {
					return errors.Wrap(err, "read username")
				}
				username = answer
			}

			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			u, err := c.Login(cmd.Context(), username)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&guest, "guest", false, "log in as guest without prompting")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the user, history, subscription and quota count",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return c.Logout(cmd.Context())
		},
	}
}
