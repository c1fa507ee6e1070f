package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/voxchat/pkg/chatstore"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit stored conversations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			cur, _ := c.Current()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "\tID\tTITLE\tMESSAGES\tCREATED\tLAST")
			for _, conv := range c.Conversations() {
				marker := ""
				if conv.ID == cur.ID {
					marker = "*"
				}
				last := ""
				if m, ok := conv.LastMessage(); ok {
					last = chatstore.DeriveTitle(strings.Join(strings.Fields(m.Content), " "))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", marker, conv.ID, conv.Title, len(conv.Messages), conv.CreatedAt.Local().Format(time.DateTime), last)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print a conversation, the current one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			var conv chatstore.Conversation
			if len(args) == 1 {
				if conv, err = c.Conversation(args[0]); err != nil {
					return err
				}
			} else {
				conv, _ = c.Current()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", conv.Title)
			for _, m := range conv.Messages {
				who := "You"
				if m.Role == chatstore.RoleAssistant {
					who = "VoxAI"
				}
				fmt.Fprintf(out, "[%s] %s:\n%s\n\n", m.Timestamp.Local().Format(time.Kitchen), who, m.Content)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and make it current",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			conv, err := c.CreateConversation(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select <id>",
		Short: "Make a conversation current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			_, err = c.SelectConversation(args[0])
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openClient(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return c.DeleteConversation(cmd.Context(), args[0])
		},
	})
	return cmd
}
