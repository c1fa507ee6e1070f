package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/voxchat/pkg/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show effective settings or edit the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.v.AllSettings())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	editor := func() (*config.Editor, error) {
		path := a.v.ConfigFileUsed()
		if path == "" {
			path = a.configPath
		}
		if path == "" {
			path = filepath.Join(config.DefaultDir(), "config.yaml")
		}
		return config.NewEditor(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <key>",
		Short: "Print a value from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := editor()
			if err != nil {
				return err
			}
			v, err := e.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := editor()
			if err != nil {
				return err
			}
			if err := e.Set(args[0], args[1]); err != nil {
				return err
			}
			return e.Save()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a value from the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := editor()
			if err != nil {
				return err
			}
			if err := e.Unset(args[0]); err != nil {
				return err
			}
			return e.Save()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the values set in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := editor()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", e.Path())
			for p := e.Flatten().Oldest(); p != nil; p = p.Next() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", p.Key, p.Value)
			}
			return nil
		},
	})
	return cmd
}
