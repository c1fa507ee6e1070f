package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voxchat/pkg/client"
	"github.com/go-go-golems/voxchat/pkg/config"
)

// app carries what the persistent pre-run resolved for the subcommands.
type app struct {
	v          *viper.Viper
	configPath string
	settings   config.Settings
	logCloser  func()
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "voxchat",
		Short:         "voxchat is a terminal client for the VoxAI chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ReadFile(a.v, a.configPath); err != nil {
				return err
			}
			s, err := config.Load(a.v)
			if err != nil {
				return err
			}
			a.settings = s
			closer, err := initLogger(s.Log, cmd.Name() == "chat")
			if err != nil {
				return err
			}
			a.logCloser = closer
			log.Debug().Str("config", a.v.ConfigFileUsed()).Str("storage", s.Storage.Driver).Msg("settings loaded")
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				a.logCloser()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $HOME/.voxchat/config.yaml)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.String("log-file", "", "write logs to this file")
	pf.Bool("with-caller", false, "include caller in log lines")
	pf.String("backend-url", "", "base URL of the generate endpoint")
	pf.String("ws-url", "", "realtime websocket URL")
	pf.Bool("realtime", true, "use the realtime websocket channel")
	pf.String("storage-driver", "", "storage driver: memory, sqlite or redis")
	pf.String("storage-path", "", "sqlite database path")
	pf.Bool("events-redis", false, "publish UI events to Redis Streams")
	pf.Bool("events-partial", false, "publish every typing step, not only final frames")

	bindings := map[string]string{
		"log.level":             "log-level",
		"log.file":              "log-file",
		"log.with-caller":       "with-caller",
		"backend-url":           "backend-url",
		"realtime.url":          "ws-url",
		"realtime.enabled":      "realtime",
		"storage.driver":        "storage-driver",
		"storage.path":          "storage-path",
		"events.enabled":        "events-redis",
		"events.partial-frames": "events-partial",
	}
	for key, flag := range bindings {
		cobra.CheckErr(a.v.BindPFlag(key, pf.Lookup(flag)))
	}

	rootCmd.AddCommand(
		newChatCmd(a),
		newSendCmd(a),
		newHistoryCmd(a),
		newQuotaCmd(a),
		newSubscriptionCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newConfigCmd(a),
		newEventsCmd(a),
	)
	return rootCmd
}

// openClient builds a client from the resolved settings.
func (a *app) openClient(ctx context.Context, opts ...client.Option) (*client.Client, error) {
	c, err := client.New(ctx, a.settings, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "start client")
	}
	return c, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("voxchat failed")
		_, _ = os.Stderr.WriteString("Error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
