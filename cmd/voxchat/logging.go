package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/voxchat/pkg/config"
)

// initLogger configures the global zerolog logger. A terminal gets the
// console writer, anything else JSON. The TUI owns the screen, so in that
// mode logs go to a file even when none was configured.
func initLogger(s config.LogSettings, tui bool) (func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(s.Level))
	if err != nil || s.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	path := s.File
	if path == "" && tui {
		path = filepath.Join(config.DefaultDir(), "voxchat.log")
	}

	var w io.Writer
	closer := func() {}
	switch {
	case path != "":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log file %s", path)
		}
		w = f
		closer = func() { _ = f.Close() }
	case isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()):
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	default:
		w = os.Stderr
	}

	ctx := zerolog.New(w).With().Timestamp()
	if s.WithCaller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
	return closer, nil
}
