package kvstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Settings struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	Path        string `mapstructure:"path" yaml:"path"`
	RedisAddr   string `mapstructure:"redis-addr" yaml:"redis-addr"`
	RedisPrefix string `mapstructure:"redis-prefix" yaml:"redis-prefix"`
}

// Open builds the Store selected by s.Driver. An empty driver means memory.
func Open(s Settings) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if s.Path == "" {
			return nil, errors.New("kvstore: sqlite driver requires a path")
		}
		if dir := filepath.Dir(s.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "kvstore: create sqlite directory")
			}
		}
		dsn, err := SQLiteDSNForFile(s.Path)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("component", "kvstore").Str("path", s.Path).Msg("opening sqlite store")
		return NewSQLite(dsn)
	case DriverRedis:
		log.Debug().Str("component", "kvstore").Str("addr", s.RedisAddr).Msg("opening redis store")
		return NewRedis(s.RedisAddr, s.RedisPrefix)
	default:
		return nil, errors.Errorf("kvstore: unknown driver %q", s.Driver)
	}
}
