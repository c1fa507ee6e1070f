// Package config resolves voxchat settings from defaults, an optional YAML
// file, VOXCHAT_* environment variables and command-line flags, in that order
// of increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/voxchat/pkg/kvstore"
	"github.com/go-go-golems/voxchat/pkg/redisstream"
)

const (
	EnvPrefix = "VOXCHAT"
	AppDir    = ".voxchat"
)

type RealtimeSettings struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	URL         string        `mapstructure:"url" yaml:"url"`
	MaxAttempts int           `mapstructure:"max-attempts" yaml:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay" yaml:"base-delay"`
}

type TypingSettings struct {
	Reply   time.Duration `mapstructure:"reply" yaml:"reply"`
	Error   time.Duration `mapstructure:"error" yaml:"error"`
	Inbound time.Duration `mapstructure:"inbound" yaml:"inbound"`
	Jitter  time.Duration `mapstructure:"jitter" yaml:"jitter"`
}

type LogSettings struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	WithCaller bool   `mapstructure:"with-caller" yaml:"with-caller"`
}

type Settings struct {
	BackendURL   string               `mapstructure:"backend-url" yaml:"backend-url"`
	GeneratePath string               `mapstructure:"generate-path" yaml:"generate-path"`
	HTTPTimeout  time.Duration        `mapstructure:"http-timeout" yaml:"http-timeout"`
	DailyLimit   int                  `mapstructure:"daily-limit" yaml:"daily-limit"`
	Realtime     RealtimeSettings     `mapstructure:"realtime" yaml:"realtime"`
	Typing       TypingSettings       `mapstructure:"typing" yaml:"typing"`
	Storage      kvstore.Settings     `mapstructure:"storage" yaml:"storage"`
	Events       redisstream.Settings `mapstructure:"events" yaml:"events"`
	Log          LogSettings          `mapstructure:"log" yaml:"log"`
}

// DefaultDir is $HOME/.voxchat, falling back to the working directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return AppDir
	}
	return filepath.Join(home, AppDir)
}

// SetDefaults registers every key so that environment variables are picked
// up by Unmarshal. Durations are given as strings so dumps stay readable.
func SetDefaults(v *viper.Viper) {
	events := redisstream.DefaultSettings()
	v.SetDefault("backend-url", "http://localhost:8000")
	v.SetDefault("generate-path", "/api/generate")
	v.SetDefault("http-timeout", "60s")
	v.SetDefault("daily-limit", 5)
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.url", "ws://localhost:8000/ws")
	v.SetDefault("realtime.max-attempts", 5)
	v.SetDefault("realtime.base-delay", "1s")
	v.SetDefault("typing.reply", "25ms")
	v.SetDefault("typing.error", "30ms")
	v.SetDefault("typing.inbound", "20ms")
	v.SetDefault("typing.jitter", "10ms")
	v.SetDefault("storage.driver", kvstore.DriverSQLite)
	v.SetDefault("storage.path", filepath.Join(DefaultDir(), "voxchat.db"))
	v.SetDefault("storage.redis-addr", "localhost:6379")
	v.SetDefault("storage.redis-prefix", "voxchat:")
	v.SetDefault("events.enabled", events.Enabled)
	v.SetDefault("events.addr", events.Addr)
	v.SetDefault("events.topic", events.Topic)
	v.SetDefault("events.group", events.Group)
	v.SetDefault("events.consumer", events.Consumer)
	v.SetDefault("events.partial-frames", events.PartialFrames)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.with-caller", false)
}

// NewViper returns a viper instance with defaults and environment binding.
// VOXCHAT_REALTIME_MAX_ATTEMPTS maps to realtime.max-attempts.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or config.yaml from the default directory when path is
// empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "read config %s", path)
		}
		return nil
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(DefaultDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	return nil
}

func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.BackendURL == "" {
		return errors.New("backend-url must not be empty")
	}
	if s.DailyLimit <= 0 {
		return errors.Errorf("daily-limit must be positive, got %d", s.DailyLimit)
	}
	if s.Realtime.MaxAttempts < 0 {
		return errors.Errorf("realtime.max-attempts must not be negative, got %d", s.Realtime.MaxAttempts)
	}
	switch strings.ToLower(s.Storage.Driver) {
	case "", kvstore.DriverMemory, kvstore.DriverSQLite, kvstore.DriverRedis:
	default:
		return errors.Errorf("unknown storage.driver %q", s.Storage.Driver)
	}
	return nil
}
