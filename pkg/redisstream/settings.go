package redisstream

// Settings selects the Watermill transport for UI events. When Enabled is
// false the in-process GoChannel pub/sub is used.
type Settings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`

	// PartialFrames also publishes every typing step, not only final frames.
	PartialFrames bool `mapstructure:"partial-frames" yaml:"partial-frames"`
}

const DefaultTopic = "voxchat.events"

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Topic:    DefaultTopic,
		Group:    "voxchat-ui",
		Consumer: "ui-1",
	}
}
