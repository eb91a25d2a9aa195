package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"pier2pier.dev/go/pier2pier/internal/chat"
	"pier2pier.dev/go/pier2pier/internal/identity"
	"pier2pier.dev/go/pier2pier/internal/logging"
	"pier2pier.dev/go/pier2pier/internal/transport/direct"
)

// Config represents the pier2pier configuration file
type Config struct {
	Identity  IdentityConfig  `toml:"identity"`
	Storage   StorageConfig   `toml:"storage"`
	Transport TransportConfig `toml:"transport"`
	Chat      ChatConfig      `toml:"chat"`
	Logging   LoggingConfig   `toml:"logging"`
}

// IdentityConfig contains identity-related settings
type IdentityConfig struct {
	User string `toml:"user"` // empty selects the default identity
}

// StorageConfig contains message store settings
type StorageConfig struct {
	DataDir string `toml:"data_dir"` // empty selects <config dir>/data
}

// TransportConfig contains direct link settings
type TransportConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	AdvertiseHost  string `toml:"advertise_host"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// ChatConfig contains inbound message limits
type ChatConfig struct {
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text, json
}

// Default returns a config with sensible defaults
func Default() *Config {
	limits := chat.DefaultRateLimitConfig()
	return &Config{
		Transport: TransportConfig{
			ListenAddr:     direct.DefaultConfig().ListenAddr,
			ConnectTimeout: direct.DefaultConfig().ConnectTimeout.String(),
		},
		Chat: ChatConfig{
			MessagesPerSecond: limits.MessagesPerSecond,
			Burst:             limits.Burst,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, errors.Wrap(err, "get paths")
	}

	return LoadFrom(paths.ConfigFile)
}

// LoadFrom loads the configuration from a specific file
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if no config file exists
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config")
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown config key %q", undecoded[0].String())
	}

	return cfg, nil
}

// Save saves the configuration to the default config file
func (c *Config) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return errors.Wrap(err, "get paths")
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	return c.SaveTo(paths.ConfigFile)
}

// SaveTo saves the configuration to a specific file
func (c *Config) SaveTo(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return errors.Wrap(err, "create config file")
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "encode config")
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := identity.Normalize(c.Identity.User); err != nil {
		return errors.Wrap(err, "identity.user")
	}

	if _, err := c.ConnectTimeout(); err != nil {
		return err
	}

	if c.Chat.MessagesPerSecond <= 0 {
		return errors.Errorf("invalid chat rate: %v", c.Chat.MessagesPerSecond)
	}
	if c.Chat.Burst < 1 {
		return errors.Errorf("invalid chat burst: %d", c.Chat.Burst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return errors.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return errors.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

// ConnectTimeout parses transport.connect_timeout.
func (c *Config) ConnectTimeout() (time.Duration, error) {
	if c.Transport.ConnectTimeout == "" {
		return direct.DefaultConfig().ConnectTimeout, nil
	}
	d, err := time.ParseDuration(c.Transport.ConnectTimeout)
	if err != nil || d <= 0 {
		return 0, errors.Errorf("invalid connect timeout: %q", c.Transport.ConnectTimeout)
	}
	return d, nil
}

// DirectConfig returns the direct transport settings.
func (c *Config) DirectConfig() direct.Config {
	timeout, err := c.ConnectTimeout()
	if err != nil {
		timeout = direct.DefaultConfig().ConnectTimeout
	}
	return direct.Config{
		ListenAddr:     c.Transport.ListenAddr,
		AdvertiseHost:  c.Transport.AdvertiseHost,
		ConnectTimeout: timeout,
	}
}

// RateLimit returns the inbound chat limits.
func (c *Config) RateLimit() chat.RateLimitConfig {
	limits := chat.DefaultRateLimitConfig()
	limits.MessagesPerSecond = c.Chat.MessagesPerSecond
	limits.Burst = c.Chat.Burst
	return limits
}

// LogConfig returns the logger settings.
func (c *Config) LogConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}
