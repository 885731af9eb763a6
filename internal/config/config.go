// ABOUTME: Configuration loading and parsing for the fleet dashboard server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fleetd configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Channel  ChannelConfig  `yaml:"channel"`
	Cache    CacheConfig    `yaml:"cache"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	AgentKey  string `yaml:"agent_key"`

	// AdminUser/AdminPassword seed the initial dashboard account on first
	// start. Existing accounts are never overwritten.
	AdminUser     string        `yaml:"admin_user"`
	AdminPassword string        `yaml:"admin_password"`
	TokenTTL      time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// PresenceConfig holds liveness timing configuration.
// The staleness threshold should be a generous multiple of the agent
// report interval so a single missed heartbeat never flaps an agent
// offline.
type PresenceConfig struct {
	StalenessThreshold time.Duration `yaml:"-"`
	SweepInterval      time.Duration `yaml:"-"`
	ReportInterval     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	StalenessThresholdRaw string `yaml:"staleness_threshold"`
	SweepIntervalRaw      string `yaml:"sweep_interval"`
	ReportIntervalRaw     string `yaml:"report_interval"`
}

// ChannelConfig holds transport channel admission and rate limiting settings
type ChannelConfig struct {
	MaxPerAddress  int `yaml:"max_per_address"`
	MessagesPerSec int `yaml:"messages_per_sec"`
}

// CacheConfig holds read-through cache TTLs for hot fleet queries
type CacheConfig struct {
	ListTTL  time.Duration `yaml:"-"`
	StatsTTL time.Duration `yaml:"-"`

	ListTTLRaw  string `yaml:"list_ttl"`
	StatsTTLRaw string `yaml:"stats_ttl"`
}

// StreamConfig holds screen streaming defaults and bounds
type StreamConfig struct {
	DefaultFPS     int `yaml:"default_fps"`
	MinFPS         int `yaml:"min_fps"`
	MaxFPS         int `yaml:"max_fps"`
	DefaultQuality int `yaml:"default_quality"`
	MinQuality     int `yaml:"min_quality"`
	MaxQuality     int `yaml:"max_quality"`
	MaxFrameBytes  int `yaml:"max_frame_bytes"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default tunables. YAML values override these; zero values never leak
// into the running server.
const (
	DefaultHTTPAddr           = "0.0.0.0:3001"
	DefaultMaxPerAddress      = 10
	DefaultMessagesPerSec     = 30
	DefaultStalenessThreshold = 5 * time.Minute
	DefaultSweepInterval      = time.Minute
	DefaultReportInterval     = 10 * time.Second
	DefaultListTTL            = 3 * time.Second
	DefaultStatsTTL           = 5 * time.Second
	DefaultTokenTTL           = 12 * time.Hour

	DefaultStreamFPS     = 5
	MinStreamFPS         = 2
	MaxStreamFPS         = 10
	DefaultStreamQuality = 40
	MinStreamQuality     = 15
	MaxStreamQuality     = 60
	DefaultMaxFrameBytes = 150000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied and an
// in-memory database. Used by tests and by `fleetd run` when no config
// file exists yet.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Path = ":memory:"
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Channel.MaxPerAddress == 0 {
		c.Channel.MaxPerAddress = DefaultMaxPerAddress
	}
	if c.Channel.MessagesPerSec == 0 {
		c.Channel.MessagesPerSec = DefaultMessagesPerSec
	}
	if c.Presence.StalenessThreshold == 0 {
		c.Presence.StalenessThreshold = DefaultStalenessThreshold
	}
	if c.Presence.SweepInterval == 0 {
		c.Presence.SweepInterval = DefaultSweepInterval
	}
	if c.Presence.ReportInterval == 0 {
		c.Presence.ReportInterval = DefaultReportInterval
	}
	if c.Cache.ListTTL == 0 {
		c.Cache.ListTTL = DefaultListTTL
	}
	if c.Cache.StatsTTL == 0 {
		c.Cache.StatsTTL = DefaultStatsTTL
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Stream.DefaultFPS == 0 {
		c.Stream.DefaultFPS = DefaultStreamFPS
	}
	if c.Stream.MinFPS == 0 {
		c.Stream.MinFPS = MinStreamFPS
	}
	if c.Stream.MaxFPS == 0 {
		c.Stream.MaxFPS = MaxStreamFPS
	}
	if c.Stream.DefaultQuality == 0 {
		c.Stream.DefaultQuality = DefaultStreamQuality
	}
	if c.Stream.MinQuality == 0 {
		c.Stream.MinQuality = MinStreamQuality
	}
	if c.Stream.MaxQuality == 0 {
		c.Stream.MaxQuality = MaxStreamQuality
	}
	if c.Stream.MaxFrameBytes == 0 {
		c.Stream.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Channel.MaxPerAddress < 1 {
		return fmt.Errorf("channel.max_per_address must be at least 1")
	}
	if c.Channel.MessagesPerSec < 1 {
		return fmt.Errorf("channel.messages_per_sec must be at least 1")
	}

	if c.Presence.StalenessThreshold <= c.Presence.ReportInterval {
		return fmt.Errorf("presence.staleness_threshold (%s) must exceed presence.report_interval (%s)",
			c.Presence.StalenessThreshold, c.Presence.ReportInterval)
	}

	if c.Stream.MinFPS > c.Stream.MaxFPS {
		return fmt.Errorf("stream.min_fps must not exceed stream.max_fps")
	}
	if c.Stream.MinQuality > c.Stream.MaxQuality {
		return fmt.Errorf("stream.min_quality must not exceed stream.max_quality")
	}
	if c.Stream.DefaultFPS < c.Stream.MinFPS || c.Stream.DefaultFPS > c.Stream.MaxFPS {
		return fmt.Errorf("stream.default_fps %d outside [%d, %d]",
			c.Stream.DefaultFPS, c.Stream.MinFPS, c.Stream.MaxFPS)
	}
	if c.Stream.DefaultQuality < c.Stream.MinQuality || c.Stream.DefaultQuality > c.Stream.MaxQuality {
		return fmt.Errorf("stream.default_quality %d outside [%d, %d]",
			c.Stream.DefaultQuality, c.Stream.MinQuality, c.Stream.MaxQuality)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Presence.StalenessThresholdRaw, "presence.staleness_threshold", &cfg.Presence.StalenessThreshold},
		{cfg.Presence.SweepIntervalRaw, "presence.sweep_interval", &cfg.Presence.SweepInterval},
		{cfg.Presence.ReportIntervalRaw, "presence.report_interval", &cfg.Presence.ReportInterval},
		{cfg.Cache.ListTTLRaw, "cache.list_ttl", &cfg.Cache.ListTTL},
		{cfg.Cache.StatsTTLRaw, "cache.stats_ttl", &cfg.Cache.StatsTTL},
		{cfg.Auth.TokenTTLRaw, "auth.token_ttl", &cfg.Auth.TokenTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
