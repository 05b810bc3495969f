package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the relay.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Relay      RelayConfig      `yaml:"relay"`
	Store      StoreConfig      `yaml:"store"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the public listener settings.
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// RelayConfig contains the presence and broadcast engine settings.
type RelayConfig struct {
	GracePeriod    time.Duration `yaml:"grace_period"`
	HistoryLimit   int           `yaml:"history_limit"` // 0 = unbounded
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// StoreConfig contains roster persistence settings.
type StoreConfig struct {
	RosterFile string `yaml:"roster_file"`
}

// SecurityConfig contains rate limiting and connection limit settings.
type SecurityConfig struct {
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	MaxConnections      int             `yaml:"max_connections"`
	MaxConnectionsPerIP int             `yaml:"max_connections_per_ip"`
}

// RateLimitConfig contains rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	MessagesPerSecond int  `yaml:"messages_per_second"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	TailSize   int    `yaml:"tail_size"` // recent entries kept for the /logs endpoint, 0 disables
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress: "0.0.0.0:8090",
			DrainTimeout:  15 * time.Second,
		},
		Relay: RelayConfig{
			GracePeriod:    30 * time.Second,
			HistoryLimit:   1000,
			MaxMessageSize: 262144, // 256KB
			WriteTimeout:   10 * time.Second,
			PingInterval:   30 * time.Second,
			PongTimeout:    10 * time.Second,
		},
		Store: StoreConfig{
			RosterFile: "roster.json",
		},
		Security: SecurityConfig{
			MaxConnections:      1000,
			MaxConnectionsPerIP: 10,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				MessagesPerSecond: 50,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
			TailSize:   500,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8091",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads an optional config file and applies environment variable
// overrides. An empty path loads defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address is required")
	}
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return fmt.Errorf("server.listen_address is invalid: %w", err)
	}
	if c.Server.DrainTimeout <= 0 {
		return fmt.Errorf("server.drain_timeout must be positive")
	}

	if c.Relay.GracePeriod <= 0 {
		return fmt.Errorf("relay.grace_period must be positive")
	}
	if c.Relay.HistoryLimit < 0 {
		return fmt.Errorf("relay.history_limit must not be negative")
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be positive")
	}
	if c.Relay.MaxMessageSize > 16777216 {
		return fmt.Errorf("relay.max_message_size must not exceed 16777216 (16MB)")
	}
	if c.Relay.WriteTimeout <= 0 {
		return fmt.Errorf("relay.write_timeout must be positive")
	}
	if c.Relay.PingInterval < 0 || c.Relay.PongTimeout < 0 {
		return fmt.Errorf("relay keepalive intervals must not be negative")
	}

	if c.Store.RosterFile == "" {
		return fmt.Errorf("store.roster_file is required")
	}

	if c.Security.MaxConnections <= 0 {
		return fmt.Errorf("security.max_connections must be positive")
	}
	if c.Security.MaxConnections > 65535 {
		return fmt.Errorf("security.max_connections must not exceed 65535")
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("security.max_connections_per_ip must be positive")
	}
	if c.Security.MaxConnectionsPerIP > c.Security.MaxConnections {
		return fmt.Errorf("security.max_connections_per_ip must not exceed security.max_connections")
	}
	if c.Security.RateLimit.Enabled {
		if c.Security.RateLimit.RequestsPerMinute <= 0 {
			return fmt.Errorf("security.rate_limit.requests_per_minute must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.TailSize < 0 {
		return fmt.Errorf("logging.tail_size must be >= 0")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		if c.Server.ListenAddress == c.Health.ListenAddress {
			return fmt.Errorf("server.listen_address and health.listen_address must be different")
		}
	}

	return nil
}

// applyEnvOverrides applies CHATRELAY_ prefixed environment variables.
// Convention: CHATRELAY_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"CHATRELAY_SERVER_LISTEN_ADDRESS":        func(v string) { cfg.Server.ListenAddress = v },
		"CHATRELAY_SERVER_DRAIN_TIMEOUT":         func(v string) { cfg.Server.DrainTimeout = parseDuration(v, cfg.Server.DrainTimeout) },
		"CHATRELAY_RELAY_GRACE_PERIOD":           func(v string) { cfg.Relay.GracePeriod = parseDuration(v, cfg.Relay.GracePeriod) },
		"CHATRELAY_RELAY_HISTORY_LIMIT":          func(v string) { cfg.Relay.HistoryLimit = parseInt(v, cfg.Relay.HistoryLimit) },
		"CHATRELAY_RELAY_MAX_MESSAGE_SIZE":       func(v string) { cfg.Relay.MaxMessageSize = parseInt64(v, cfg.Relay.MaxMessageSize) },
		"CHATRELAY_RELAY_WRITE_TIMEOUT":          func(v string) { cfg.Relay.WriteTimeout = parseDuration(v, cfg.Relay.WriteTimeout) },
		"CHATRELAY_RELAY_PING_INTERVAL":          func(v string) { cfg.Relay.PingInterval = parseDuration(v, cfg.Relay.PingInterval) },
		"CHATRELAY_RELAY_PONG_TIMEOUT":           func(v string) { cfg.Relay.PongTimeout = parseDuration(v, cfg.Relay.PongTimeout) },
		"CHATRELAY_STORE_ROSTER_FILE":            func(v string) { cfg.Store.RosterFile = v },
		"CHATRELAY_SECURITY_MAX_CONNECTIONS":     func(v string) { cfg.Security.MaxConnections = parseInt(v, cfg.Security.MaxConnections) },
		"CHATRELAY_SECURITY_MAX_CONNECTIONS_PER_IP": func(v string) {
			cfg.Security.MaxConnectionsPerIP = parseInt(v, cfg.Security.MaxConnectionsPerIP)
		},
		"CHATRELAY_SECURITY_RATE_LIMIT_ENABLED": func(v string) { cfg.Security.RateLimit.Enabled = parseBool(v, cfg.Security.RateLimit.Enabled) },
		"CHATRELAY_SECURITY_RATE_LIMIT_REQUESTS_PER_MINUTE": func(v string) {
			cfg.Security.RateLimit.RequestsPerMinute = parseInt(v, cfg.Security.RateLimit.RequestsPerMinute)
		},
		"CHATRELAY_SECURITY_RATE_LIMIT_MESSAGES_PER_SECOND": func(v string) {
			cfg.Security.RateLimit.MessagesPerSecond = parseInt(v, cfg.Security.RateLimit.MessagesPerSecond)
		},
		"CHATRELAY_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"CHATRELAY_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"CHATRELAY_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"CHATRELAY_HEALTH_ENABLED":        func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"CHATRELAY_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
		"CHATRELAY_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with the hot-reloadable
// fields taken from newCfg. The receiver is never mutated: handlers may
// still be reading through it, so the caller swaps the returned copy in
// atomically. Non-reloadable: listen addresses, store path, health
// listener.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	merged := *c
	merged.Security.RateLimit = newCfg.Security.RateLimit
	merged.Security.MaxConnections = newCfg.Security.MaxConnections
	merged.Security.MaxConnectionsPerIP = newCfg.Security.MaxConnectionsPerIP
	merged.Relay.GracePeriod = newCfg.Relay.GracePeriod
	merged.Relay.MaxMessageSize = newCfg.Relay.MaxMessageSize
	merged.Logging.Level = newCfg.Logging.Level
	return &merged
}

// IsReloadSafe reports which changed fields require a restart.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.ListenAddress != new.Server.ListenAddress {
		warnings = append(warnings, "server.listen_address requires restart")
	}
	if old.Store.RosterFile != new.Store.RosterFile {
		warnings = append(warnings, "store.roster_file requires restart")
	}
	if old.Relay.HistoryLimit != new.Relay.HistoryLimit {
		warnings = append(warnings, "relay.history_limit requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt64(s string, fallback int64) int64 {
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
