package convsocket

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix of every environment variable read by LoadConfig.
const EnvPrefix = "CONVSOCKET"

// Config holds client configuration loaded from the environment.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Heartbeat HeartbeatConfig `envconfig:"HEARTBEAT"`
	Reconnect ReconnectConfig `envconfig:"RECONNECT"`
	Logging   LogConfig       `envconfig:"LOG"`
}

// ServerConfig holds backend connection configuration.
type ServerConfig struct {
	Addr         string        `envconfig:"ADDR" default:"localhost:8000"`
	APIVersion   string        `envconfig:"API_VERSION" default:"v1"`
	Secure       bool          `envconfig:"SECURE" default:"false"`
	Token        string        `envconfig:"TOKEN"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
}

// HeartbeatConfig holds liveness detection configuration.
type HeartbeatConfig struct {
	Interval time.Duration `envconfig:"INTERVAL" default:"25s"`
	Timeout  time.Duration `envconfig:"TIMEOUT" default:"45s"`
}

// ReconnectConfig holds reconnection configuration.
type ReconnectConfig struct {
	Enabled     bool          `envconfig:"ENABLED" default:"true"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"1s"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"5m"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"info"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// LoadConfig loads configuration from CONVSOCKET_* environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("convsocket: load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         DefaultHost,
			APIVersion:   DefaultAPIVersion,
			WriteTimeout: DefaultWriteTimeout,
		},
		Heartbeat: HeartbeatConfig{
			Interval: DefaultPingInterval,
			Timeout:  DefaultPongTimeout,
		},
		Reconnect: ReconnectConfig{
			Enabled:     true,
			BaseDelay:   DefaultReconnectDelay,
			MaxDelay:    DefaultReconnectMaxDelay,
			MaxAttempts: DefaultMaxReconnectAttempts,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks the values a Client cannot work with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("convsocket: server address is required")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("convsocket: heartbeat interval must be positive")
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("convsocket: heartbeat timeout %s must exceed interval %s",
			c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("convsocket: reconnect base delay must be positive")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("convsocket: reconnect max attempts must not be negative")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("convsocket: write timeout must be positive")
	}
	return nil
}

// Options converts the configuration into client options. Options given to
// New after these take precedence.
func (c *Config) Options() []ClientOption {
	opts := []ClientOption{
		WithHost(c.Server.Addr),
		WithAPIVersion(c.Server.APIVersion),
		WithSecure(c.Server.Secure),
		WithWriteTimeout(c.Server.WriteTimeout),
		WithHeartbeat(c.Heartbeat.Interval, c.Heartbeat.Timeout),
		WithAutoReconnect(c.Reconnect.Enabled),
		WithReconnectDelay(c.Reconnect.BaseDelay),
		WithReconnectMaxDelay(c.Reconnect.MaxDelay),
		WithMaxReconnectAttempts(c.Reconnect.MaxAttempts),
	}
	if c.Server.Token != "" {
		opts = append(opts, WithTokenProvider(StaticToken(c.Server.Token)))
	}
	return opts
}

// NewLogger builds a zap logger from the logging configuration.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("convsocket: log level: %w", err)
	}

	var zc zap.Config
	if c.Logging.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}
