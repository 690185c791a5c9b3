package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ServerConfig points at the SAGE3 document-store server.
type ServerConfig struct {
	URL       string `yaml:"url" toml:"url" jsonschema:"required,description=Base HTTP URL of the SAGE3 server (e.g. http://localhost:3333)"`
	SocketURL string `yaml:"socket_url,omitempty" toml:"socket_url,omitempty" jsonschema:"description=WebSocket endpoint for subscriptions; derived from url when empty"`
	Token     string `yaml:"token,omitempty" toml:"token,omitempty" jsonschema:"description=Bearer token; defaults to the SAGE3_TOKEN environment variable"`
}

// KernelConfig points at the Jupyter-compatible kernel gateway.
type KernelConfig struct {
	URL                   string `yaml:"url" toml:"url" jsonschema:"required,description=Base URL of the kernel gateway"`
	TimeoutSeconds        int    `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty" jsonschema:"minimum=1,description=How long a submitted execution may stay pending (default 300)"`
	HealthIntervalSeconds int    `yaml:"health_interval_seconds,omitempty" toml:"health_interval_seconds,omitempty" jsonschema:"minimum=1,description=Kernel health check period (default 30)"`
}

// RedisConfig configures the Redis instance carrying kernel results.
type RedisConfig struct {
	Addr           string `yaml:"addr" toml:"addr" jsonschema:"description=host:port of the Redis server (default localhost:6379)"`
	Password       string `yaml:"password,omitempty" toml:"password,omitempty" jsonschema:"description=Redis password"`
	DB             int    `yaml:"db,omitempty" toml:"db,omitempty" jsonschema:"minimum=0,description=Redis database index"`
	ResultsChannel string `yaml:"results_channel,omitempty" toml:"results_channel,omitempty" jsonschema:"description=Pub/sub channel kernel results are published on (default jupyter_outputs)"`
}

// DaemonConfig holds timing knobs for the long-running proxy.
type DaemonConfig struct {
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds,omitempty" toml:"poll_interval_seconds,omitempty" jsonschema:"minimum=1,description=Period of the pending-execution sweep and liveness check (default 5)"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds,omitempty" toml:"shutdown_timeout_seconds,omitempty" jsonschema:"minimum=1,description=Bound on joining background work at exit (default 10)"`
	ReconnectDelaySeconds  int    `yaml:"reconnect_delay_seconds,omitempty" toml:"reconnect_delay_seconds,omitempty" jsonschema:"minimum=1,description=Delay between subscription reconnect attempts (default 2)"`
	DedupPolicy            string `yaml:"dedup_policy,omitempty" toml:"dedup_policy,omitempty" jsonschema:"enum=equality,enum=monotonic,description=How repeated document timestamps are filtered (default equality)"`
}

// Config is the root of foresight.yml / foresight.toml.
type Config struct {
	Version string       `yaml:"version,omitempty" toml:"version,omitempty" jsonschema:"description=Configuration version (e.g. '1.0')"`
	Server  ServerConfig `yaml:"server" toml:"server" jsonschema:"description=SAGE3 server connection"`
	Kernel  KernelConfig `yaml:"kernel" toml:"kernel" jsonschema:"description=Kernel gateway connection"`
	Redis   RedisConfig  `yaml:"redis" toml:"redis" jsonschema:"description=Redis connection for kernel results"`
	Daemon  DaemonConfig `yaml:"daemon,omitempty" toml:"daemon,omitempty" jsonschema:"description=Daemon timing"`
	Rooms   []string     `yaml:"rooms,omitempty" toml:"rooms,omitempty" jsonschema:"description=Only track apps in these rooms; all rooms when empty"`

	// Extensions captures all other top-level keys (e.g. logging).
	Extensions map[string]interface{} `yaml:",inline" toml:"-" jsonschema:"-"`
}

const (
	DefaultTokenEnv          = "SAGE3_TOKEN"
	DefaultResultsChannel    = "jupyter_outputs"
	DefaultRedisAddr         = "localhost:6379"
	DedupEquality            = "equality"
	DedupMonotonic           = "monotonic"
	defaultKernelTimeout     = 300
	defaultHealthInterval    = 30
	defaultPollInterval      = 5
	defaultShutdownTimeout   = 10
	defaultReconnectInterval = 2
)

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Server.Token == "" {
		c.Server.Token = os.Getenv(DefaultTokenEnv)
	}
	if c.Server.SocketURL == "" && c.Server.URL != "" {
		c.Server.SocketURL = deriveSocketURL(c.Server.URL)
	}
	if c.Kernel.TimeoutSeconds == 0 {
		c.Kernel.TimeoutSeconds = defaultKernelTimeout
	}
	if c.Kernel.HealthIntervalSeconds == 0 {
		c.Kernel.HealthIntervalSeconds = defaultHealthInterval
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.ResultsChannel == "" {
		c.Redis.ResultsChannel = DefaultResultsChannel
	}
	if c.Daemon.PollIntervalSeconds == 0 {
		c.Daemon.PollIntervalSeconds = defaultPollInterval
	}
	if c.Daemon.ShutdownTimeoutSeconds == 0 {
		c.Daemon.ShutdownTimeoutSeconds = defaultShutdownTimeout
	}
	if c.Daemon.ReconnectDelaySeconds == 0 {
		c.Daemon.ReconnectDelaySeconds = defaultReconnectInterval
	}
	if c.Daemon.DedupPolicy == "" {
		c.Daemon.DedupPolicy = DedupEquality
	}
}

func (c *Config) KernelTimeout() time.Duration {
	return time.Duration(c.Kernel.TimeoutSeconds) * time.Second
}

func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Kernel.HealthIntervalSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Daemon.PollIntervalSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Daemon.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Daemon.ReconnectDelaySeconds) * time.Second
}

// TracksRoom reports whether apps in roomID should be kept in the registry.
func (c *Config) TracksRoom(roomID string) bool {
	if len(c.Rooms) == 0 {
		return true
	}
	for _, r := range c.Rooms {
		if r == roomID {
			return true
		}
	}
	return false
}

// UnmarshalExtension decodes a specific extension's configuration from the
// loaded file into the provided target struct. The target must be a pointer.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		// A missing section leaves the target zero-valued.
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
