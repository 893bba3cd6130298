package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "COACHSYNC"

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Account  AccountConfig  `mapstructure:"account"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type             string      `mapstructure:"type"`
	Redis            RedisConfig `mapstructure:"redis"`
	ProfileCacheSize int         `mapstructure:"profile_cache_size"`
	PresenceTTL      string      `mapstructure:"presence_ttl"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RealtimeConfig defines the change-event channel
type RealtimeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// NotifyConfig defines unread badge aggregation settings
type NotifyConfig struct {
	BadgeThreshold  int    `mapstructure:"badge_threshold"`
	CoalesceRefresh bool   `mapstructure:"coalesce_refresh"`
	FetchTimeout    string `mapstructure:"fetch_timeout"`
	SubscribeKind   string `mapstructure:"subscribe_kind"`
}

// AccountConfig identifies the signed-in user
type AccountConfig struct {
	UserID string `mapstructure:"user_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only with default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.profile_cache_size", 256)
	v.SetDefault("storage.presence_ttl", "2m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Realtime defaults
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.channel_prefix", "coachsync:events")

	// Notify defaults
	v.SetDefault("notify.badge_threshold", 10)
	v.SetDefault("notify.coalesce_refresh", true)
	v.SetDefault("notify.fetch_timeout", "0s")
	v.SetDefault("notify.subscribe_kind", "message_inserted")

	// Account defaults
	v.SetDefault("account.user_id", "")
}

func isNotFound(err error) bool {
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return true
	}
	// SetConfigFile with a missing path surfaces the os error instead
	return errors.Is(err, fs.ErrNotExist)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.Storage.Type != "redis" {
		return fmt.Errorf("unsupported storage type: %s (only 'redis' is supported)", cfg.Storage.Type)
	}
	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}
	if cfg.Storage.ProfileCacheSize <= 0 {
		return fmt.Errorf("storage.profile_cache_size must be positive: %d", cfg.Storage.ProfileCacheSize)
	}

	for name, value := range map[string]string{
		"storage.redis.dial_timeout":  cfg.Storage.Redis.DialTimeout,
		"storage.redis.read_timeout":  cfg.Storage.Redis.ReadTimeout,
		"storage.redis.write_timeout": cfg.Storage.Redis.WriteTimeout,
		"storage.presence_ttl":        cfg.Storage.PresenceTTL,
		"notify.fetch_timeout":        cfg.Notify.FetchTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	if cfg.Realtime.Enabled && cfg.Realtime.ChannelPrefix == "" {
		return fmt.Errorf("realtime.channel_prefix is required when realtime is enabled")
	}

	return nil
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
