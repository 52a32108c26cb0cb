package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the diagnostic daemon
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Bus       BusConfig       `mapstructure:"bus"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Audit     AuditConfig     `mapstructure:"audit"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the metrics listener configuration
type ServerConfig struct {
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// BusConfig holds the vehicle bus channel configuration
type BusConfig struct {
	// Driver selects the transport: "socketcan" or "sim".
	Driver    string `mapstructure:"driver"`
	Interface string `mapstructure:"interface"`
	QueueSize int    `mapstructure:"queue_size"`
}

// ProtocolConfig holds diagnostic request tuning
type ProtocolConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Retries        int           `mapstructure:"retries"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	// InMemory bypasses postgres entirely; intended for bench setups.
	InMemory bool `mapstructure:"in_memory"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig holds Redis configuration for rate limiting
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// NATSConfig holds the audit stream publisher configuration
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// AuditConfig holds audit trail signing settings
type AuditConfig struct {
	SigningKey string `mapstructure:"signing_key"`
}

// RateLimitConfig holds per-session command rate limits
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DSN builds a pgx connection string from the postgres settings
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.metrics_port", 9205)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("bus.driver", "socketcan")
	v.SetDefault("bus.interface", "can0")
	v.SetDefault("bus.queue_size", 256)

	v.SetDefault("protocol.request_timeout", "500ms")
	v.SetDefault("protocol.retries", 3)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "diagcore")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "diagcore")
	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("audit.signing_key", "")

	v.SetDefault("rate_limit.limit", 30)
	v.SetDefault("rate_limit.window", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("DIAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
