package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Service  ServiceConfig  `mapstructure:"service"`
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Quantity QuantityConfig `mapstructure:"quantity"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend: "postgres" or "memory"
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	SSLMode     string        `mapstructure:"sslmode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxConnTime time.Duration `mapstructure:"max_conn_time"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	HealthCheck time.Duration `mapstructure:"health_check"`
}

// RedisConfig enables the distributed order lock when Addr is set
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// NATSConfig enables domain event publishing to NATS when URL is set
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// KafkaConfig enables domain event publishing to Kafka when Brokers is set
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// QuantityConfig holds the rounding precision applied at the input boundary
type QuantityConfig struct {
	MeasuredPrecision int32 `mapstructure:"measured_precision"`
	DiscretePrecision int32 `mapstructure:"discrete_precision"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

var defaults = map[string]any{
	"service.name":                "scm-fulfillment",
	"service.version":             "dev",
	"service.environment":         "development",
	"server.port":                 8086,
	"server.grpc_port":            9086,
	"server.read_timeout":         15 * time.Second,
	"server.write_timeout":        15 * time.Second,
	"server.idle_timeout":         60 * time.Second,
	"server.shutdown_timeout":     20 * time.Second,
	"store.driver":                "postgres",
	"database.url":                "",
	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.database":           "scm",
	"database.sslmode":            "disable",
	"database.max_conns":          10,
	"database.min_conns":          2,
	"database.max_conn_time":      time.Hour,
	"database.max_idle_time":      30 * time.Minute,
	"database.health_check":       time.Minute,
	"redis.addr":                  "",
	"redis.password":              "",
	"redis.db":                    0,
	"redis.lock_ttl":              10 * time.Second,
	"nats.url":                    "",
	"nats.subject_prefix":         "scm.fulfillment",
	"kafka.brokers":               "",
	"kafka.topic":                 "scm.fulfillment.events",
	"quantity.measured_precision": 3,
	"quantity.discrete_precision": 0,
	"log.level":                   "info",
}

// Load reads configuration from the environment. SERVER_PORT maps to
// server.port, DATABASE_URL to database.url and so on.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	if c.Quantity.MeasuredPrecision < 0 || c.Quantity.DiscretePrecision < 0 {
		return fmt.Errorf("quantity precision cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	return nil
}

// DSN returns the Postgres connection string, preferring database.url
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
