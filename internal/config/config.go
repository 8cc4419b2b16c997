package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all service configuration, loaded from environment variables.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
}

// ServiceConfig identifies the service instance.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-capital-ledger"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `env:"SERVER_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD" envDefault:"postgres"`
	Database    string        `env:"DB_NAME" envDefault:"capital_ledger"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	MaxIdleTime time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
}

// NATSConfig holds the event-publisher settings. An empty URL disables
// publishing entirely.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"capital"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
