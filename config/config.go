// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment configuration for the application.
type Config struct {
	Port           string        `env:"PORT"              envDefault:"8080"`
	BaseURL        string        `env:"APP_BASE_URL"      envDefault:"http://localhost:8080"`
	AllowedOrigins string        `env:"ALLOWED_ORIGINS"   envDefault:"*"`
	BodyLimitMB    int           `env:"BODY_LIMIT_MB"     envDefault:"4"`
	RateLimitMax   int           `env:"RATE_LIMIT_MAX"    envDefault:"60"`
	RateLimitWin   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"60s"`
	LogLevel       string        `env:"LOG_LEVEL"         envDefault:"info"`
	JWTSecret      string        `env:"JWT_SECRET_KEY,required,notEmpty"`
	JWTTTL         time.Duration `env:"JWT_TTL"           envDefault:"24h"`
	AdminUsername  string        `env:"ADMIN_USERNAME"`
	AdminPassword  string        `env:"ADMIN_PASSWORD"`

	Database  Database  `envPrefix:"DB_"`
	Email     Email     `envPrefix:"EMAIL_"`
	Worker    Worker    `envPrefix:"WORKER_"`
	Reaper    Reaper    `envPrefix:"IDEMPOTENCY_"`
	Telemetry Telemetry `envPrefix:"OTEL_"`
}

// Database holds the Postgres connection settings.
type Database struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"postgres"`
	Password string `env:"PASSWORD" envDefault:"password"`
	Name     string `env:"NAME"     envDefault:"newsletter"`
	SSLMode  string `env:"SSLMODE"  envDefault:"disable"`
	// ClaimLockTimeout bounds how long a publish waits on a concurrent claimant of the same key.
	ClaimLockTimeout time.Duration `env:"CLAIM_LOCK_TIMEOUT" envDefault:"2s"`
}

// DSN renders the settings as a libpq keyword/value connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// Email configures the outbound email API.
type Email struct {
	BaseURL            string        `env:"BASE_URL" envDefault:"http://localhost:8081"`
	Sender             string        `env:"SENDER"   envDefault:"newsletter@example.com"`
	AuthorizationToken string        `env:"AUTHORIZATION_TOKEN"`
	Timeout            time.Duration `env:"TIMEOUT"  envDefault:"10s"`
}

// Worker configures the issue delivery loop.
type Worker struct {
	IdleBackoff  time.Duration `env:"IDLE_BACKOFF"  envDefault:"10s"`
	ErrorBackoff time.Duration `env:"ERROR_BACKOFF" envDefault:"1s"`
	TaskTimeout  time.Duration `env:"TASK_TIMEOUT"  envDefault:"30s"`
}

// Reaper configures removal of old idempotency records.
type Reaper struct {
	Retention time.Duration `env:"RETENTION"     envDefault:"120h"`
	Interval  time.Duration `env:"REAP_INTERVAL" envDefault:"24h"`
}

// Telemetry configures trace export over OTLP/gRPC.
type Telemetry struct {
	Enabled           bool   `env:"ENABLED"                envDefault:"false"`
	CollectorEndpoint string `env:"EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName       string `env:"SERVICE_NAME"           envDefault:"newsletter-backend"`
}

// LoadConfig reads an optional .env file and parses the environment into Config.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BodyLimitMB <= 0 {
		return fmt.Errorf("BODY_LIMIT_MB must be positive, got %d", c.BodyLimitMB)
	}
	if c.Worker.IdleBackoff <= 0 || c.Worker.ErrorBackoff <= 0 || c.Worker.TaskTimeout <= 0 {
		return errors.New("worker backoffs and task timeout must be positive")
	}
	if c.Reaper.Retention <= 0 || c.Reaper.Interval <= 0 {
		return errors.New("idempotency retention and reap interval must be positive")
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		return errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	}
	return nil
}
