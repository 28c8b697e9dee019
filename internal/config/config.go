// Package config loads the service configuration: defaults, then an optional YAML file,
// then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServiceConfig struct {
	Name            string        `yaml:"name"`
	Version         string        `yaml:"version"`
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// DSN renders a postgres:// URL understood by both pgx and lib/pq.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	Issuer            string        `yaml:"issuer"`
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl"`
	BootstrapEmail    string        `yaml:"bootstrap_email"`
	BootstrapPassword string        `yaml:"bootstrap_password"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether order events should be published.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Enabled reports whether the product cache should be used.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Default returns the configuration used when nothing else is provided.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Name:            "stockroom",
			Version:         "1.0.0",
			Port:            "8080",
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "root",
			Password:        "pass",
			Name:            "stockroom",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			LockTimeout:     5 * time.Second,
			ConnectAttempts: 30,
			MigrateOnStart:  true,
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me",
			Issuer:         "stockroom",
			AccessTokenTTL: 30 * time.Minute,
		},
		Kafka: KafkaConfig{Topic: "stockroom.orders"},
		Redis: RedisConfig{TTL: 5 * time.Minute},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4318",
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Service.Name = getEnv("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Port = getEnv("PORT", cfg.Service.Port)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.Database.Host = getEnv("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DATABASE_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DATABASE_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnv("DATABASE_SSLMODE", cfg.Database.SSLMode)

	if v := os.Getenv("DATABASE_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DATABASE_LOCK_TIMEOUT: %w", err)
		}
		cfg.Database.LockTimeout = d
	}
	if v := os.Getenv("DATABASE_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DATABASE_MIGRATE: %w", err)
		}
		cfg.Database.MigrateOnStart = b
	}

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.BootstrapEmail = getEnv("BOOTSTRAP_ADMIN_EMAIL", cfg.Auth.BootstrapEmail)
	cfg.Auth.BootstrapPassword = getEnv("BOOTSTRAP_ADMIN_PASSWORD", cfg.Auth.BootstrapPassword)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
		cfg.Telemetry.Enabled = true
	}
	return nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var problems []string

	if c.Service.Port == "" {
		problems = append(problems, "service.port is required")
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		problems = append(problems, "database.host and database.name are required")
	}
	if c.Database.MaxConns <= 0 {
		problems = append(problems, "database.max_conns must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		problems = append(problems, "database.min_conns must be between 0 and max_conns")
	}
	if c.Database.LockTimeout < 0 {
		problems = append(problems, "database.lock_timeout must not be negative")
	}
	if c.Auth.JWTSecret == "" {
		problems = append(problems, "auth.jwt_secret is required")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		problems = append(problems, "auth.access_token_ttl must be positive")
	}
	if (c.Auth.BootstrapEmail == "") != (c.Auth.BootstrapPassword == "") {
		problems = append(problems, "auth.bootstrap_email and auth.bootstrap_password go together")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		problems = append(problems, "kafka.topic is required when brokers are set")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
