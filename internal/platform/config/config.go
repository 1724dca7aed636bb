// Package config loads service configuration from an optional .env file, an
// optional YAML file and the process environment, in that order of
// precedence (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Server     ServerConfig     `yaml:"server"`
	GRPC       GRPCConfig       `yaml:"grpc"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Staff      StaffConfig      `yaml:"staff"`
	Commission CommissionConfig `yaml:"commission"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	User        string        `yaml:"user"`
	Password    string        `yaml:"password"`
	Database    string        `yaml:"database"`
	SSLMode     string        `yaml:"ssl_mode"`
	MaxConns    int32         `yaml:"max_conns"`
	MinConns    int32         `yaml:"min_conns"`
	MaxConnTime time.Duration `yaml:"max_conn_time"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	HealthCheck time.Duration `yaml:"health_check"`
}

// RedisConfig configures the idempotency store. An empty Addr disables it.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

// NATSConfig configures event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// StaffConfig points at the staff directory gRPC service. An empty URL
// disables participant lookups.
type StaffConfig struct {
	GRPCURL string `yaml:"grpc_url"`
}

type CommissionConfig struct {
	OfficeFraction string `yaml:"office_fraction"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "be-commissions",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8086,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
		},
		GRPC: GRPCConfig{Port: 9086},
		Database: DatabaseConfig{
			Host:        "localhost",
			Port:        5432,
			User:        "postgres",
			Database:    "commissions",
			SSLMode:     "disable",
			MaxConns:    10,
			MinConns:    2,
			MaxConnTime: time.Hour,
			MaxIdleTime: 30 * time.Minute,
			HealthCheck: time.Minute,
		},
		Redis:      RedisConfig{IdempotencyTTL: 24 * time.Hour},
		NATS:       NATSConfig{SubjectPrefix: "brokerage"},
		Commission: CommissionConfig{OfficeFraction: "0.5"},
		RateLimit:  RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set)
// and then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.Service.Name, "SERVICE_NAME")
	setString(&c.Service.Version, "SERVICE_VERSION")
	setString(&c.Service.Environment, "ENVIRONMENT")
	setString(&c.Service.LogLevel, "LOG_LEVEL")

	if err = setInt(&c.Server.Port, "HTTP_PORT"); err != nil {
		return err
	}
	if err = setDuration(&c.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}
	if err = setDuration(&c.Server.RequestTimeout, "REQUEST_TIMEOUT"); err != nil {
		return err
	}
	if err = setInt(&c.GRPC.Port, "GRPC_PORT"); err != nil {
		return err
	}

	setString(&c.Database.Host, "DB_HOST")
	if err = setInt(&c.Database.Port, "DB_PORT"); err != nil {
		return err
	}
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSLMODE")

	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	if err = setInt(&c.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	if err = setDuration(&c.Redis.IdempotencyTTL, "IDEMPOTENCY_TTL"); err != nil {
		return err
	}

	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")
	setString(&c.Staff.GRPCURL, "STAFF_GRPC_URL")
	setString(&c.Commission.OfficeFraction, "COMMISSION_OFFICE_FRACTION")

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		rps, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return fmt.Errorf("RATE_LIMIT_RPS: %w", perr)
		}
		c.RateLimit.RequestsPerSecond = rps
	}
	return setInt(&c.RateLimit.Burst, "RATE_LIMIT_BURST")
}

// Validate checks invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("server and grpc ports must be positive")
	}
	if c.Server.Port == c.GRPC.Port {
		return fmt.Errorf("http and grpc ports must differ (both %d)", c.Server.Port)
	}
	fraction, err := c.OfficeFraction()
	if err != nil {
		return err
	}
	if !fraction.IsPositive() || fraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission office fraction must be between 0 and 1 exclusive, got %s", fraction)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	return nil
}

// OfficeFraction parses the configured office share of every commission.
func (c *Config) OfficeFraction() (decimal.Decimal, error) {
	fraction, err := decimal.NewFromString(c.Commission.OfficeFraction)
	if err != nil {
		return decimal.Zero, fmt.Errorf("commission office fraction %q: %w", c.Commission.OfficeFraction, err)
	}
	return fraction, nil
}

// DSN renders the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
