package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the restaurant system
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Business BusinessConfig `yaml:"business"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RabbitMQConfig holds RabbitMQ connection configuration. An empty host
// disables change-event publishing.
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StorageConfig selects the entity store implementation
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// BusinessConfig holds restaurant rules
type BusinessConfig struct {
	TaxRateBps   int64         `yaml:"tax_rate_bps"`
	CleaningStep bool          `yaml:"cleaning_step"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// AuthConfig holds token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when a key is absent from the file
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "restaurant_user", Database: "restaurant_db"},
		RabbitMQ: RabbitMQConfig{Port: 5672, User: "guest", Password: "guest"},
		Server:   ServerConfig{Port: 3000, ShutdownTimeout: 10 * time.Second},
		Storage:  StorageConfig{Driver: DriverMemory},
		Business: BusinessConfig{TaxRateBps: 850, CleaningStep: true, PollInterval: 5 * time.Second},
		Auth:     AuthConfig{TokenTTL: 12 * time.Hour},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, then applies a .env file next to
// the working directory and SMARTDINE_* environment overrides.
func Load(filename string) (*Config, error) {
	cfg := Default()

	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides values from the environment
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SMARTDINE_DB_HOST":        &c.Database.Host,
		"SMARTDINE_DB_USER":        &c.Database.User,
		"SMARTDINE_DB_PASSWORD":    &c.Database.Password,
		"SMARTDINE_DB_NAME":        &c.Database.Database,
		"SMARTDINE_RABBITMQ_HOST":  &c.RabbitMQ.Host,
		"SMARTDINE_RABBITMQ_USER":  &c.RabbitMQ.User,
		"SMARTDINE_RABBITMQ_PASS":  &c.RabbitMQ.Password,
		"SMARTDINE_STORAGE_DRIVER": &c.Storage.Driver,
		"SMARTDINE_JWT_SECRET":     &c.Auth.JWTSecret,
		"SMARTDINE_LOG_LEVEL":      &c.Logging.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SMARTDINE_DB_PORT":       &c.Database.Port,
		"SMARTDINE_RABBITMQ_PORT": &c.RabbitMQ.Port,
		"SMARTDINE_SERVER_PORT":   &c.Server.Port,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("SMARTDINE_TAX_RATE_BPS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid SMARTDINE_TAX_RATE_BPS value: %w", err)
		}
		c.Business.TaxRateBps = n
	}
	if v, ok := lookup("SMARTDINE_CLEANING_STEP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SMARTDINE_CLEANING_STEP value: %w", err)
		}
		c.Business.CleaningStep = b
	}
	return nil
}

// Validate rejects values the services cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverPostgres:
	default:
		return fmt.Errorf("storage.driver must be %q or %q", DriverMemory, DriverPostgres)
	}
	if c.Business.TaxRateBps < 0 || c.Business.TaxRateBps > 10000 {
		return fmt.Errorf("business.tax_rate_bps must be between 0 and 10000")
	}
	if c.Business.PollInterval < 5*time.Second || c.Business.PollInterval > 30*time.Second {
		return fmt.Errorf("business.poll_interval must be between 5s and 30s")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	return nil
}

// PublishingEnabled reports whether a RabbitMQ broker is configured
func (c *Config) PublishingEnabled() bool {
	return c.RabbitMQ.Host != ""
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}
