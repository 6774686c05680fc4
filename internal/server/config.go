// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the travel chat gateway.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// ServerConfig holds the listener and WebSocket security controls.
type ServerConfig struct {
	Port           string          `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig selects how bearer tokens are verified. A JWKS URL takes
// precedence over a shared secret.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	JWKSURL     string        `yaml:"jwks_url"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Config holds the complete gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 16 * 1024
	defaultBurst          = 5
	defaultTokenExpiry    = 24 * time.Hour
)

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: defaultPort,
			AllowedOrigins: []string{
				"http://localhost:8080",
				"http://localhost:5173",
			},
			MaxMessageSize: defaultMaxMessageSize,
			RateLimit: RateLimitConfig{
				Burst:          defaultBurst,
				RefillInterval: time.Second,
			},
		},
		Auth: AuthConfig{
			TokenExpiry: defaultTokenExpiry,
		},
		Database: DatabaseConfig{
			Driver: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "travelchat",
			SamplingRate: 1.0,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Server.Port == "" {
		cfg.Server.Port = defaultPort
	}
	if !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}

	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = defaultMaxMessageSize
	}

	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = defaultBurst
	}

	if cfg.Server.RateLimit.RefillInterval <= 0 {
		cfg.Server.RateLimit.RefillInterval = time.Second
	}

	if cfg.Auth.TokenExpiry <= 0 {
		cfg.Auth.TokenExpiry = defaultTokenExpiry
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "memory"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "travelchat"
	}
	if cfg.Tracing.SamplingRate <= 0 || cfg.Tracing.SamplingRate > 1 {
		cfg.Tracing.SamplingRate = 1.0
	}

	cfg.Server.AllowedOrigins = append([]string(nil), cfg.Server.AllowedOrigins...)
	return cfg
}

// Validate reports configuration that cannot produce a working gateway.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return errors.New("auth: one of jwt_secret or jwks_url is required")
	}
	switch strings.ToLower(c.Database.Driver) {
	case "memory":
	case "postgres", "postgresql", "sqlite", "sqlite3":
		if c.Database.DSN == "" {
			return fmt.Errorf("database: dsn is required for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	return nil
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig builds the configuration from defaults, then the YAML file at
// path (if path is non-empty), then environment overrides. ${VAR} references
// in the file are expanded before parsing.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeConfig([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func decodeConfig(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.Server.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.Server.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.Server.RateLimit.Burst = parseIntValue(burst, cfg.Server.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.Server.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.Server.RateLimit.RefillInterval)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("JWKS_URL"); url != "" {
		cfg.Auth.JWKSURL = url
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseRefillInterval accepts whole seconds or a Go duration string.
func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
