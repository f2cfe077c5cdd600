// Package config loads application configuration from YAML files and
// environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is the prefix for environment variable overrides,
// e.g. WATCHOVER_DATABASE__URL maps to database.url.
const envPrefix = "WATCHOVER_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Checks        ChecksConfig        `koanf:"checks"`
	Notifications NotificationsConfig `koanf:"notifications"`
}

// CORSConfig contains cross-origin settings for the API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts" validate:"gte=1"`
	MigrateOnStart  bool          `koanf:"migrate_on_start"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// ChecksConfig contains check scheduler settings.
type ChecksConfig struct {
	Enabled bool `koanf:"enabled"`

	// MaxConcurrent caps in-flight check executions per tick.
	MaxConcurrent int `koanf:"max_concurrent" validate:"gte=1"`

	// HeartbeatGrace is the slack added to a heartbeat period before the
	// target counts as DOWN.
	HeartbeatGrace time.Duration `koanf:"heartbeat_grace"`
}

// NotificationsConfig contains delivery channel settings.
type NotificationsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Email   EmailConfig   `koanf:"email"`
	SMS     SMSConfig     `koanf:"sms"`
	Webhook WebhookConfig `koanf:"webhook"`
}

// EmailConfig contains SMTP settings.
type EmailConfig struct {
	Enabled      bool   `koanf:"enabled"`
	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	FromAddress  string `koanf:"from_address"`
}

// SMSConfig contains SMS gateway settings.
type SMSConfig struct {
	Enabled    bool    `koanf:"enabled"`
	GatewayURL string  `koanf:"gateway_url"`
	APIKey     string  `koanf:"api_key"`
	FromNumber string  `koanf:"from_number"`
	RateLimit  float64 `koanf:"rate_limit"`
}

// WebhookConfig contains outbound webhook settings.
type WebhookConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Defaults returns the built-in configuration defaults.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.host":                "0.0.0.0",
		"server.port":                "8080",
		"server.metrics_port":        "9090",
		"server.read_timeout":        "10s",
		"server.read_header_timeout": "5s",
		"server.write_timeout":       "30s",
		"server.idle_timeout":        "120s",

		"database.max_open_conns":   25,
		"database.max_idle_conns":   5,
		"database.conn_max_lifetime": "30m",
		"database.connect_timeout":  "30s",
		"database.connect_attempts": 5,
		"database.migrate_on_start": true,

		"log.level":  "info",
		"log.format": "json",

		"cors.allowed_origins": []string{"*"},

		"checks.enabled":         true,
		"checks.max_concurrent":  32,
		"checks.heartbeat_grace": "30s",

		"notifications.enabled":         true,
		"notifications.email.smtp_port": 587,
		"notifications.sms.rate_limit":  1.0,
		"notifications.webhook.timeout": "10s",
	}
}

// Load reads configuration from an optional YAML file and the environment.
// Precedence: defaults < file < environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	// WATCHOVER_DATABASE__URL -> database.url
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
