// ABOUTME: Configuration loading and validation for coven-webhook
// ABOUTME: YAML or TOML file with ${VAR} expansion, then COVEN_WEBHOOK_* environment overrides

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-webhook/internal/kv"
)

// EnvPrefix prefixes every environment override, e.g. COVEN_WEBHOOK_STORAGE_BASE_PATH.
const EnvPrefix = "COVEN_WEBHOOK_"

// Config represents the complete coven-webhook configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage" envPrefix:"STORAGE_"`
	Telegram  TelegramConfig  `yaml:"telegram" toml:"telegram" envPrefix:"TELEGRAM_"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
	Report    ReportConfig    `yaml:"report" toml:"report" envPrefix:"REPORT_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	HTTPAddr     string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	HealthPath   string `yaml:"health_path" toml:"health_path" env:"HEALTH_PATH"`
	MaxBodyBytes int64  `yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
}

// StorageConfig selects the tenant storage backend and where it lives
type StorageConfig struct {
	BasePath string `yaml:"base_path" toml:"base_path" env:"BASE_PATH"`
	Backend  string `yaml:"backend" toml:"backend" env:"BACKEND"`
	// Preload opens every tenant directory found under BasePath at startup.
	Preload bool `yaml:"preload" toml:"preload" env:"PRELOAD"`
}

// TelegramConfig holds Bot API settings for acknowledgements
type TelegramConfig struct {
	BotToken    string `yaml:"bot_token" toml:"bot_token" env:"BOT_TOKEN"`
	APIEndpoint string `yaml:"api_endpoint" toml:"api_endpoint" env:"API_ENDPOINT"`
	AckEnabled  bool   `yaml:"ack_enabled" toml:"ack_enabled" env:"ACK_ENABLED"`
	AckText     string `yaml:"ack_text" toml:"ack_text" env:"ACK_TEXT"`
}

// TailscaleConfig holds tsnet configuration for serving the webhook on a tailnet
type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey  string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"`
	StateDir string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Funnel   bool   `yaml:"funnel" toml:"funnel" env:"FUNNEL"` // public HTTPS, required for Telegram webhooks
}

// ReportConfig schedules the periodic tenant report
type ReportConfig struct {
	// Schedule is a cron expression (UTC); empty disables the report.
	Schedule string `yaml:"schedule" toml:"schedule" env:"SCHEDULE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:             "0.0.0.0:8080",
			HealthPath:           "/health",
			MaxBodyBytes:         1 << 20,
			ReadHeaderTimeoutRaw: "10s",
		},
		Storage: StorageConfig{
			BasePath: "data",
			Backend:  kv.BackendSQLite,
		},
		Telegram: TelegramConfig{
			AckText: "ack",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the configuration file at path over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file and uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if err := decode(path, expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// decode picks the format from the file extension; anything other than
// .toml is treated as YAML.
func decode(path, content string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(content, cfg)
		return err
	}
	return yaml.Unmarshal([]byte(content), cfg)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is unused when Tailscale provides the listener
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !strings.HasPrefix(c.Server.HealthPath, "/") {
		return fmt.Errorf("server.health_path must start with '/': %q", c.Server.HealthPath)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}

	if c.Storage.BasePath == "" {
		return fmt.Errorf("storage.base_path is required")
	}
	if !slices.Contains(kv.Backends(), c.Storage.Backend) {
		return fmt.Errorf("storage.backend %q is not one of %v", c.Storage.Backend, kv.Backends())
	}

	if c.Telegram.AckEnabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram.ack_enabled is set")
		}
		if c.Telegram.AckText == "" {
			return fmt.Errorf("telegram.ack_text must not be empty when telegram.ack_enabled is set")
		}
	}

	if c.Report.Schedule != "" {
		if _, err := cron.ParseStandard(c.Report.Schedule); err != nil {
			return fmt.Errorf("report.schedule %q: %w", c.Report.Schedule, err)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
		cfg.Server.ReadHeaderTimeout = d
	}
	return nil
}
