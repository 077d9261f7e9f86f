// ABOUTME: Configuration loading and parsing for herald-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/herald-gateway/internal/heartbeat"
)

// Config represents the complete herald-gateway configuration
type Config struct {
	Telegram  TelegramConfig   `yaml:"telegram"`
	Server    ServerConfig     `yaml:"server"`
	Tailscale TailscaleConfig  `yaml:"tailscale"`
	Claude    ClaudeConfig     `yaml:"claude"`
	Heartbeat heartbeat.Config `yaml:"heartbeat"`
	Database  DatabaseConfig   `yaml:"database"`
	Auth      AuthConfig       `yaml:"auth"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// TelegramConfig holds bot credentials and webhook settings
type TelegramConfig struct {
	BotToken      string  `yaml:"bot_token"`
	WebhookSecret string  `yaml:"webhook_secret"`
	WebhookPath   string  `yaml:"webhook_path"`
	WebhookURL    string  `yaml:"webhook_url"` // registered with Telegram at startup when set
	AllowedUsers  []int64 `yaml:"allowed_user_ids"`

	// Outbound send throttle. Telegram allows roughly one message per
	// second per chat; the default stays under that.
	SendRatePerSec float64 `yaml:"send_rate_per_sec"`
	SendBurst      int     `yaml:"send_burst"`
}

// ServerConfig holds the plain TCP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`  // Serve TLS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// ClaudeConfig holds agent session settings
type ClaudeConfig struct {
	WorkingDir      string `yaml:"working_dir"`
	Model           string `yaml:"model"`
	MemoryPath      string `yaml:"memory_path"`
	AgentTeams      bool   `yaml:"agent_teams"`
	MinPartialChars int    `yaml:"min_partial_chars"`

	InitialIdleTimeout time.Duration `yaml:"-"`
	ResultIdleTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	InitialIdleTimeoutRaw string `yaml:"initial_idle_timeout"`
	ResultIdleTimeoutRaw  string `yaml:"result_idle_timeout"`
}

// DatabaseConfig holds transcript database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin endpoint authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration. When File is set, logs are
// written there with size-based rotation instead of the console.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
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

// Validate checks that all required configuration fields are present and
// valid, and applies defaults. Returns an error describing the first
// validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.WebhookSecret == "" {
		return fmt.Errorf("telegram.webhook_secret is required")
	}
	if c.Telegram.WebhookPath == "" {
		c.Telegram.WebhookPath = "/webhook"
	}
	if c.Telegram.SendRatePerSec == 0 {
		c.Telegram.SendRatePerSec = 1
	}
	if c.Telegram.SendBurst == 0 {
		c.Telegram.SendBurst = 3
	}

	// The HTTP listener is required unless Tailscale provides one
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Claude.WorkingDir == "" {
		return fmt.Errorf("claude.working_dir is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if err := c.Heartbeat.Validate(); err != nil {
		return err
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Claude.InitialIdleTimeoutRaw != "" {
		cfg.Claude.InitialIdleTimeout, err = time.ParseDuration(cfg.Claude.InitialIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing initial_idle_timeout %q: %w", cfg.Claude.InitialIdleTimeoutRaw, err)
		}
	}

	if cfg.Claude.ResultIdleTimeoutRaw != "" {
		cfg.Claude.ResultIdleTimeout, err = time.ParseDuration(cfg.Claude.ResultIdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing result_idle_timeout %q: %w", cfg.Claude.ResultIdleTimeoutRaw, err)
		}
	}

	return nil
}
