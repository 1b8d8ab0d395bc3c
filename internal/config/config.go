// Package config loads and validates the engine's layered YAML + environment
// configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
	APIPort     string `yaml:"api_port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

type AnthropicConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type ActionsConfig struct {
	DryRun         bool          `yaml:"dry_run"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	CooldownPeriod time.Duration `yaml:"cooldown_period"`
}

type MarketDefaults struct {
	DefaultMarket       string `yaml:"default_market"`
	Timezone            string `yaml:"timezone"`
	FollowupDay1        int    `yaml:"followup_day_1"`
	FollowupDay2        int    `yaml:"followup_day_2"`
	MaxFollowups        int    `yaml:"max_followups"`
	MinMotivationScore  int    `yaml:"min_motivation_score"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebhookConfig struct {
	Port string `yaml:"port"`
	Path string `yaml:"path"`
}

// RedisConfig configures the optional response cache. Addr is empty by
// default: the cache degrades to always-miss (and callers fall back to a
// live recompute) rather than failing startup when Redis isn't deployed.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	DescriptionTTL time.Duration `yaml:"description_ttl"`
}

type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	Twilio     TwilioConfig    `yaml:"twilio"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
	Actions    ActionsConfig   `yaml:"actions"`
	Market     MarketDefaults  `yaml:"market"`
	Logging    LoggingConfig   `yaml:"logging"`
	Webhook    WebhookConfig   `yaml:"webhook"`
	Redis      RedisConfig     `yaml:"redis"`
}

// Load reads, parses, defaults, overlays environment variables onto, and
// validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a Config populated with the engine's defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			WebhookPort: "8080",
			MetricsPort: "9090",
			APIPort:     "8000",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "orchestrator",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Anthropic: AnthropicConfig{
			Model:       "claude-3-5-sonnet-20241022",
			Timeout:     20 * time.Second,
			Temperature: 0.2,
			MaxTokens:   300,
		},
		Actions: ActionsConfig{
			MaxConcurrent:  5,
			CooldownPeriod: 5 * time.Minute,
		},
		Market: MarketDefaults{
			DefaultMarket:      "EBR",
			Timezone:           "America/Chicago",
			FollowupDay1:       3,
			FollowupDay2:       7,
			MaxFollowups:       4,
			MinMotivationScore: 40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Webhook: WebhookConfig{
			Port: "8080",
			Path: "/webhook",
		},
		Redis: RedisConfig{
			DescriptionTTL: 24 * time.Hour,
		},
	}
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Anthropic.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.Anthropic.Model = v
	}
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		cfg.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		cfg.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_FROM_NUMBER"); v != "" {
		cfg.Twilio.FromNumber = v
	}
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		cfg.Server.WebhookPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DRY_RUN value %q: %w", v, err)
		}
		cfg.Actions.DryRun = parsed
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Anthropic.Model == "" {
		return fmt.Errorf("anthropic model is required")
	}
	if cfg.Anthropic.Temperature < 0.0 || cfg.Anthropic.Temperature > 1.0 {
		return fmt.Errorf("anthropic temperature must be between 0.0 and 1.0")
	}
	if cfg.Anthropic.MaxTokens <= 0 {
		return fmt.Errorf("anthropic max tokens must be greater than 0")
	}
	if cfg.Market.DefaultMarket == "" {
		return fmt.Errorf("default market is required")
	}
	if cfg.Actions.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent actions must be greater than 0")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}
