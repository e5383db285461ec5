package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration
type Config struct {
	TelegramToken string  `env:"TELEGRAM_BOT_TOKEN"`
	AdminUserIDs  []int64 `env:"ADMIN_USER_IDS"`
	MustJoin      string  `env:"MUST_JOIN"` // channel @username or numeric id, empty disables the gate

	// Bot mode configuration
	WebhookMode bool   `env:"WEBHOOK_MODE"` // If true, use webhook mode; if false, use polling mode
	WebhookURL  string `env:"WEBHOOK_URL"`  // URL for webhook (required if WebhookMode is true)
	Port        string `env:"PORT" envDefault:"8080"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Flow timing
	CredentialTimeout time.Duration `env:"CREDENTIAL_TIMEOUT" envDefault:"300s"`
	CodeTimeout       time.Duration `env:"CODE_TIMEOUT" envDefault:"600s"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" envDefault:"30s"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"15s"`

	// ClickHouse configuration
	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseUseTLS   bool   `env:"CLICKHOUSE_USE_TLS"`

	UseMockDB bool `env:"USE_MOCK_DB"`
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that depend on each other
func (c *Config) Validate() error {
	// Telegram Bot Token (required)
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}

	if c.WebhookMode && c.WebhookURL == "" {
		return errors.New("WEBHOOK_URL is required when WEBHOOK_MODE is true")
	}

	// ClickHouse configuration (required if not using mock)
	if !c.UseMockDB && c.ClickHouseHost == "" {
		return errors.New("CLICKHOUSE_HOST is required when USE_MOCK_DB is not set")
	}

	if c.CredentialTimeout <= 0 || c.CodeTimeout <= 0 || c.ConnectTimeout <= 0 {
		return errors.New("CREDENTIAL_TIMEOUT, CODE_TIMEOUT and CONNECT_TIMEOUT must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}

	return nil
}
