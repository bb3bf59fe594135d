package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the notifier. Values come from
// configs/config.defaults.yaml overlaid with SHIPNOTIFY_* environment
// variables (e.g. SHIPNOTIFY_SOURCE_BASE_URL).
type Config struct {
	LogLevel string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error"`

	// Snapshot store
	DatasetName string `mapstructure:"DATASET_NAME" validate:"required"`
	SnapshotDir string `mapstructure:"SNAPSHOT_DIR" validate:"required"`

	// Record source (paginated shipments API)
	SourceBaseURL       string        `mapstructure:"SOURCE_BASE_URL" validate:"required,url"`
	SourceUsername      string        `mapstructure:"SOURCE_USERNAME"`
	SourcePassword      string        `mapstructure:"SOURCE_PASSWORD"`
	SourcePageSize      int           `mapstructure:"SOURCE_PAGE_SIZE" validate:"min=1"`
	SourceSlowFetchWarn time.Duration `mapstructure:"SOURCE_SLOW_FETCH_WARN"`
	SourceHTTPTimeout   time.Duration `mapstructure:"SOURCE_HTTP_TIMEOUT"`

	// Message rendering
	MessageTemplate     string `mapstructure:"MESSAGE_TEMPLATE"`
	MessageTemplatePath string `mapstructure:"MESSAGE_TEMPLATE_PATH"`

	// Delivery channel
	ChannelKind       string        `mapstructure:"CHANNEL_KIND" validate:"required,oneof=mock webhook"`
	ChannelWebhookURL string        `mapstructure:"CHANNEL_WEBHOOK_URL" validate:"required_if=ChannelKind webhook,omitempty,url"`
	ChannelTimeout    time.Duration `mapstructure:"CHANNEL_TIMEOUT"`

	// Optional collaborators; empty disables the integration.
	NATSUrl     string `mapstructure:"NATS_URL"`
	PostgresDSN string `mapstructure:"POSTGRES_DSN"`

	// Status / metrics HTTP server (serve command)
	HTTPListenAddr string `mapstructure:"HTTP_LISTEN_ADDR" validate:"required"`
}

// Load reads configuration for the given service name and validates it.
func Load(serviceName string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetEnvPrefix("SHIPNOTIFY")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATASET_NAME", "shipments")
	v.SetDefault("SNAPSHOT_DIR", "./data/snapshots")
	v.SetDefault("SOURCE_BASE_URL", "http://localhost:8081")
	v.SetDefault("SOURCE_PAGE_SIZE", 50)
	v.SetDefault("SOURCE_SLOW_FETCH_WARN", "3m")
	v.SetDefault("SOURCE_HTTP_TIMEOUT", "30s")
	v.SetDefault("MESSAGE_TEMPLATE", "Hello {name}, {count} items are ready for pickup today ({today}). Orders: {orders}")
	v.SetDefault("CHANNEL_KIND", "mock")
	v.SetDefault("CHANNEL_TIMEOUT", "60s")
	v.SetDefault("HTTP_LISTEN_ADDR", ":8080")

	if err := v.ReadInConfig(); err != nil {
		// Defaults plus env vars are a complete configuration; a missing file is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config (service: %s): %w", serviceName, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
