// Package config loads engine configuration from YAML with environment
// variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the notification engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Routing    RoutingConfig    `yaml:"routing"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Automation AutomationConfig `yaml:"automation"`
	Escalation EscalationConfig `yaml:"escalation"`
	Engagement EngagementConfig `yaml:"engagement"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds the Postgres connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the Redis connection for dedupe and run leases.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RoutingConfig bounds delivery execution.
type RoutingConfig struct {
	ChannelTimeoutSeconds    int `yaml:"channel_timeout_seconds"`
	ProviderTimeoutSeconds   int `yaml:"provider_timeout_seconds"`
	DispatchIntervalSeconds  int `yaml:"dispatch_interval_seconds"`
	RetryIntervalSeconds     int `yaml:"retry_interval_seconds"`
}

// SESConfig holds AWS SES credentials for the email channel.
type SESConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	From      string `yaml:"from"`
}

// HTTPProviderConfig holds one generic HTTP provider endpoint.
type HTTPProviderConfig struct {
	Name     string `yaml:"name"`
	Channel  string `yaml:"channel"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// ProvidersConfig enumerates the configured delivery providers.
// Registration order within a channel is the fallback order.
type ProvidersConfig struct {
	SES   SESConfig            `yaml:"ses"`
	HTTP  []HTTPProviderConfig `yaml:"http"`
	Inbox bool                 `yaml:"inbox"`
}

// WebhookConfig holds callback ingestion settings.
type WebhookConfig struct {
	Secret         string `yaml:"secret"`
	DedupeTTLHours int    `yaml:"dedupe_ttl_hours"`
}

// AutomationConfig holds runner settings.
type AutomationConfig struct {
	Enabled             bool `yaml:"enabled"`
	TickIntervalSeconds int  `yaml:"tick_interval_seconds"`
}

// EscalationConfig holds the escalation policy defaults.
type EscalationConfig struct {
	Channels         []string `yaml:"channels"`
	StepDelaySeconds int      `yaml:"step_delay_seconds"`
	WindowMinutes    int      `yaml:"window_minutes"`
	Template         string   `yaml:"template"`
}

// EngagementConfig holds sweep settings.
type EngagementConfig struct {
	Enabled            bool `yaml:"enabled"`
	SweepIntervalHours int  `yaml:"sweep_interval_hours"`
}

func (c RoutingConfig) ChannelTimeout() time.Duration {
	return time.Duration(c.ChannelTimeoutSeconds) * time.Second
}

func (c RoutingConfig) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

func (c RoutingConfig) DispatchInterval() time.Duration {
	return time.Duration(c.DispatchIntervalSeconds) * time.Second
}

func (c RoutingConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// Load reads the YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Routing.ChannelTimeoutSeconds == 0 {
		cfg.Routing.ChannelTimeoutSeconds = 30
	}
	if cfg.Routing.ProviderTimeoutSeconds == 0 {
		cfg.Routing.ProviderTimeoutSeconds = 10
	}
	if cfg.Routing.DispatchIntervalSeconds == 0 {
		cfg.Routing.DispatchIntervalSeconds = 2
	}
	if cfg.Routing.RetryIntervalSeconds == 0 {
		cfg.Routing.RetryIntervalSeconds = 30
	}
	if cfg.Providers.SES.Region == "" {
		cfg.Providers.SES.Region = "us-west-2"
	}
	if cfg.Webhook.DedupeTTLHours == 0 {
		cfg.Webhook.DedupeTTLHours = 24
	}
	if cfg.Automation.TickIntervalSeconds == 0 {
		cfg.Automation.TickIntervalSeconds = 15
	}
	if len(cfg.Escalation.Channels) == 0 {
		cfg.Escalation.Channels = []string{"push", "sms", "chat"}
	}
	if cfg.Escalation.StepDelaySeconds == 0 {
		cfg.Escalation.StepDelaySeconds = 120
	}
	if cfg.Escalation.WindowMinutes == 0 {
		cfg.Escalation.WindowMinutes = 60
	}
	if cfg.Escalation.Template == "" {
		cfg.Escalation.Template = "escalation-alert"
	}
	if cfg.Engagement.SweepIntervalHours == 0 {
		cfg.Engagement.SweepIntervalHours = 6
	}
}

// LoadFromEnv loads the YAML file, then applies environment variable
// overrides. Secrets come from the environment in deployment; the YAML
// file carries only local defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Best effort: a missing .env is fine.
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Providers.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Providers.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Providers.SES.Region = v
	}
	if v := os.Getenv("SES_FROM_ADDRESS"); v != "" {
		cfg.Providers.SES.From = v
	}

	return cfg, nil
}

// Validate checks for settings the server cannot start without.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required (or DATABASE_URL)")
	}
	if cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required (or WEBHOOK_SECRET)")
	}
	return nil
}
