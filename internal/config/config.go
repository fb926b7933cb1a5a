package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/tool-scanner/")
	v.AddConfigPath("$HOME/.tool-scanner")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("TOOL_SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	// Pipeline
	v.SetDefault("pipeline.strategy", "llm")
	v.SetDefault("pipeline.lexicon_path", "")
	v.SetDefault("llm.provider", "openai")

	// OpenAI
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.top_p", 1.0)

	// Gemini
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.top_p", 0.9)

	// Bedrock
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.top_p", 0.9)

	// Scan loop
	v.SetDefault("scan.max_results", 300)
	v.SetDefault("scan.max_body_chars", 3000)
	v.SetDefault("scan.call_delay", "100ms")
	v.SetDefault("scan.refresh_margin", "5m")
	v.SetDefault("scan.default_backfill_months", 12)
	v.SetDefault("scan.min_confidence", 40)
	v.SetDefault("scan.timeout", "30s")
	v.SetDefault("scan.keywords", []string{})
	v.SetDefault("scan.ignored_domains", []string{})

	// Retry
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", "1s")
	v.SetDefault("retry.max_delay", "8s")

	// Quota
	v.SetDefault("quota.backend", "store")
	v.SetDefault("quota.max_emails", 300)
	v.SetDefault("quota.max_classifications", 300)
	v.SetDefault("quota.max_extractions", 30)

	// Store
	v.SetDefault("store.type", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.sqlite_path", "/data/tool_scanner.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.retention", "720h")
	v.SetDefault("store.cleanup_frequency", "1h")

	// Redis
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.key_prefix", "tool-scanner:")
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("redis.quota_ttl", "48h")

	// OAuth
	v.SetDefault("oauth.google.client_id", "")
	v.SetDefault("oauth.google.client_secret", "")
	v.SetDefault("oauth.google.token_url", "")
	v.SetDefault("oauth.microsoft.client_id", "")
	v.SetDefault("oauth.microsoft.client_secret", "")
	v.SetDefault("oauth.microsoft.tenant", "common")
	v.SetDefault("oauth.microsoft.token_url", "")

	// Mailbox endpoints
	v.SetDefault("gmail.endpoint", "")
	v.SetDefault("outlook.base_url", "")

	// Triggers
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_scan", "@daily")
	v.SetDefault("scheduler.reminders", "@every 1h")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_address", "0.0.0.0:8080")
	v.SetDefault("server.scan_timeout", "15m")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Notifications
	v.SetDefault("notify.type", "none")
	v.SetDefault("notify.from", "")
	v.SetDefault("smtp.address", "localhost:587")
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("ses.region", "us-east-1")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value, returning zero for values that do not parse
func (c *Config) GetDuration(key string) time.Duration {
	return c.v.GetDuration(key)
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
