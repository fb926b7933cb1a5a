package config

import "time"

// LLMConfig selects the hosted model provider
type LLMConfig struct {
	Provider string
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	ModelName string
	TopP      float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey    string
	ModelName string
	TopP      float32
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region  string
	ModelID string
	TopP    float32
}

// PipelineConfig selects the classification and extraction strategy
type PipelineConfig struct {
	// Strategy is "llm" or "heuristic"
	Strategy    string
	LexiconPath string
}

// ScanConfig tunes the scan loop and mailbox fetches
type ScanConfig struct {
	MaxResults            int
	MaxBodyChars          int
	CallDelay             time.Duration
	RefreshMargin         time.Duration
	DefaultBackfillMonths int
	MinConfidence         int
	Timeout               time.Duration
	Keywords              []string
	IgnoredDomains        []string
}

// RetryConfig bounds retries of rate-limited calls
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
}

// QuotaConfig holds the per-user daily caps
type QuotaConfig struct {
	// Backend is "store" or "redis"
	Backend            string
	MaxEmails          int
	MaxClassifications int
	MaxExtractions     int
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Type is memory, sqlite, mysql or postgres
	Type             string
	DSN              string
	SQLitePath       string
	MaxConns         int
	Retention        time.Duration
	CleanupFrequency time.Duration
}

// RedisConfig configures the shared quota counters and vendor locks
type RedisConfig struct {
	URL       string
	KeyPrefix string
	LockTTL   time.Duration
	QuotaTTL  time.Duration
}

// OAuthClient holds one provider's OAuth application credentials
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	Tenant       string
	TokenURL     string
}

// OAuthConfig holds the OAuth applications of both providers
type OAuthConfig struct {
	Google    OAuthClient
	Microsoft OAuthClient
}

// GmailConfig overrides the Gmail API endpoint
type GmailConfig struct {
	Endpoint string
}

// OutlookConfig overrides the Graph API base URL
type OutlookConfig struct {
	BaseURL string
}

// SchedulerConfig configures the cron trigger
type SchedulerConfig struct {
	Enabled    bool
	DailyScan  string
	Reminders  string
	RunOnStart bool
}

// ServerConfig configures the HTTP trigger
type ServerConfig struct {
	Enabled         bool
	ListenAddress   string
	ScanTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NotifyConfig selects reminder delivery
type NotifyConfig struct {
	// Type is none, smtp or ses
	Type string
	From string
}

// SMTPConfig configures relay delivery
type SMTPConfig struct {
	Address  string
	Username string
	Password string
	StartTLS bool
	Timeout  time.Duration
}

// SESConfig configures Amazon SES delivery
type SESConfig struct {
	Region string
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:    c.GetString("openai.api_key"),
		BaseURL:   c.GetString("openai.base_url"),
		ModelName: c.GetString("openai.model_name"),
		TopP:      float32(c.GetFloat64("openai.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:    c.GetString("gemini.api_key"),
		ModelName: c.GetString("gemini.model_name"),
		TopP:      float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:  c.GetString("bedrock.region"),
		ModelID: c.GetString("bedrock.model_id"),
		TopP:    float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetPipeline returns the pipeline strategy
func (c *Config) GetPipeline() PipelineConfig {
	return PipelineConfig{
		Strategy:    c.GetString("pipeline.strategy"),
		LexiconPath: c.GetString("pipeline.lexicon_path"),
	}
}

// GetScan returns the scan loop configuration
func (c *Config) GetScan() ScanConfig {
	return ScanConfig{
		MaxResults:            c.GetInt("scan.max_results"),
		MaxBodyChars:          c.GetInt("scan.max_body_chars"),
		CallDelay:             c.GetDuration("scan.call_delay"),
		RefreshMargin:         c.GetDuration("scan.refresh_margin"),
		DefaultBackfillMonths: c.GetInt("scan.default_backfill_months"),
		MinConfidence:         c.GetInt("scan.min_confidence"),
		Timeout:               c.GetDuration("scan.timeout"),
		Keywords:              c.GetStringSlice("scan.keywords"),
		IgnoredDomains:        c.GetStringSlice("scan.ignored_domains"),
	}
}

// GetRetry returns the retry policy configuration
func (c *Config) GetRetry() RetryConfig {
	return RetryConfig{
		Attempts: c.GetInt("retry.attempts"),
		Delay:    c.GetDuration("retry.delay"),
		MaxDelay: c.GetDuration("retry.max_delay"),
	}
}

// GetQuota returns the quota configuration
func (c *Config) GetQuota() QuotaConfig {
	return QuotaConfig{
		Backend:            c.GetString("quota.backend"),
		MaxEmails:          c.GetInt("quota.max_emails"),
		MaxClassifications: c.GetInt("quota.max_classifications"),
		MaxExtractions:     c.GetInt("quota.max_extractions"),
	}
}

// GetStore returns the persistence configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		Type:             c.GetString("store.type"),
		DSN:              c.GetString("store.dsn"),
		SQLitePath:       c.GetString("store.sqlite_path"),
		MaxConns:         c.GetInt("store.max_conns"),
		Retention:        c.GetDuration("store.retention"),
		CleanupFrequency: c.GetDuration("store.cleanup_frequency"),
	}
}

// GetRedis returns the Redis configuration
func (c *Config) GetRedis() RedisConfig {
	return RedisConfig{
		URL:       c.GetString("redis.url"),
		KeyPrefix: c.GetString("redis.key_prefix"),
		LockTTL:   c.GetDuration("redis.lock_ttl"),
		QuotaTTL:  c.GetDuration("redis.quota_ttl"),
	}
}

// GetOAuth returns the OAuth application credentials
func (c *Config) GetOAuth() OAuthConfig {
	return OAuthConfig{
		Google: OAuthClient{
			ClientID:     c.GetString("oauth.google.client_id"),
			ClientSecret: c.GetString("oauth.google.client_secret"),
			TokenURL:     c.GetString("oauth.google.token_url"),
		},
		Microsoft: OAuthClient{
			ClientID:     c.GetString("oauth.microsoft.client_id"),
			ClientSecret: c.GetString("oauth.microsoft.client_secret"),
			Tenant:       c.GetString("oauth.microsoft.tenant"),
			TokenURL:     c.GetString("oauth.microsoft.token_url"),
		},
	}
}

// GetGmail returns the Gmail configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{Endpoint: c.GetString("gmail.endpoint")}
}

// GetOutlook returns the Outlook configuration
func (c *Config) GetOutlook() OutlookConfig {
	return OutlookConfig{BaseURL: c.GetString("outlook.base_url")}
}

// GetScheduler returns the cron trigger configuration
func (c *Config) GetScheduler() SchedulerConfig {
	return SchedulerConfig{
		Enabled:    c.GetBool("scheduler.enabled"),
		DailyScan:  c.GetString("scheduler.daily_scan"),
		Reminders:  c.GetString("scheduler.reminders"),
		RunOnStart: c.GetBool("scheduler.run_on_start"),
	}
}

// GetServer returns the HTTP trigger configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		Enabled:         c.GetBool("server.enabled"),
		ListenAddress:   c.GetString("server.listen_address"),
		ScanTimeout:     c.GetDuration("server.scan_timeout"),
		ShutdownTimeout: c.GetDuration("server.shutdown_timeout"),
	}
}

// GetNotify returns the reminder delivery configuration
func (c *Config) GetNotify() NotifyConfig {
	return NotifyConfig{
		Type: c.GetString("notify.type"),
		From: c.GetString("notify.from"),
	}
}

// GetSMTP returns the SMTP relay configuration
func (c *Config) GetSMTP() SMTPConfig {
	return SMTPConfig{
		Address:  c.GetString("smtp.address"),
		Username: c.GetString("smtp.username"),
		Password: c.GetString("smtp.password"),
		StartTLS: c.GetBool("smtp.starttls"),
		Timeout:  c.GetDuration("smtp.timeout"),
	}
}

// GetSES returns the SES configuration
func (c *Config) GetSES() SESConfig {
	return SESConfig{Region: c.GetString("ses.region")}
}
