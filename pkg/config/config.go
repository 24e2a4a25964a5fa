package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the claim bot.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Bot       BotConfig       `mapstructure:"bot"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Endpoint  EndpointConfig  `mapstructure:"endpoint"`
	Claim     ClaimConfig     `mapstructure:"claim"`
	Login     LoginConfig     `mapstructure:"login"`
	Engine    EngineConfig    `mapstructure:"engine"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// LoggerConfig controls the slog handler chain.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"omitempty,oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
}

// SentryConfig enables error reporting.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// BotConfig describes the Telegram side.
type BotConfig struct {
	Token    string        `mapstructure:"token" validate:"required"`
	Mode     string        `mapstructure:"mode" validate:"omitempty,oneof=polling webhook"`
	Timeout  time.Duration `mapstructure:"timeout"`
	AdminIDs []int64       `mapstructure:"admin_ids"`
	Channels []ChannelLink `mapstructure:"channels" validate:"dive"`
	// Webhook settings apply when Mode is "webhook".
	WebhookListen string `mapstructure:"webhook_listen" validate:"required_if=Mode webhook"`
	WebhookURL    string `mapstructure:"webhook_url" validate:"omitempty,url"`
}

// ChannelLink is a channel the user is asked to join on /start.
type ChannelLink struct {
	Title string `mapstructure:"title" validate:"required"`
	URL   string `mapstructure:"url" validate:"required,url"`
}

// ServerConfig configures the admin/metrics HTTP server.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AdminToken      string        `mapstructure:"admin_token"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects where workflow state and key sets live.
type StorageConfig struct {
	Backend       string        `mapstructure:"backend" validate:"omitempty,oneof=memory redis"`
	StateTTL      time.Duration `mapstructure:"state_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig defines connection parameters for the Redis client.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// DatabaseConfig is the PostgreSQL connection used by the audit log.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// AuditConfig toggles the claim attempt audit log.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// EndpointConfig tunes the shared HTTP client used for remote calls.
type EndpointConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxIdleConn int           `mapstructure:"max_idle_conns"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// RemoteEndpoint is a single remote URL with the query parameter carrying the phone key.
type RemoteEndpoint struct {
	URL        string `mapstructure:"url" validate:"omitempty,url"`
	PhoneParam string `mapstructure:"phone_param"`
	Method     string `mapstructure:"method" validate:"omitempty,oneof=GET POST"`
	Offer      string `mapstructure:"offer"`
}

// ClaimConfig maps claim types to their endpoints.
type ClaimConfig struct {
	Weekly  RemoteEndpoint `mapstructure:"weekly" validate:"required"`
	Monthly RemoteEndpoint `mapstructure:"monthly" validate:"required"`
}

// LoginConfig describes the optional login/OTP endpoints.
type LoginConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	Request         RemoteEndpoint `mapstructure:"request"`
	Verify          RemoteEndpoint `mapstructure:"verify"`
	OTPParam        string         `mapstructure:"otp_param"`
	VerifiedMarkers []string       `mapstructure:"verified_markers"`
	OTPSentMarkers  []string       `mapstructure:"otp_sent_markers"`
	FailureMarkers  []string       `mapstructure:"failure_markers"`
}

// EngineConfig seeds the runtime-mutable engine settings.
type EngineConfig struct {
	RequestCount     int           `mapstructure:"request_count" validate:"gte=1"`
	SuccessThreshold int           `mapstructure:"success_threshold" validate:"gte=1"`
	Delay            time.Duration `mapstructure:"delay" validate:"gte=0"`
	RequestsEnabled  bool          `mapstructure:"requests_enabled"`
	SuccessMarkers   []string      `mapstructure:"success_markers"`
	FailureMarkers   []string      `mapstructure:"failure_markers"`
}

// RateLimitConfig holds inbound update limits.
type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

// RateLimitRule is a limit per window, e.g. 20 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// GetDBConnectionString returns PostgreSQL DSN based on config values.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// IsAdmin reports whether the Telegram user is an operator.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.Bot.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
