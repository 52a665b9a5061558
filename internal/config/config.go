// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL of the verification token store.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisKeyPrefix namespaces every key written by the token store.
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	// VerificationTokenTTL is how long an issued verification token stays redeemable (e.g. "24h").
	VerificationTokenTTL string `mapstructure:"VERIFICATION_TOKEN_TTL"`
	// DBTimeout bounds a single relational store call (e.g. "2s").
	DBTimeout string `mapstructure:"DB_TIMEOUT"`
	// KVTimeout bounds a single token store call (e.g. "500ms").
	KVTimeout string `mapstructure:"KV_TIMEOUT"`
	// NotifyTimeout bounds a single notifier call (e.g. "10s").
	NotifyTimeout string `mapstructure:"NOTIFY_TIMEOUT"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Env is the application environment ("development", "production", ...). Selects log format.
	Env string `mapstructure:"APP_ENV"`
	// LogLevel overrides the default level (debug in development, info otherwise).
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// Notifier selects how verification messages leave the service: "log", "smtp" or "kafka".
	Notifier string `mapstructure:"NOTIFIER"`
	// PublicBaseURL is the externally visible base URL used to build verification links.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	SMTPHost      string `mapstructure:"SMTP_HOST"`
	SMTPPort      int    `mapstructure:"SMTP_PORT"`
	SMTPUsername  string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword  string `mapstructure:"SMTP_PASSWORD"`
	// SMTPFrom is the envelope and header sender of verification emails.
	SMTPFrom string `mapstructure:"SMTP_FROM"`
	// SMTPTLS is the STARTTLS policy: "opportunistic", "mandatory" or "none".
	SMTPTLS string `mapstructure:"SMTP_TLS"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// Required when Notifier is "kafka" and by cmd/worker.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the topic verification messages are queued on.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notification worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is reported as service.name on every signal.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// BlockedEmailDomains is a comma-separated list of email domains the admission policy rejects.
	BlockedEmailDomains string `mapstructure:"BLOCKED_EMAIL_DOMAINS"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_KEY_PREFIX", "manifold:verify:")
	v.SetDefault("VERIFICATION_TOKEN_TTL", "24h")
	v.SetDefault("DB_TIMEOUT", "2s")
	v.SetDefault("KV_TIMEOUT", "500ms")
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("NOTIFIER", "log")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@manifold.local")
	v.SetDefault("SMTP_TLS", "opportunistic")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "manifold-notifications")
	v.SetDefault("KAFKA_GROUP_ID", "manifold-notification-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "manifold-backend")
	v.SetDefault("BLOCKED_EMAIL_DOMAINS", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	cfg.Notifier = strings.ToLower(strings.TrimSpace(cfg.Notifier))
	switch cfg.Notifier {
	case "log":
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, errors.New("config: SMTP_HOST must be set when NOTIFIER=smtp")
		}
	case "kafka":
		if len(cfg.KafkaBrokersList()) == 0 {
			return nil, errors.New("config: KAFKA_BROKERS must be set when NOTIFIER=kafka")
		}
	default:
		return nil, errors.New("config: NOTIFIER must be one of log, smtp, kafka")
	}

	return &cfg, nil
}

// IsDevelopment reports whether the app runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// TokenTTL parses VerificationTokenTTL. Returns 24h if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	return parseDuration(c.VerificationTokenTTL, 24*time.Hour)
}

// DBCallTimeout parses DBTimeout. Returns 2s if unset or invalid.
func (c *Config) DBCallTimeout() time.Duration {
	return parseDuration(c.DBTimeout, 2*time.Second)
}

// KVCallTimeout parses KVTimeout. Returns 500ms if unset or invalid.
func (c *Config) KVCallTimeout() time.Duration {
	return parseDuration(c.KVTimeout, 500*time.Millisecond)
}

// NotifyCallTimeout parses NotifyTimeout. Returns 10s if unset or invalid.
func (c *Config) NotifyCallTimeout() time.Duration {
	return parseDuration(c.NotifyTimeout, 10*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// BlockedEmailDomainsList returns the lower-cased blocked domains.
func (c *Config) BlockedEmailDomainsList() []string {
	if c == nil {
		return nil
	}
	out := splitList(c.BlockedEmailDomains)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
