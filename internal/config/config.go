// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Notification delivery modes.
const (
	NotifyModeQueue  = "queue"
	NotifyModeDirect = "direct"
	NotifyModeDev    = "dev"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN; empty selects the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// BcryptCost is the bcrypt cost factor (4–31) for passwords and refresh-token digests.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// RefreshTokenTTL is the refresh token lifetime (e.g. "336h").
	RefreshTokenTTL string `mapstructure:"REFRESH_TOKEN_TTL"`

	OTPTTL         string `mapstructure:"OTP_TTL"`
	OTPMaxAttempts int    `mapstructure:"OTP_MAX_ATTEMPTS"`

	RateLimitWindow         string `mapstructure:"RATE_LIMIT_WINDOW"`
	RateLimitMaxIssues      int    `mapstructure:"RATE_LIMIT_MAX_ISSUES"`
	BlockDuration           string `mapstructure:"BLOCK_DURATION"`
	PermanentBlockThreshold int    `mapstructure:"PERMANENT_BLOCK_THRESHOLD"`

	// ResetCooldown is the minimum gap between self-service password resets.
	ResetCooldown string `mapstructure:"RESET_COOLDOWN"`
	// ChangePeriod is added to the change time to compute an audit record's period end.
	ChangePeriod string `mapstructure:"CHANGE_PERIOD"`
	// ForgotGuardWindow rejects forgot-password changes while period end is this close.
	ForgotGuardWindow string `mapstructure:"FORGOT_GUARD_WINDOW"`

	// NotifyMode is one of queue, direct or dev. dev is rejected in production.
	NotifyMode       string `mapstructure:"NOTIFY_MODE"`
	NotifyTimeout    string `mapstructure:"NOTIFY_TIMEOUT"`
	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	NotifyEmailQueue string `mapstructure:"NOTIFY_EMAIL_QUEUE"`
	NotifySMSQueue   string `mapstructure:"NOTIFY_SMS_QUEUE"`
	SMSLocalAPIKey   string `mapstructure:"SMS_LOCAL_API_KEY"`
	SMSLocalSender   string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL  string `mapstructure:"SMS_LOCAL_BASE_URL"`
	ResendAPIKey     string `mapstructure:"RESEND_API_KEY"`
	ResendFrom       string `mapstructure:"RESEND_FROM"`
	ResendBaseURL    string `mapstructure:"RESEND_BASE_URL"`
	// DevOTPRedisURL stores dev-mode codes in Redis; empty keeps them in memory.
	DevOTPRedisURL string `mapstructure:"DEV_OTP_REDIS_URL"`

	// KafkaBrokers is a comma-separated list of brokers for lifecycle events; empty disables Kafka.
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	OTLPEndpoint     string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure     bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`
	SweepInterval    string `mapstructure:"SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "credential-lifecycle")
	v.SetDefault("JWT_AUDIENCE", "credential-lifecycle-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("REFRESH_TOKEN_TTL", "336h") // 14d
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("RATE_LIMIT_WINDOW", "30m")
	v.SetDefault("RATE_LIMIT_MAX_ISSUES", 5)
	v.SetDefault("BLOCK_DURATION", "1h")
	v.SetDefault("PERMANENT_BLOCK_THRESHOLD", 5)
	v.SetDefault("RESET_COOLDOWN", "24h")
	v.SetDefault("CHANGE_PERIOD", "48h")
	v.SetDefault("FORGOT_GUARD_WINDOW", "48h")
	v.SetDefault("NOTIFY_MODE", NotifyModeDev)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("NOTIFY_EMAIL_QUEUE", "email_jobs")
	v.SetDefault("NOTIFY_SMS_QUEUE", "sms_jobs")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://www.smslocal.com/dev/bulkV2")
	v.SetDefault("RESEND_API_KEY", "")
	v.SetDefault("RESEND_FROM", "")
	v.SetDefault("RESEND_BASE_URL", "https://api.resend.com/emails")
	v.SetDefault("DEV_OTP_REDIS_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "credential-lifecycle-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "credential-lifecycle")
	v.SetDefault("SWEEP_INTERVAL", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	c.NotifyMode = strings.ToLower(strings.TrimSpace(c.NotifyMode))
	switch c.NotifyMode {
	case NotifyModeQueue:
		if c.RabbitMQURL == "" {
			return errors.New("config: RABBITMQ_URL must be set when NOTIFY_MODE=queue")
		}
	case NotifyModeDirect:
	case NotifyModeDev:
		if c.IsProduction() {
			return errors.New("config: NOTIFY_MODE=dev must not be used when APP_ENV=production")
		}
	default:
		return errors.New("config: NOTIFY_MODE must be one of queue, direct, dev")
	}
	if c.OTPMaxAttempts <= 0 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimitMaxIssues <= 0 {
		return errors.New("config: RATE_LIMIT_MAX_ISSUES must be positive")
	}
	if c.PermanentBlockThreshold <= 0 {
		return errors.New("config: PERMANENT_BLOCK_THRESHOLD must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, time.Hour) }

// RefreshTTL returns 14 days if unset or invalid.
func (c *Config) RefreshTTL() time.Duration { return parseDuration(c.RefreshTokenTTL, 14*24*time.Hour) }

func (c *Config) OTPLifetime() time.Duration { return parseDuration(c.OTPTTL, 5*time.Minute) }

func (c *Config) RateWindow() time.Duration { return parseDuration(c.RateLimitWindow, 30*time.Minute) }

func (c *Config) BlockFor() time.Duration { return parseDuration(c.BlockDuration, time.Hour) }

func (c *Config) ResetCooldownDuration() time.Duration {
	return parseDuration(c.ResetCooldown, 24*time.Hour)
}

func (c *Config) ChangePeriodDuration() time.Duration {
	return parseDuration(c.ChangePeriod, 48*time.Hour)
}

func (c *Config) ForgotGuardDuration() time.Duration {
	return parseDuration(c.ForgotGuardWindow, 48*time.Hour)
}

func (c *Config) NotifyTimeoutDuration() time.Duration {
	return parseDuration(c.NotifyTimeout, 10*time.Second)
}

func (c *Config) SweepEvery() time.Duration { return parseDuration(c.SweepInterval, time.Minute) }

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
