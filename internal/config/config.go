package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	Stripe       StripeConfig
	Email        EmailConfig
	SMS          SMSConfig
	Verification VerificationConfig
	Session      SessionConfig
	Checkout     CheckoutConfig
	Notification NotificationConfig
	Admin        AdminConfig
	Auth         AuthConfig
	LogLevel     string
}

type ServerConfig struct {
	Port           string
	PublicURL      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
	RateLimit      int // requests per minute per IP on code and login endpoints
}

type DatabaseConfig struct {
	Driver       string // "postgres" or "sqlite"
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	OrderEvents       string
	PaymentEvents     string
	FulfillmentStatus string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

type EmailConfig struct {
	Provider     string // "http", "smtp" or "log"
	APIURL       string
	APIKey       string
	From         string
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	Timeout      time.Duration
}

type SMSConfig struct {
	Provider   string // "twilio" or "log"
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

type VerificationConfig struct {
	EmailCodeTTL   time.Duration
	MobileCodeTTL  time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
}

type SessionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

type CheckoutConfig struct {
	ShippingFee       int64 // minor units
	TaxRateBasisPts   int64 // 825 = 8.25%
	PendingOrderTTL   time.Duration
	IdempotencyKeyTTL time.Duration
	JanitorInterval   time.Duration
}

type NotificationConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	Multiplier      float64
}

type AdminConfig struct {
	PINHash string // bcrypt hash, see `ordersctl hash-pin`
	Email   string
}

type AuthConfig struct {
	ServiceTokenSecret string
	ServiceTokenIssuer string
}

func Load() *Config {
	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		Server: ServerConfig{
			Port:           getEnv("PORT", ":8080"),
			PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:      getEnvInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "orders_user"),
			Password:     getEnv("DB_PASSWORD", "orders_pass"),
			Database:     getEnv("DB_NAME", "orders"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			SQLitePath:   getEnv("SQLITE_PATH", "file:orders.db?cache=shared"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			GroupID: getEnv("KAFKA_GROUP_ID", "order-service"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderEvents:       getEnv("KAFKA_TOPIC_ORDER_EVENTS", "orders.events"),
				PaymentEvents:     getEnv("KAFKA_TOPIC_PAYMENT_EVENTS", "payments.events"),
				FulfillmentStatus: getEnv("KAFKA_TOPIC_FULFILLMENT_STATUS", "fulfillment.status"),
			},
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
			Currency:      strings.ToLower(getEnv("STRIPE_CURRENCY", "usd")),
		},
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "log"),
			APIURL:       getEnv("EMAIL_API_URL", "https://api.resend.com"),
			APIKey:       getEnv("EMAIL_API_KEY", ""),
			From:         getEnv("EMAIL_FROM", "Orders <orders@example.com>"),
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnv("SMTP_PORT", "587"),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			Timeout:      getEnvDuration("EMAIL_TIMEOUT", 10*time.Second),
		},
		SMS: SMSConfig{
			Provider:   getEnv("SMS_PROVIDER", "log"),
			BaseURL:    getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			From:       getEnv("TWILIO_FROM", ""),
			Timeout:    getEnvDuration("SMS_TIMEOUT", 10*time.Second),
		},
		Verification: VerificationConfig{
			EmailCodeTTL:   getEnvDuration("OTP_EMAIL_TTL", 10*time.Minute),
			MobileCodeTTL:  getEnvDuration("OTP_MOBILE_TTL", 5*time.Minute),
			ResendCooldown: getEnvDuration("OTP_RESEND_COOLDOWN", time.Minute),
			MaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 5),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 30*24*time.Hour),
			SweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", 10*time.Minute),
		},
		Checkout: CheckoutConfig{
			ShippingFee:       int64(getEnvInt("CHECKOUT_SHIPPING_FEE", 500)),
			TaxRateBasisPts:   int64(getEnvInt("CHECKOUT_TAX_BASIS_POINTS", 0)),
			PendingOrderTTL:   getEnvDuration("PENDING_ORDER_TTL", 24*time.Hour),
			IdempotencyKeyTTL: getEnvDuration("IDEMPOTENCY_KEY_TTL", 24*time.Hour),
			JanitorInterval:   getEnvDuration("PENDING_ORDER_JANITOR_INTERVAL", 15*time.Minute),
		},
		Notification: NotificationConfig{
			MaxAttempts:     getEnvInt("EMAIL_MAX_ATTEMPTS", 3),
			InitialInterval: getEnvDuration("EMAIL_RETRY_INITIAL_INTERVAL", 500*time.Millisecond),
			Multiplier:      getEnvFloat("EMAIL_RETRY_MULTIPLIER", 2),
		},
		Admin: AdminConfig{
			PINHash: getEnv("ADMIN_PIN_HASH", ""),
			Email:   getEnv("ADMIN_EMAIL", "admin@example.com"),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: getEnv("SERVICE_TOKEN_SECRET", ""),
			ServiceTokenIssuer: getEnv("SERVICE_TOKEN_ISSUER", "fulfillment"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
