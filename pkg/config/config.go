// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	Settlement   SettlementConfig
	RevenueShare RevenueShareConfig
	SMTP         SMTPConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// EnableScheduler starts the daily revenue share tick and the withdrawal sweep.
	EnableScheduler bool
	AllowedOrigins  []string
	IdempotencyTTL  time.Duration
	// CallbackRateLimit is the number of provider callbacks accepted per
	// source IP per minute.
	CallbackRateLimit int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	// CurrencyTTL bounds how long a cached exchange rate may be served.
	CurrencyTTL time.Duration
}

type JWTConfig struct {
	Secret string
}

// GatewayConfig configures the mobile-money payout provider.
type GatewayConfig struct {
	BaseURL      string
	APIKey       string
	SharedSecret string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

// SettlementConfig controls the withdrawal reconciliation sweep.
type SettlementConfig struct {
	CallbackWindow time.Duration
	ExpiryWindow   time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

type RevenueShareConfig struct {
	TickInterval    time.Duration
	TimeZone        string
	DefaultOperator string
	RunLockTTL      time.Duration
	// MaxPayout caps a single contributor payout; zero disables the cap.
	MaxPayout decimal.Decimal
}

// SMTPConfig configures payout notification emails. An empty Host disables them.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
}

// Load reads a .env file when present, then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),

			EnableScheduler:   getBoolEnv("SCHEDULER_ENABLED", true),
			AllowedOrigins:    getListEnv("CORS_ALLOWED_ORIGINS"),
			IdempotencyTTL:    getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),
			CallbackRateLimit: getIntEnv("CALLBACK_RATE_LIMIT", 600),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:         normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getIntEnv("REDIS_DB", 0),
			CurrencyTTL: getDurationEnv("REDIS_CURRENCY_TTL", 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-this-secret"),
		},
		Gateway: GatewayConfig{
			BaseURL:      getEnv("GATEWAY_BASE_URL", ""),
			APIKey:       getEnv("GATEWAY_API_KEY", ""),
			SharedSecret: getEnv("GATEWAY_SHARED_SECRET", ""),
			Timeout:      getDurationEnv("GATEWAY_TIMEOUT", 15*time.Second),
			MaxAttempts:  getIntEnv("GATEWAY_MAX_ATTEMPTS", 3),
			RetryBackoff: getDurationEnv("GATEWAY_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Settlement: SettlementConfig{
			CallbackWindow: getDurationEnv("SETTLEMENT_CALLBACK_WINDOW", 10*time.Minute),
			ExpiryWindow:   getDurationEnv("SETTLEMENT_EXPIRY_WINDOW", 24*time.Hour),
			SweepInterval:  getDurationEnv("SETTLEMENT_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize: getIntEnv("SETTLEMENT_SWEEP_BATCH", 100),
		},
		RevenueShare: RevenueShareConfig{
			TickInterval:    getDurationEnv("REVENUE_SHARE_TICK", time.Hour),
			TimeZone:        getEnv("REVENUE_SHARE_TZ", "UTC"),
			DefaultOperator: getEnv("REVENUE_SHARE_OPERATOR", "MPESA"),
			RunLockTTL:      getDurationEnv("REVENUE_SHARE_LOCK_TTL", 30*time.Minute),
			MaxPayout:       getDecimalEnv("REVENUE_SHARE_MAX_PAYOUT", decimal.Zero),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getIntEnv("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			UseTLS:   getBoolEnv("SMTP_USE_TLS", false),
		},
	}
}

// Location resolves the revenue share time zone, falling back to UTC.
func (c RevenueShareConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
