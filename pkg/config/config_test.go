package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "")
	t.Setenv("SETTLEMENT_CALLBACK_WINDOW", "")

	cfg := Load()

	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Settlement.CallbackWindow)
	assert.Equal(t, "MPESA", cfg.RevenueShare.DefaultOperator)
	assert.True(t, cfg.RevenueShare.MaxPayout.IsZero())
	assert.True(t, cfg.Server.EnableScheduler)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_MAX_ATTEMPTS", "5")
	t.Setenv("GATEWAY_RETRY_BACKOFF", "2s")
	t.Setenv("REVENUE_SHARE_MAX_PAYOUT", "2500.50")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg := Load()

	assert.Equal(t, 5, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Gateway.RetryBackoff)
	assert.True(t, cfg.RevenueShare.MaxPayout.Equal(decimal.RequireFromString("2500.50")))
	assert.False(t, cfg.Server.EnableScheduler)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
}

func TestValidateCoreReportsAllMissing(t *testing.T) {
	cfg := &Config{}

	err := cfg.ValidateCore()
	require.Error(t, err)
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "SERVER_PORT", "JWT_SECRET", "GATEWAY_BASE_URL", "GATEWAY_SHARED_SECRET"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateCoreRejectsInvertedWindows(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{URL: "postgres://x"},
		Redis:    RedisConfig{URL: "localhost:6379"},
		JWT:      JWTConfig{Secret: "s3cret"},
		Gateway: GatewayConfig{
			BaseURL:      "https://gateway.example",
			SharedSecret: "shh",
			Timeout:      time.Second,
			MaxAttempts:  3,
		},
		Settlement: SettlementConfig{CallbackWindow: time.Hour, ExpiryWindow: time.Minute},
	}

	err := cfg.ValidateCore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SETTLEMENT_EXPIRY_WINDOW")

	cfg.Settlement.ExpiryWindow = 2 * time.Hour
	assert.NoError(t, cfg.ValidateCore())
}

func TestRevenueShareLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, RevenueShareConfig{TimeZone: "Not/AZone"}.Location())
}
