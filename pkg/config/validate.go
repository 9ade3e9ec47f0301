package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if strings.TrimSpace(c.Gateway.BaseURL) == "" {
		missing = append(missing, "GATEWAY_BASE_URL")
	}
	if strings.TrimSpace(c.Gateway.SharedSecret) == "" {
		missing = append(missing, "GATEWAY_SHARED_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	var invalid []string
	if c.Gateway.MaxAttempts < 1 {
		invalid = append(invalid, "GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Gateway.Timeout <= 0 {
		invalid = append(invalid, "GATEWAY_TIMEOUT must be positive")
	}
	if c.Settlement.ExpiryWindow < c.Settlement.CallbackWindow {
		invalid = append(invalid, "SETTLEMENT_EXPIRY_WINDOW must not be shorter than SETTLEMENT_CALLBACK_WINDOW")
	}
	if c.RevenueShare.MaxPayout.IsNegative() {
		invalid = append(invalid, "REVENUE_SHARE_MAX_PAYOUT must not be negative")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}

	return nil
}
