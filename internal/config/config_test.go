package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"REDIS_URL":        "redis://localhost:6379/0",
		"BACKEND_BASE_URL": "http://backend.local/api/",
		"PORT":             "",
		"CURRENCY_CODE":    "",
		"PRICING_STRATEGY": "",
		"DRAFT_TTL":        "",
		"SUBMIT_MODE":      "",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)
	require.Equal(t, "http://backend.local/api", cfg.BackendBaseURL)
	require.Equal(t, "INR", cfg.CurrencyCode)
	require.Equal(t, "live", cfg.PricingStrategy)
	require.Equal(t, 2*time.Hour, cfg.DraftTTL)
	require.Equal(t, config.SubmitModeSync, cfg.SubmitMode)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.True(t, cfg.SecurityHeadersEnabled)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["CURRENCY_CODE"] = "usd"
	env["PRICING_STRATEGY"] = "Snapshot"
	env["DRAFT_TTL"] = "30m"
	env["SUBMIT_MODE"] = "async"
	env["RATE_LIMIT_DRIVER"] = "ulule"
	env["RATE_LIMIT_MAX"] = "5"
	env["CORS_ALLOWED_ORIGINS"] = "https://a.example, https://b.example"
	env["PORT"] = ":9090"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.Equal(t, "snapshot", cfg.PricingStrategy)
	require.Equal(t, 30*time.Minute, cfg.DraftTTL)
	require.Equal(t, config.SubmitModeAsync, cfg.SubmitMode)
	require.Equal(t, "ulule", cfg.RateLimitDriver)
	require.Equal(t, 5, cfg.RateLimitMax)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRequiresBackend(t *testing.T) {
	env := baseEnv()
	env["BACKEND_BASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "BACKEND_BASE_URL")
}

func TestLoadRejectsUnknownSubmitMode(t *testing.T) {
	env := baseEnv()
	env["SUBMIT_MODE"] = "later"
	_, err := config.LoadForTests(env)
	require.ErrorContains(t, err, "SUBMIT_MODE")
}

func TestLoadReportsEveryInvalidSetting(t *testing.T) {
	env := baseEnv()
	env["CURRENCY_CODE"] = "rupees"
	env["PRICING_STRATEGY"] = "cheapest"
	env["RATE_LIMIT_DRIVER"] = "bucket"

	_, err := config.LoadForTests(env)
	require.Error(t, err)
	require.ErrorContains(t, err, "CURRENCY_CODE")
	require.ErrorContains(t, err, "PRICING_STRATEGY")
	require.ErrorContains(t, err, "RATE_LIMIT_DRIVER")
}

func TestLoadAcceptsErpAlias(t *testing.T) {
	env := baseEnv()
	env["PRICING_STRATEGY"] = "erp"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "erp", cfg.PricingStrategy)
}
