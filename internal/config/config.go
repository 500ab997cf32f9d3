package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"golang.org/x/text/currency"

	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

// Submission delivery modes.
const (
	SubmitModeSync  = "sync"
	SubmitModeAsync = "async"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	BackendBaseURL string
	BackendTimeout time.Duration

	CurrencyCode    string
	PricingStrategy string
	DraftTTL        time.Duration
	IdempotencyTTL  time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	LockWait         time.Duration

	SubmitMode        string
	QueueMaxRetry     int
	QueueName         string
	WorkerConcurrency int

	RateLimitDriver string
	RateLimitWindow time.Duration
	RateLimitMax    int

	CircuitBackendMinReq      int
	CircuitBackendFailureRate float64
	CircuitBackendOpenFor     time.Duration
	RetryBase                 time.Duration
	RetryMaxAttempts          int
	RetryJitterPercent        float64

	TenantHeader     string
	TenantRootDomain string
	TenantDefault    string

	BodyLimitBytes         int64
	SecurityHeadersEnabled bool
	EnableHSTS             bool

	LogFormat           string
	LogLevel            string
	MetricsNamespace    string
	MetricsEnabled      bool
	MetricsBucketsMS    string
	TracingEnabled      bool
	TracingExporter     string
	OTLPEndpoint        string
	TracingSampleRatio  float64
	ReadyRedisTimeout   time.Duration
	ReadyBackendTimeout time.Duration

	PprofEnabled bool
	PprofUser    string
	PprofPass    string
}

// Load reads configuration from the environment, after applying an optional
// .env file. Every invalid setting is reported, not just the first.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(nil)
}

// LoadForTests reads the environment with overrides applied on top. The
// process environment is left untouched; an empty override means unset.
func LoadForTests(overrides map[string]string) (*Config, error) {
	return load(overrides)
}

func load(overrides map[string]string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	for key, value := range overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		BackendBaseURL: strings.TrimRight(strings.TrimSpace(k.String("BACKEND_BASE_URL")), "/"),
		BackendTimeout: parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),

		CurrencyCode:    strings.ToUpper(valueOrDefault(k.String("CURRENCY_CODE"), "INR")),
		PricingStrategy: strings.ToLower(valueOrDefault(k.String("PRICING_STRATEGY"), "live")),
		DraftTTL:        parseDuration(k.String("DRAFT_TTL"), "2h"),
		IdempotencyTTL:  parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		LockWait:         parseDuration(k.String("LOCK_WAIT"), "3s"),

		SubmitMode:        strings.ToLower(valueOrDefault(k.String("SUBMIT_MODE"), SubmitModeSync)),
		QueueMaxRetry:     parseInt(k.String("QUEUE_MAX_RETRY"), 8),
		QueueName:         valueOrDefault(k.String("QUEUE_NAME"), "invoices"),
		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 10),

		RateLimitDriver: strings.ToLower(valueOrDefault(k.String("RATE_LIMIT_DRIVER"), "sliding")),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 600),

		CircuitBackendMinReq:      parseInt(k.String("CIRCUIT_BACKEND_MIN_REQUESTS"), 10),
		CircuitBackendFailureRate: parseFloat(k.String("CIRCUIT_BACKEND_FAILURE_RATE"), 0.5),
		CircuitBackendOpenFor:     parseDuration(k.String("CIRCUIT_BACKEND_OPEN_FOR"), "30s"),
		RetryBase:                 parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryMaxAttempts:          parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryJitterPercent:        parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),

		TenantHeader:     valueOrDefault(k.String("TENANT_HEADER"), "X-Tenant-ID"),
		TenantRootDomain: strings.TrimSpace(k.String("TENANT_ROOT_DOMAIN")),
		TenantDefault:    strings.TrimSpace(k.String("TENANT_DEFAULT")),

		BodyLimitBytes:         int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnabled: parseBoolDefault(k.String("SECURITY_HEADERS_ENABLED"), true),
		EnableHSTS:             parseBool(k.String("SECURITY_ENABLE_HSTS")),

		LogFormat:           valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:            valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:    valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "invoice"),
		MetricsEnabled:      parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsBucketsMS:    k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:      parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:     valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:        strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampleRatio:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ReadyRedisTimeout:   parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		ReadyBackendTimeout: parseDuration(k.String("HEALTH_READY_BACKEND_TIMEOUT"), "1s"),

		PprofEnabled: parseBool(k.String("OBS_ENABLE_PPROF")),
		PprofUser:    strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:    strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required"))
	}
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if _, err := currency.ParseISO(c.CurrencyCode); err != nil {
		errs = append(errs, fmt.Errorf("CURRENCY_CODE %q is not an ISO 4217 code", c.CurrencyCode))
	}
	if _, err := pricing.StrategyFor(c.PricingStrategy); err != nil {
		errs = append(errs, fmt.Errorf("PRICING_STRATEGY must be live or snapshot, got %q", c.PricingStrategy))
	}
	switch c.SubmitMode {
	case SubmitModeSync, SubmitModeAsync:
	default:
		errs = append(errs, fmt.Errorf("SUBMIT_MODE must be %q or %q, got %q", SubmitModeSync, SubmitModeAsync, c.SubmitMode))
	}
	switch c.RateLimitDriver {
	case "sliding", "ulule", "off":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_DRIVER must be sliding, ulule or off, got %q", c.RateLimitDriver))
	}
	if c.PprofEnabled && c.AppEnv == "production" && c.PprofUser == "" {
		errs = append(errs, errors.New("OBS_ENABLE_PPROF in production requires SECURE_PPROF_BASIC_AUTH_USER"))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string) bool {
	return parseBoolDefault(value, false)
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
