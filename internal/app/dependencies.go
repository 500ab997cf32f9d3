package app

import (
	"context"
	"errors"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/config"
	"github.com/noah-isme/invoice-pricing/internal/draft"
	"github.com/noah-isme/invoice-pricing/internal/jobs"
	"github.com/noah-isme/invoice-pricing/internal/lock"
	"github.com/noah-isme/invoice-pricing/internal/obs"
	"github.com/noah-isme/invoice-pricing/internal/ratelimit"
	"github.com/noah-isme/invoice-pricing/internal/resilience"
)

// Dependencies enumerates the services shared by the API routes.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Redis       *redis.Client
	Validator   *validator.Validate
	Backend     *backend.Client
	TaskClient  *asynq.Client
	Limiter     ratelimit.Limiter
	Drafts      *draft.Service
	HTTPMetrics *obs.HTTPMetrics
}

// NewRedis parses REDIS_URL, instruments the client and checks it responds.
func NewRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewBackend builds the invoicing backend client with its circuit breaker.
func NewBackend(cfg *config.Config, logger zerolog.Logger) *backend.Client {
	breaker := resilience.NewBreaker(cfg.CircuitBackendMinReq, cfg.CircuitBackendFailureRate, cfg.CircuitBackendOpenFor).
		WithLogger(logger)
	return backend.NewClient(backend.Options{
		BaseURL:      cfg.BackendBaseURL,
		TenantHeader: cfg.TenantHeader,
		Timeout:      cfg.BackendTimeout,
		MaxAttempts:  cfg.RetryMaxAttempts,
		BaseBackoff:  cfg.RetryBase,
		Jitter:       cfg.RetryJitterPercent,
		Breaker:      breaker,
		Logger:       logger,
	})
}

// NewLimiter selects the rate limiter named by RATE_LIMIT_DRIVER. "off" yields nil.
func NewLimiter(cfg *config.Config, rdb *redis.Client) (ratelimit.Limiter, error) {
	switch cfg.RateLimitDriver {
	case "off":
		return nil, nil
	case "ulule":
		return ratelimit.NewUlule(rdb, "invoice:ratelimit")
	default:
		return ratelimit.Sliding{Client: rdb}, nil
	}
}

// TaskRedisOpt converts REDIS_URL into asynq connection options.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// New wires the draft service and its collaborators on top of an existing
// Redis client.
func New(cfg *config.Config, logger zerolog.Logger, rdb *redis.Client) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	if rdb == nil {
		return nil, errors.New("app: redis client is required")
	}
	deps := &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Redis:     rdb,
		Validator: common.NewValidator(),
		Backend:   NewBackend(cfg, logger),
	}

	limiter, err := NewLimiter(cfg, rdb)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	deps.Limiter = limiter

	svc := &draft.Service{
		Store:     draft.NewRedisStore(rdb, cfg.DraftTTL),
		Locker:    lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff},
		LockTTL:   cfg.LockTTL,
		LockWait:  cfg.LockWait,
		Submitter: deps.Backend,
		Mode:      cfg.SubmitMode,
		Strategy:  cfg.PricingStrategy,
		Logger:    logger.With().Str("component", "drafts").Logger(),
	}
	if cfg.SubmitMode == config.SubmitModeAsync {
		opt, err := TaskRedisOpt(cfg)
		if err != nil {
			return nil, err
		}
		deps.TaskClient = asynq.NewClient(opt)
		svc.Queue = jobs.Enqueuer{
			Client:    deps.TaskClient,
			Queue:     cfg.QueueName,
			MaxRetry:  cfg.QueueMaxRetry,
			Retention: cfg.IdempotencyTTL,
		}
	}
	deps.Drafts = svc

	if cfg.MetricsEnabled {
		deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBucketsMS), nil)
	}
	return deps, nil
}

// Close releases the task client. The Redis client is owned by the caller.
func (d *Dependencies) Close() error {
	if d == nil || d.TaskClient == nil {
		return nil
	}
	return d.TaskClient.Close()
}
