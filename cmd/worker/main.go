package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/invoice-pricing/internal/app"
	"github.com/noah-isme/invoice-pricing/internal/config"
	"github.com/noah-isme/invoice-pricing/internal/jobs"
	"github.com/noah-isme/invoice-pricing/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().
		Str("env", cfg.AppEnv).
		Str("component", "worker").
		Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "invoice-pricing-worker",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSampleRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	redisOpt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	processor := &jobs.Processor{
		Submitter: app.NewBackend(cfg, logger),
		Logger:    logger,
	}
	mux := asynq.NewServeMux()
	mux.Handle(jobs.TypeSubmitInvoice, processor)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{cfg.QueueName: 1},
		RetryDelayFunc:  retryDelay(cfg),
		Logger:          taskLogger{logger: logger},
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).
				Str("task", task.Type()).
				Int("retried", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})

	logger.Info().Str("queue", cfg.QueueName).Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	// Run blocks until SIGINT or SIGTERM and then drains in-flight tasks.
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped with error")
	}
	logger.Info().Msg("worker shutdown complete")
}

// retryDelay backs off exponentially from RETRY_BASE, capped at ten minutes.
func retryDelay(cfg *config.Config) asynq.RetryDelayFunc {
	base := cfg.RetryBase
	if base < time.Second {
		base = time.Second
	}
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		if n > 10 {
			n = 10
		}
		d := base << n
		if d > 10*time.Minute {
			d = 10 * time.Minute
		}
		return d
	}
}

// taskLogger adapts zerolog to asynq.Logger.
type taskLogger struct {
	logger zerolog.Logger
}

func (l taskLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l taskLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
