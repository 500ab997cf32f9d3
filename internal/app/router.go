package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/draft"
	"github.com/noah-isme/invoice-pricing/internal/health"
	tenantguard "github.com/noah-isme/invoice-pricing/internal/http/middleware"
	"github.com/noah-isme/invoice-pricing/internal/obs"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
	"github.com/noah-isme/invoice-pricing/internal/ratelimit"
	"github.com/noah-isme/invoice-pricing/internal/security"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

// NewRouter mounts health, metrics, pricing and draft routes.
func NewRouter(d *Dependencies) http.Handler {
	cfg := d.Config
	logger := d.Logger

	strategy, err := pricing.StrategyFor(cfg.PricingStrategy)
	if err != nil {
		logger.Warn().Err(err).Str("strategy", cfg.PricingStrategy).Msg("falling back to live pricing")
		strategy = pricing.Live{}
	}
	pricingHandler := &pricing.Handler{Strategy: strategy, Currency: cfg.CurrencyCode, Validate: d.Validator}
	draftHandler := &draft.Handler{Service: d.Drafts, Currency: cfg.CurrencyCode, Validate: d.Validator, Logger: logger}
	idem := common.Idem{R: d.Redis, TTL: cfg.IdempotencyTTL}
	limit := ratelimit.Handler{
		Limiter: d.Limiter,
		Config:  ratelimit.Config{Key: ratelimit.KeyByTenantClient, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	healthHandler := health.Handler{
		Checker:        health.Probes{Redis: d.Redis, Backend: d.Backend},
		RedisTimeout:   cfg.ReadyRedisTimeout,
		BackendTimeout: cfg.ReadyBackendTimeout,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tenant.NewResolver(cfg.TenantHeader, cfg.TenantRootDomain, cfg.TenantDefault).Middleware)
	if cfg.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if d.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key", cfg.TenantHeader},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: cfg.SecurityHeadersEnabled, EnableHSTS: cfg.EnableHSTS}.Middleware)

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(limit.Middleware)

		v.Post("/pricing/line", pricingHandler.Line)
		v.Post("/pricing/totals", pricingHandler.Totals)

		v.Route("/drafts", func(dr chi.Router) {
			dr.Use(tenantguard.RequireTenant)
			dr.Get("/{id}", draftHandler.Get)
			dr.Get("/{id}/quote", draftHandler.Quote)
			dr.Get("/{id}/quote.pdf", draftHandler.QuotePDF)
			dr.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/", draftHandler.Open)
				g.Delete("/{id}", draftHandler.Discard)
				g.Post("/{id}/items", draftHandler.AddItem)
				g.Patch("/{id}/items/{rowId}", draftHandler.UpdateItem)
				g.Delete("/{id}/items/{rowId}", draftHandler.RemoveItem)
				g.Put("/{id}/discount", draftHandler.SetDiscount)
				g.Put("/{id}/details", draftHandler.SetDetails)
				g.Post("/{id}/submit", draftHandler.Submit)
			})
		})
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
