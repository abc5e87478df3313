package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"github.com/keranjang-dev/keranjang/internal/cart"
	"github.com/keranjang-dev/keranjang/internal/common"
	"github.com/keranjang-dev/keranjang/internal/config"
	"github.com/keranjang-dev/keranjang/internal/events"
	"github.com/keranjang-dev/keranjang/internal/health"
	"github.com/keranjang-dev/keranjang/internal/lock"
	"github.com/keranjang-dev/keranjang/internal/obs"
	"github.com/keranjang-dev/keranjang/internal/pricing"
	"github.com/keranjang-dev/keranjang/internal/ratelimit"
	"github.com/keranjang-dev/keranjang/internal/security"
	"github.com/keranjang-dev/keranjang/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	mode, err := pricing.ParsePriceMode(cfg.TaxProductPrices)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse product price mode")
	}
	display, err := pricing.ParsePriceMode(cfg.TaxProductDisplayPrices)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse display price mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	cartStore := store.NewRedis(redisClient, cfg.CartTTL, cfg.CartKeyPrefix)

	bus := &events.Bus{
		Notifiers: []events.Notifier{
			events.LogNotifier{Logger: logger},
		},
	}

	cartMetrics := obs.NewCartMetrics(cfg.MetricsNamespace, nil)
	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), nil)

	cartSvc := &cart.Service{
		Store:   cartStore,
		Bus:     bus,
		Logger:  logger,
		Metrics: cartMetrics,
		Lock:    &lock.Locker{R: redisClient},
		LockTTL: cfg.CartLockTTL,
		Mode:    mode,
	}
	cartHandler := &cart.Handler{
		Svc:      cartSvc,
		Validate: validator.New(),
		Display:  display,
		Format: cart.MoneyFormat{
			Decimals:     cfg.MoneyDecimals,
			DecimalPoint: cfg.MoneyDecimalPoint,
			ThousandsSep: cfg.MoneyThousandsSep,
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	healthHandler := health.Handler{
		Checker:      readinessChecker{redis: redisClient},
		RedisTimeout: 300 * time.Millisecond,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimitMax > 0 {
			limiter := ratelimit.Handler{
				Limiter: ratelimit.Limiter{R: redisClient},
				Config: ratelimit.Config{
					Key:    common.ClientIP,
					Window: cfg.RateLimitWindow,
					Max:    cfg.RateLimitMax,
				},
				OnError: func(r *http.Request, err error) {
					logger.Warn().Err(err).Str("path", r.URL.Path).Msg("rate limiter unavailable")
				},
			}
			v1.Use(limiter.Middleware)
		}
		cartHandler.Mount(v1)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		health.SetReady(false)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Str("mode", mode.String()).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

type readinessChecker struct {
	redis *redis.Client
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}
