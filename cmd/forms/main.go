package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/lead-notifier/internal/common"
	"github.com/example/lead-notifier/internal/email"
	"github.com/example/lead-notifier/internal/forms"
	"github.com/example/lead-notifier/internal/ratelimit"
	"github.com/example/lead-notifier/internal/transport"
	"github.com/example/lead-notifier/internal/webhook"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := common.LoadConfig("forms")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := common.NewLogger(cfg.ServiceName, cfg.LogLevel)
	shutdown, err := common.SetupOTel(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	defer common.ShutdownTelemetry(context.Background(), shutdown)

	metricsSrv := common.StartMetricsServer(cfg.MetricsPort, logger)
	defer metricsSrv.Shutdown(context.Background())

	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL must be provided")
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	repo, err := forms.NewPostgresRepository(pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("init repository")
	}
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	for _, key := range cfg.Email.Missing() {
		logger.Warn().Str("setting", key).Msg("email setting is not configured, submissions will fail until it is set")
	}
	if !cfg.Webhook.Enabled() {
		logger.Info().Msg("webhook dispatch disabled")
	}

	client := transport.NewClient(nil)
	mailer := email.NewDispatcher(email.ConfigFrom(cfg.Email), client, logger)
	events := webhook.NewDispatcher(webhook.ConfigFrom(cfg.Webhook), client, logger)

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimit.RedisAddr != "" {
		rdb := ratelimit.NewRedisClient(cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisPassword, cfg.RateLimit.RedisDB)
		defer rdb.Close()
		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RateLimit.RedisAddr).Msg("redis not reachable, rate limiter will fail open")
		}
		cancelPing()
		store = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.New(store, cfg.RateLimit.Window, logger)

	opts := []forms.Option{
		forms.WithRateLimit(limiter.Middleware, forms.Limits{Contact: cfg.RateLimit.Contact, Intake: cfg.RateLimit.Intake}),
	}
	if cfg.TrustProxy {
		opts = append(opts, forms.WithTrustProxy())
	}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, forms.WithCORS(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
			AllowCredentials: true,
			MaxAge:           300,
		})))
	}

	h := forms.NewHandler(repo, mailer, events, forms.Notification{
		Sender:     cfg.Email.Sender,
		Recipients: cfg.Email.Recipients,
	}, logger, opts...)

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.HTTPPort).Msg("forms service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := events.Wait(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("webhook dispatches still running at shutdown")
	}
}
