package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/calder-labs/billing-gateway/internal/app"
	"github.com/calder-labs/billing-gateway/internal/billing"
	"github.com/calder-labs/billing-gateway/internal/config"
	"github.com/calder-labs/billing-gateway/internal/obs"
	"github.com/calder-labs/billing-gateway/internal/store"
	"github.com/calder-labs/billing-gateway/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "billing"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := app.NewPgxPool(ctx, cfg.DatabaseURL, &obs.PGXTracer{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	st := store.New(pool)
	registry := billing.DefaultRegistry(billing.ProviderConfig{
		StripeWebhookSecret:       cfg.StripeWebhookSecret,
		StripeSignatureTolerance:  cfg.StripeSignatureTolerance,
		LemonSqueezyWebhookSecret: cfg.LemonSqueezyWebhookSecret,
	})

	redisOpts, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri")
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: 5,
	})

	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeBillingReplay, tasks.ReplayHandler{
		Events:    st,
		Registry:  registry,
		Callbacks: st.BillingCallbacks(),
		Log:       logger,
	})

	logger.Info().Msg("worker starting")
	if err := srv.Run(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker exited unexpectedly")
	}
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
