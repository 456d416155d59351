package app

import (
	"context"
	"fmt"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/calder-labs/billing-gateway/internal/config"
	"github.com/calder-labs/billing-gateway/internal/obs"
)

// Dependencies enumerates the shared infrastructure handed to handlers and
// the worker, to make wiring explicit.
type Dependencies struct {
	DB              *pgxpool.Pool
	Redis           *redis.Client
	Validator       *validator.Validate
	AdminLimiter    *limiter.Limiter
	TaskClient      *asynq.Client
	MetricsRegistry *prometheus.Registry
}

// NewPgxPool opens the connection pool with query tracing attached.
func NewPgxPool(ctx context.Context, databaseURL string, tracer *obs.PGXTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse database url: %w", err)
	}
	if tracer != nil {
		poolCfg.ConnConfig.Tracer = tracer
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("app: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	return pool, nil
}

// NewRedisClient connects to Redis with OpenTelemetry instrumentation.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: instrument redis: %w", err)
	}
	return client, nil
}

// NewAdminLimiter builds the fixed-window limiter guarding the admin API,
// backed by the shared Redis client.
func NewAdminLimiter(rdb *redis.Client, rateSpec string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(rateSpec)
	if err != nil {
		return nil, fmt.Errorf("app: parse admin rate %q: %w", rateSpec, err)
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "admin_rl"})
	if err != nil {
		return nil, fmt.Errorf("app: limiter store: %w", err)
	}
	return limiter.New(store, rate), nil
}

// NewTaskClient builds the asynq client for enqueuing replay jobs.
func NewTaskClient(cfg *config.Config) (*asynq.Client, error) {
	opts, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis uri for tasks: %w", err)
	}
	return asynq.NewClient(opts), nil
}

// Tracer returns the default OpenTelemetry tracer for instrumentation hooks.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
