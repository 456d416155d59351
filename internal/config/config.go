package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	CORSAllowedOrigins []string

	// Webhook secrets, one per billing provider integration.
	StripeWebhookSecret       string
	StripeSignatureTolerance  time.Duration
	LemonSqueezyWebhookSecret string

	// Shared secret expected on database change webhooks, and the verifier
	// variant selected via DB_WEBHOOK_VERIFIER.
	DBWebhookSecret   string
	DBWebhookVerifier string

	WebhookMaxBodyBytes int64
	WebhookReplayTTL    time.Duration
	WebhookRateWindow   time.Duration
	WebhookRateMax      int

	AdminJWTSecret string
	AdminRateLimit string

	RunMigrations bool
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                    valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                      valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:               k.String("DATABASE_URL"),
		RedisURL:                  k.String("REDIS_URL"),
		CORSAllowedOrigins:        splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		StripeWebhookSecret:       k.String("STRIPE_WEBHOOK_SECRET"),
		StripeSignatureTolerance:  parseDuration(k.String("STRIPE_SIGNATURE_TOLERANCE"), "5m"),
		LemonSqueezyWebhookSecret: k.String("LEMONSQUEEZY_WEBHOOK_SECRET"),
		DBWebhookSecret:           k.String("DB_WEBHOOK_SECRET"),
		DBWebhookVerifier:         strings.TrimSpace(k.String("DB_WEBHOOK_VERIFIER")),
		WebhookMaxBodyBytes:       int64(parseInt(k.String("WEBHOOK_MAX_BODY_BYTES"), 1<<20)),
		WebhookReplayTTL:          parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookRateWindow:         parseDuration(k.String("WEBHOOK_RATE_WINDOW"), "1m"),
		WebhookRateMax:            parseInt(k.String("WEBHOOK_RATE_MAX"), 300),
		AdminJWTSecret:            k.String("ADMIN_JWT_SECRET"),
		AdminRateLimit:            valueOrDefault(k.String("ADMIN_RATE_LIMIT"), "60-M"),
		RunMigrations:             parseBool(k.String("RUN_MIGRATIONS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AdminJWTSecret == "" {
		return nil, errors.New("ADMIN_JWT_SECRET is required")
	}

	return cfg, nil
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
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
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
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests overrides environment variables for the duration of a Load call.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
