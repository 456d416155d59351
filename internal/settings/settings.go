package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConfigured is returned when no active billing provider has been set.
var ErrNotConfigured = errors.New("settings: billing provider not configured")

// Service reads the singleton billing configuration row.
type Service struct {
	Pool *pgxpool.Pool
}

// ActiveProvider returns the configured billing provider identifier. The value
// is read per call and never defaulted: an absent or blank row is a
// configuration error surfaced before any provider strategy is resolved.
func (s Service) ActiveProvider(ctx context.Context) (string, error) {
	if s.Pool == nil {
		return "", errors.New("settings: pool not configured")
	}
	var provider *string
	row := s.Pool.QueryRow(ctx, `SELECT provider FROM billing_settings WHERE id = 1`)
	if err := row.Scan(&provider); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotConfigured
		}
		return "", fmt.Errorf("settings: read billing provider: %w", err)
	}
	if provider == nil || strings.TrimSpace(*provider) == "" {
		return "", ErrNotConfigured
	}
	return strings.ToLower(strings.TrimSpace(*provider)), nil
}

// SetActiveProvider stores the active billing provider identifier.
func (s Service) SetActiveProvider(ctx context.Context, provider string) error {
	if s.Pool == nil {
		return errors.New("settings: pool not configured")
	}
	trimmed := strings.ToLower(strings.TrimSpace(provider))
	if trimmed == "" {
		return errors.New("settings: provider is required")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO billing_settings (id, provider, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET provider = EXCLUDED.provider, updated_at = now()`,
		trimmed)
	if err != nil {
		return fmt.Errorf("settings: set billing provider: %w", err)
	}
	return nil
}
