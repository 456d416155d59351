package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calder-labs/billing-gateway/internal/billing"
)

// ErrEventNotFound is returned when a webhook event id has no stored row.
var ErrEventNotFound = errors.New("store: webhook event not found")

// Webhook event log statuses.
const (
	EventStatusReceived  = "received"
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
)

// WebhookEvent is a row of the webhook event log. The raw payload and
// signature header are retained so failed events can be replayed.
type WebhookEvent struct {
	ID          string     `json:"id"`
	Provider    string     `json:"provider"`
	Signature   string     `json:"signature,omitempty"`
	Payload     []byte     `json:"payload"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Store persists subscriptions, payments and the webhook event log.
type Store struct {
	Pool *pgxpool.Pool
}

// New constructs a store backed by the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// UpsertSubscription inserts or updates a subscription record. Repeated
// delivery of the same event converges on the same row.
func (s *Store) UpsertSubscription(ctx context.Context, sub billing.Subscription) error {
	if sub.ID == "" {
		return errors.New("store: subscription id is required")
	}
	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd = &sub.CurrentPeriodEnd
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO subscriptions (id, customer_id, status, price_id, quantity, current_period_end, raw, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			quantity = EXCLUDED.quantity,
			current_period_end = EXCLUDED.current_period_end,
			raw = EXCLUDED.raw,
			updated_at = now()`,
		sub.ID, sub.CustomerID, sub.Status, nullIfEmpty(sub.PriceID), sub.Quantity, periodEnd, []byte(sub.Raw))
	if err != nil {
		return fmt.Errorf("store: upsert subscription: %w", err)
	}
	return nil
}

// MarkSubscriptionDeleted records a subscription cancellation. Unknown ids are
// a no-op so out-of-order deliveries do not fail.
func (s *Store) MarkSubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return errors.New("store: subscription id is required")
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE subscriptions SET status = 'canceled', updated_at = now() WHERE id = $1`,
		subscriptionID)
	if err != nil {
		return fmt.Errorf("store: mark subscription deleted: %w", err)
	}
	return nil
}

// RecordPayment upserts the terminal payment status for a checkout session.
func (s *Store) RecordPayment(ctx context.Context, sessionID, status string) error {
	if sessionID == "" {
		return errors.New("store: session id is required")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO payments (session_id, status, occurred_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET status = EXCLUDED.status, occurred_at = now()`,
		sessionID, status)
	if err != nil {
		return fmt.Errorf("store: record payment: %w", err)
	}
	return nil
}

// InsertWebhookEvent appends a received envelope to the event log and returns
// the assigned id.
func (s *Store) InsertWebhookEvent(ctx context.Context, provider, signature string, payload []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO webhook_events (id, provider, signature, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		id, provider, nullIfEmpty(signature), payload, EventStatusReceived)
	if err != nil {
		return "", fmt.Errorf("store: insert webhook event: %w", err)
	}
	return id, nil
}

// MarkEventProcessed transitions an event log row to processed.
func (s *Store) MarkEventProcessed(ctx context.Context, id string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_events SET status = $2, error = NULL, processed_at = now() WHERE id = $1`,
		id, EventStatusProcessed)
	if err != nil {
		return fmt.Errorf("store: mark event processed: %w", err)
	}
	return nil
}

// MarkEventFailed transitions an event log row to failed, retaining the reason.
func (s *Store) MarkEventFailed(ctx context.Context, id, reason string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE webhook_events SET status = $2, error = $3, processed_at = now() WHERE id = $1`,
		id, EventStatusFailed, reason)
	if err != nil {
		return fmt.Errorf("store: mark event failed: %w", err)
	}
	return nil
}

// GetWebhookEvent loads a single event log row.
func (s *Store) GetWebhookEvent(ctx context.Context, id string) (WebhookEvent, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, provider, COALESCE(signature, ''), payload, status, COALESCE(error, ''), received_at, processed_at
		FROM webhook_events WHERE id = $1`, id)
	var ev WebhookEvent
	if err := row.Scan(&ev.ID, &ev.Provider, &ev.Signature, &ev.Payload, &ev.Status, &ev.Error, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WebhookEvent{}, ErrEventNotFound
		}
		return WebhookEvent{}, fmt.Errorf("store: get webhook event: %w", err)
	}
	return ev, nil
}

// ListWebhookEvents returns recent event log rows, newest first.
func (s *Store) ListWebhookEvents(ctx context.Context, limit, offset int) ([]WebhookEvent, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int64
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM webhook_events`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count webhook events: %w", err)
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, provider, COALESCE(signature, ''), payload, status, COALESCE(error, ''), received_at, processed_at
		FROM webhook_events ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list webhook events: %w", err)
	}
	defer rows.Close()
	var events []WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		if err := rows.Scan(&ev.ID, &ev.Provider, &ev.Signature, &ev.Payload, &ev.Status, &ev.Error, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
			return nil, 0, fmt.Errorf("store: scan webhook event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("store: iterate webhook events: %w", err)
	}
	return events, total, nil
}

// InsertDBChangeEvent records a row-change notification from the managed backend.
func (s *Store) InsertDBChangeEvent(ctx context.Context, table, op string, record []byte) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO db_change_events (id, table_name, op, record, received_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), table, op, record)
	if err != nil {
		return fmt.Errorf("store: insert db change event: %w", err)
	}
	return nil
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
