// Package tasks defines the background jobs processed by the worker.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/calder-labs/billing-gateway/internal/billing"
	"github.com/calder-labs/billing-gateway/internal/obs"
	"github.com/calder-labs/billing-gateway/internal/store"
)

// TypeBillingReplay re-dispatches a stored webhook event through the provider
// pipeline.
const TypeBillingReplay = "billing:replay"

// ReplayPayload identifies the event log row to replay.
type ReplayPayload struct {
	EventID string `json:"event_id"`
}

// NewReplayTask builds the asynq task for replaying one stored event.
func NewReplayTask(eventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ReplayPayload{EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("tasks: marshal replay payload: %w", err)
	}
	return asynq.NewTask(TypeBillingReplay, payload, asynq.MaxRetry(3)), nil
}

// EventStore is the slice of the store the replay handler needs.
type EventStore interface {
	GetWebhookEvent(ctx context.Context, id string) (store.WebhookEvent, error)
	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id, reason string) error
}

// ReplayHandler re-runs stored envelopes through event normalisation and the
// persistence callbacks. Signatures are not re-checked: the payload was
// verified when first received, and time-bound schemes would reject the old
// timestamp.
type ReplayHandler struct {
	Events    EventStore
	Registry  *billing.Registry
	Callbacks billing.Callbacks
	Log       zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h ReplayHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReplayPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("tasks: unmarshal replay payload: %v: %w", err, asynq.SkipRetry)
	}
	ev, err := h.Events.GetWebhookEvent(ctx, payload.EventID)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			h.count("not_found")
			return fmt.Errorf("tasks: replay %s: %v: %w", payload.EventID, err, asynq.SkipRetry)
		}
		h.count("error")
		return fmt.Errorf("tasks: replay %s: %w", payload.EventID, err)
	}
	provider, err := h.Registry.Resolve(ev.Provider)
	if err != nil {
		h.count("unsupported")
		return fmt.Errorf("tasks: replay %s: %v: %w", payload.EventID, err, asynq.SkipRetry)
	}
	if err := provider.HandleEvent(ctx, ev.Payload, h.Callbacks); err != nil {
		_ = h.Events.MarkEventFailed(ctx, ev.ID, err.Error())
		if errors.Is(err, billing.ErrMalformedPayload) {
			// The stored bytes will never decode; retrying cannot help.
			h.count("malformed")
			return fmt.Errorf("tasks: replay %s: %v: %w", payload.EventID, err, asynq.SkipRetry)
		}
		h.count("dispatch_error")
		return fmt.Errorf("tasks: replay %s: %w", payload.EventID, err)
	}
	if err := h.Events.MarkEventProcessed(ctx, ev.ID); err != nil {
		h.Log.Error().Str("event_id", ev.ID).Err(err).Msg("replay status update failed")
	}
	h.count("ok")
	h.Log.Info().Str("event_id", ev.ID).Str("provider", ev.Provider).Msg("event replayed")
	return nil
}

func (h ReplayHandler) count(result string) {
	if obs.ReplayDispatchTotal != nil {
		obs.ReplayDispatchTotal.WithLabelValues(result).Inc()
	}
}
