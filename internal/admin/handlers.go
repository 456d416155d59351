// Package admin exposes the operator API: event log inspection, event replay
// and billing provider configuration.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/calder-labs/billing-gateway/internal/common"
	"github.com/calder-labs/billing-gateway/internal/settings"
	"github.com/calder-labs/billing-gateway/internal/store"
	"github.com/calder-labs/billing-gateway/internal/tasks"
)

// EventLog is the slice of the store the admin API reads.
type EventLog interface {
	ListWebhookEvents(ctx context.Context, limit, offset int) ([]store.WebhookEvent, int64, error)
	GetWebhookEvent(ctx context.Context, id string) (store.WebhookEvent, error)
}

// ProviderSettings reads and writes the tenant's active billing provider.
type ProviderSettings interface {
	ActiveProvider(ctx context.Context) (string, error)
	SetActiveProvider(ctx context.Context, provider string) error
}

// TaskEnqueuer enqueues background jobs; satisfied by *asynq.Client.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handlers implements the admin HTTP surface.
type Handlers struct {
	Events   EventLog
	Settings ProviderSettings
	Tasks    TaskEnqueuer
	Validate *validator.Validate
	Log      zerolog.Logger
}

// Routes mounts the admin endpoints on a router already guarded by RequireAuth.
func (h Handlers) Routes(r chi.Router) {
	r.Get("/webhook-events", h.ListEvents)
	r.Get("/webhook-events/{id}", h.GetEvent)
	r.Post("/webhook-events/{id}/replay", h.ReplayEvent)
	r.Get("/settings/billing", h.GetBillingSettings)
	r.Put("/settings/billing", h.UpdateBillingSettings)
}

type eventListResponse struct {
	Events []store.WebhookEvent `json:"events"`
	Total  int64                `json:"total"`
	Page   int                  `json:"page"`
}

// ListEvents returns recent webhook event log rows, newest first.
func (h Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	events, total, err := h.Events.ListWebhookEvents(r.Context(), perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "EVENT_LIST_ERROR", err.Error(), nil)
		return
	}
	if events == nil {
		events = []store.WebhookEvent{}
	}
	common.JSON(w, http.StatusOK, eventListResponse{Events: events, Total: total, Page: page})
}

// GetEvent returns a single event log row including its raw payload.
func (h Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ev, err := h.Events.GetWebhookEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			common.JSONError(w, http.StatusNotFound, "EVENT_NOT_FOUND", "webhook event not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "EVENT_FETCH_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, ev)
}

// ReplayEvent enqueues a background replay of a stored event.
func (h Handlers) ReplayEvent(w http.ResponseWriter, r *http.Request) {
	if h.Tasks == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "REPLAY_UNAVAILABLE", "task queue not configured", nil)
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Events.GetWebhookEvent(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			common.JSONError(w, http.StatusNotFound, "EVENT_NOT_FOUND", "webhook event not found", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "EVENT_FETCH_ERROR", err.Error(), nil)
		return
	}
	task, err := tasks.NewReplayTask(id)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPLAY_ENQUEUE_ERROR", err.Error(), nil)
		return
	}
	info, err := h.Tasks.EnqueueContext(r.Context(), task)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "REPLAY_ENQUEUE_ERROR", err.Error(), nil)
		return
	}
	subject, _ := common.Subject(r.Context())
	h.Log.Info().Str("event_id", id).Str("task_id", info.ID).Str("admin", subject).Msg("event replay enqueued")
	common.JSON(w, http.StatusAccepted, map[string]string{"task_id": info.ID, "event_id": id})
}

type billingSettingsResponse struct {
	Provider string `json:"provider"`
}

// GetBillingSettings reports the active provider, or 404 when none is set.
func (h Handlers) GetBillingSettings(w http.ResponseWriter, r *http.Request) {
	provider, err := h.Settings.ActiveProvider(r.Context())
	if err != nil {
		if errors.Is(err, settings.ErrNotConfigured) {
			common.JSONError(w, http.StatusNotFound, "BILLING_NOT_CONFIGURED", "no billing provider configured", nil)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_ERROR", err.Error(), nil)
		return
	}
	common.JSON(w, http.StatusOK, billingSettingsResponse{Provider: provider})
}

type updateBillingSettingsRequest struct {
	Provider string `json:"provider" validate:"required,oneof=stripe lemonsqueezy paddle"`
}

// UpdateBillingSettings switches the active provider.
func (h Handlers) UpdateBillingSettings(w http.ResponseWriter, r *http.Request) {
	var req updateBillingSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "malformed json body", nil)
		return
	}
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unsupported provider value", nil)
			return
		}
	}
	if err := h.Settings.SetActiveProvider(r.Context(), req.Provider); err != nil {
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_ERROR", err.Error(), nil)
		return
	}
	subject, _ := common.Subject(r.Context())
	h.Log.Info().Str("provider", req.Provider).Str("admin", subject).Msg("billing provider updated")
	w.WriteHeader(http.StatusNoContent)
}
