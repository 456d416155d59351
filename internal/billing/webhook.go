package billing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/calder-labs/billing-gateway/internal/common"
	"github.com/calder-labs/billing-gateway/internal/obs"
	"github.com/calder-labs/billing-gateway/internal/settings"
)

// SettingsSource reports which payment provider the tenant has activated.
type SettingsSource interface {
	ActiveProvider(ctx context.Context) (string, error)
}

// ReplayGuard deduplicates webhook deliveries. Acquire returns false when the
// key has already been seen inside the retention window; Release drops a key
// whose delivery failed, so the provider's automatic redelivery of the same
// payload is not rejected as a duplicate.
type ReplayGuard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// EventLog records received envelopes so failed deliveries can be inspected
// and replayed.
type EventLog interface {
	InsertWebhookEvent(ctx context.Context, provider, signature string, payload []byte) (string, error)
	MarkEventProcessed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id, reason string) error
}

// Webhook ingests provider callbacks: it resolves the active provider,
// verifies the signature, guards against replays and dispatches the
// normalised event into the persistence callbacks.
type Webhook struct {
	Settings  SettingsSource
	Registry  *Registry
	Callbacks Callbacks
	Replay    ReplayGuard
	Events    EventLog
	Log       zerolog.Logger
}

// Handle processes a single webhook delivery.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.Settings == nil || h.Registry == nil {
		h.count("unknown", "not_configured")
		common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerID, err := h.Settings.ActiveProvider(ctx)
	if err != nil {
		if errors.Is(err, settings.ErrNotConfigured) {
			h.count("unknown", "not_configured")
			common.JSONError(w, http.StatusInternalServerError, "BILLING_NOT_CONFIGURED", "no billing provider configured", nil)
			return
		}
		h.count("unknown", "error")
		common.JSONError(w, http.StatusInternalServerError, "SETTINGS_ERROR", err.Error(), nil)
		return
	}
	provider, err := h.Registry.Resolve(providerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnsupportedProvider):
			h.count(providerID, "unsupported")
			common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		case errors.Is(err, ErrNotImplemented):
			h.count(providerID, "not_implemented")
			common.JSONError(w, http.StatusNotImplemented, "PROVIDER_NOT_IMPLEMENTED", err.Error(), nil)
		default:
			h.count(providerID, "error")
			common.JSONError(w, http.StatusInternalServerError, "PROVIDER_INIT_ERROR", err.Error(), nil)
		}
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.count(providerID, "invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	payload, err := provider.VerifyWebhook(r, body)
	if err != nil {
		h.count(providerID, "invalid_signature")
		h.Log.Warn().Str("provider", providerID).Err(err).Msg("webhook signature rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	dedupKey := fmt.Sprintf("wh:%s:%s", providerID, common.Sha256Hex(body))
	if h.Replay != nil {
		fresh, err := h.Replay.Acquire(ctx, dedupKey)
		if err != nil {
			h.count(providerID, "error")
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !fresh {
			h.count(providerID, "replay")
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}
	var eventID string
	if h.Events != nil {
		eventID, err = h.Events.InsertWebhookEvent(ctx, providerID, r.Header.Get(provider.SignatureHeader()), payload)
		if err != nil {
			h.Log.Error().Str("provider", providerID).Err(err).Msg("webhook event log write failed")
			eventID = ""
		}
	}
	if err := provider.HandleEvent(ctx, payload, h.Callbacks); err != nil {
		if eventID != "" {
			_ = h.Events.MarkEventFailed(ctx, eventID, err.Error())
		}
		// Failed deliveries give the key back so the provider's retry of the
		// same payload is admitted instead of answered 409 for the whole TTL.
		if h.Replay != nil {
			if relErr := h.Replay.Release(ctx, dedupKey); relErr != nil {
				h.Log.Error().Str("provider", providerID).Err(relErr).Msg("replay key release failed")
			}
		}
		if errors.Is(err, ErrMalformedPayload) {
			h.count(providerID, "malformed_payload")
			h.Log.Warn().Str("provider", providerID).Str("event_id", eventID).Err(err).Msg("webhook payload undecodable")
			common.JSONError(w, http.StatusBadRequest, "MALFORMED_PAYLOAD", "payload could not be decoded", nil)
			return
		}
		h.count(providerID, "dispatch_error")
		h.Log.Error().Str("provider", providerID).Str("event_id", eventID).Err(err).Msg("webhook dispatch failed")
		common.JSONError(w, http.StatusInternalServerError, "DISPATCH_FAILED", "event processing failed", nil)
		return
	}
	if eventID != "" {
		_ = h.Events.MarkEventProcessed(ctx, eventID)
	}
	h.count(providerID, "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (h Webhook) count(provider, result string) {
	if obs.BillingWebhookTotal != nil {
		obs.BillingWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}
