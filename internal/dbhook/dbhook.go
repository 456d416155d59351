// Package dbhook ingests row-change notifications pushed by the managed
// database backend. The verifier implementation is selected by configuration
// so deployments can swap in an alternate scheme without code changes.
package dbhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calder-labs/billing-gateway/internal/common"
	"github.com/calder-labs/billing-gateway/internal/obs"
)

// VerifierSharedSecret is the built-in verifier, used when the selector is
// unset.
const VerifierSharedSecret = "shared-secret"

// Verifier authenticates an inbound database webhook request.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// SelectVerifier maps a configured verifier name to an implementation. An
// empty name selects the built-in shared-secret verifier; unknown names are a
// startup error so misconfiguration is caught before traffic arrives.
func SelectVerifier(name, secret string) (Verifier, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", VerifierSharedSecret:
		if secret == "" {
			return nil, fmt.Errorf("dbhook: shared-secret verifier requires DB_WEBHOOK_SECRET")
		}
		return SharedSecretVerifier{Secret: secret}, nil
	default:
		return nil, fmt.Errorf("dbhook: unknown verifier %q", name)
	}
}

// SharedSecretVerifier checks an HMAC-SHA256 of the raw body carried in the
// X-Webhook-Signature header.
type SharedSecretVerifier struct {
	Secret string
}

func (v SharedSecretVerifier) Verify(r *http.Request, body []byte) error {
	header := strings.TrimSpace(r.Header.Get("X-Webhook-Signature"))
	if header == "" {
		return fmt.Errorf("dbhook: missing signature header")
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return fmt.Errorf("dbhook: malformed signature header")
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return fmt.Errorf("dbhook: signature mismatch")
	}
	return nil
}

// ChangeLog persists accepted change notifications.
type ChangeLog interface {
	InsertDBChangeEvent(ctx context.Context, table, op string, record []byte) error
}

type changeEnvelope struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	Record json.RawMessage `json:"record"`
}

// Handler accepts database change webhooks.
type Handler struct {
	Verifier Verifier
	Changes  ChangeLog
	Log      zerolog.Logger
}

// Handle verifies and records a single change notification.
func (h Handler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil || h.Changes == nil {
		h.count("not_configured")
		common.JSONError(w, http.StatusInternalServerError, "DBHOOK_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.count("invalid_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if err := h.Verifier.Verify(r, body); err != nil {
		h.count("invalid_signature")
		h.Log.Warn().Err(err).Msg("db webhook rejected")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	var envelope changeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Table == "" || envelope.Op == "" {
		h.count("invalid_payload")
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "malformed change notification", nil)
		return
	}
	if err := h.Changes.InsertDBChangeEvent(r.Context(), envelope.Table, envelope.Op, envelope.Record); err != nil {
		h.count("error")
		h.Log.Error().Err(err).Str("table", envelope.Table).Msg("db webhook store failed")
		common.JSONError(w, http.StatusInternalServerError, "STORE_ERROR", "unable to record change", nil)
		return
	}
	h.count("ok")
	w.WriteHeader(http.StatusNoContent)
}

func (h Handler) count(result string) {
	if obs.DBWebhookTotal != nil {
		obs.DBWebhookTotal.WithLabelValues(result).Inc()
	}
}
