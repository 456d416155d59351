package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const lsTestSecret = "ls_secret"

func signLemonSqueezy(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func lsRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(string(body)))
	req.Header.Set("X-Signature", signature)
	return req
}

func TestLemonSqueezyVerifyWebhook(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	body := []byte(`{"meta":{"event_name":"order_created"}}`)

	payload, err := provider.VerifyWebhook(lsRequest(body, signLemonSqueezy(lsTestSecret, body)), body)
	require.NoError(t, err)
	require.Equal(t, body, payload)

	_, err = provider.VerifyWebhook(lsRequest(body, signLemonSqueezy("wrong", body)), body)
	require.ErrorIs(t, err, ErrInvalidSignature)

	_, err = provider.VerifyWebhook(lsRequest(body, "not-hex"), body)
	require.ErrorIs(t, err, ErrInvalidSignature)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(string(body)))
	_, err = provider.VerifyWebhook(req, body)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestLemonSqueezyHandleEventOrderCreated(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	rec := &callbackRecorder{}

	payload := []byte(`{
		"meta": {"event_name": "order_created", "custom_data": {"customer_id": "user-17"}},
		"data": {"id": "ord_5", "attributes": {"customer_id": 88, "variant_id": 12, "status": "paid"}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Equal(t, 1, rec.checkout)
	require.Equal(t, 1, rec.total())
	require.Equal(t, "user-17", rec.lastCustomer)
	require.Equal(t, "12", rec.lastSub.PriceID)
}

func TestLemonSqueezyHandleEventCustomerFallback(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	rec := &callbackRecorder{}

	payload := []byte(`{
		"meta": {"event_name": "subscription_updated"},
		"data": {"id": "sub_3", "attributes": {"customer_id": 88, "status": "active", "renews_at": "2026-10-01T00:00:00Z"}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Equal(t, 1, rec.updated)
	require.Equal(t, "88", rec.lastCustomer)
	require.Equal(t, 2026, rec.lastSub.CurrentPeriodEnd.Year())
}

func TestLemonSqueezyHandleEventLifecycle(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	rec := &callbackRecorder{}

	cancelled := []byte(`{"meta": {"event_name": "subscription_cancelled"}, "data": {"id": "sub_3", "attributes": {}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), cancelled, rec.callbacks()))
	require.Equal(t, 1, rec.deleted)
	require.Equal(t, "sub_3", rec.lastSubID)

	paid := []byte(`{"meta": {"event_name": "subscription_payment_success"}, "data": {"id": "inv_1", "attributes": {"order_id": 77}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), paid, rec.callbacks()))
	require.Equal(t, 1, rec.paid)
	require.Equal(t, "77", rec.lastSession)

	failed := []byte(`{"meta": {"event_name": "subscription_payment_failed"}, "data": {"id": "inv_2", "attributes": {}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), failed, rec.callbacks()))
	require.Equal(t, 1, rec.failed)
	require.Equal(t, "inv_2", rec.lastSession)
}

func TestLemonSqueezyHandleEventIgnoresUnknownTypes(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	rec := &callbackRecorder{}

	payload := []byte(`{"meta": {"event_name": "license_key_created"}, "data": {"id": "lk_1", "attributes": {}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Zero(t, rec.total())
}

func TestLemonSqueezyHandleEventUndecodablePayload(t *testing.T) {
	provider := LemonSqueezy{WebhookSecret: lsTestSecret}
	rec := &callbackRecorder{}

	err := provider.HandleEvent(context.Background(), []byte(`{"meta":`), rec.callbacks())
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.Zero(t, rec.total())
}
