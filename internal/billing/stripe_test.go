package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const stripeTestSecret = "whsec_test"

func signStripe(t *testing.T, secret string, ts time.Time, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func stripeRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(string(body)))
	req.Header.Set("Stripe-Signature", signature)
	return req
}

func TestStripeVerifyWebhookAcceptsValidSignature(t *testing.T) {
	now := time.Now()
	provider := NewStripe(stripeTestSecret, 5*time.Minute)
	provider.now = func() time.Time { return now }

	body := []byte(`{"type":"checkout.session.completed"}`)
	payload, err := provider.VerifyWebhook(stripeRequest(body, signStripe(t, stripeTestSecret, now, body)), body)
	require.NoError(t, err)
	require.Equal(t, body, payload)
}

func TestStripeVerifyWebhookRejectsTamperedSignature(t *testing.T) {
	now := time.Now()
	provider := NewStripe(stripeTestSecret, 5*time.Minute)
	provider.now = func() time.Time { return now }

	body := []byte(`{"type":"checkout.session.completed"}`)
	signature := signStripe(t, stripeTestSecret, now, body)
	// flip one hex digit of the v1 signature
	altered := signature[:len(signature)-1]
	if strings.HasSuffix(signature, "0") {
		altered += "1"
	} else {
		altered += "0"
	}

	_, err := provider.VerifyWebhook(stripeRequest(body, altered), body)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeVerifyWebhookRejectsModifiedBody(t *testing.T) {
	now := time.Now()
	provider := NewStripe(stripeTestSecret, 5*time.Minute)
	provider.now = func() time.Time { return now }

	body := []byte(`{"type":"checkout.session.completed"}`)
	signature := signStripe(t, stripeTestSecret, now, body)
	tampered := []byte(`{"type":"checkout.session.completed" }`)

	_, err := provider.VerifyWebhook(stripeRequest(tampered, signature), tampered)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeVerifyWebhookRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	provider := NewStripe(stripeTestSecret, 5*time.Minute)
	provider.now = func() time.Time { return now }

	body := []byte(`{}`)
	stale := now.Add(-10 * time.Minute)
	_, err := provider.VerifyWebhook(stripeRequest(body, signStripe(t, stripeTestSecret, stale, body)), body)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeVerifyWebhookMissingHeader(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	body := []byte(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/billing", strings.NewReader(string(body)))
	_, err := provider.VerifyWebhook(req, body)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

type callbackRecorder struct {
	checkout     int
	updated      int
	deleted      int
	paid         int
	failed       int
	lastSub      Subscription
	lastCustomer string
	lastSubID    string
	lastSession  string
	err          error
}

func (r *callbackRecorder) callbacks() Callbacks {
	return Callbacks{
		OnCheckoutSessionCompleted: func(_ context.Context, sub Subscription, customerID string) error {
			r.checkout++
			r.lastSub = sub
			r.lastCustomer = customerID
			return r.err
		},
		OnSubscriptionUpdated: func(_ context.Context, sub Subscription, customerID string) error {
			r.updated++
			r.lastSub = sub
			r.lastCustomer = customerID
			return r.err
		},
		OnSubscriptionDeleted: func(_ context.Context, subscriptionID string) error {
			r.deleted++
			r.lastSubID = subscriptionID
			return r.err
		},
		OnPaymentSucceeded: func(_ context.Context, sessionID string) error {
			r.paid++
			r.lastSession = sessionID
			return r.err
		},
		OnPaymentFailed: func(_ context.Context, sessionID string) error {
			r.failed++
			r.lastSession = sessionID
			return r.err
		},
	}
}

func (r *callbackRecorder) total() int {
	return r.checkout + r.updated + r.deleted + r.paid + r.failed
}

func TestStripeHandleEventCheckoutCompleted(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	rec := &callbackRecorder{}

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_123", "customer": "cus_42", "subscription": "sub_9", "status": "complete"}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Equal(t, 1, rec.checkout)
	require.Equal(t, 1, rec.total())
	require.Equal(t, "cus_42", rec.lastCustomer)
	require.Equal(t, "sub_9", rec.lastSub.ID)
}

func TestStripeHandleEventCheckoutWithoutSubscription(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	rec := &callbackRecorder{}

	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_oneoff", "customer": "cus_42", "status": "complete"}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Equal(t, 1, rec.checkout)
	require.Equal(t, "cs_oneoff", rec.lastSub.ID)
}

func TestStripeHandleEventSubscriptionLifecycle(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	rec := &callbackRecorder{}

	updated := []byte(`{
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_9", "customer": "cus_42", "status": "active",
			"current_period_end": 1767139200,
			"items": {"data": [{"quantity": 3, "price": {"id": "price_7"}}]}
		}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), updated, rec.callbacks()))
	require.Equal(t, 1, rec.updated)
	require.Equal(t, "price_7", rec.lastSub.PriceID)
	require.Equal(t, int64(3), rec.lastSub.Quantity)
	require.Equal(t, time.Unix(1767139200, 0).UTC(), rec.lastSub.CurrentPeriodEnd)

	deleted := []byte(`{
		"type": "customer.subscription.deleted",
		"data": {"object": {"id": "sub_9", "customer": "cus_42", "status": "canceled"}}
	}`)
	require.NoError(t, provider.HandleEvent(context.Background(), deleted, rec.callbacks()))
	require.Equal(t, 1, rec.deleted)
	require.Equal(t, "sub_9", rec.lastSubID)
}

func TestStripeHandleEventAsyncPayments(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	rec := &callbackRecorder{}

	ok := []byte(`{"type": "checkout.session.async_payment_succeeded", "data": {"object": {"id": "cs_1"}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), ok, rec.callbacks()))
	require.Equal(t, 1, rec.paid)
	require.Equal(t, "cs_1", rec.lastSession)

	bad := []byte(`{"type": "checkout.session.async_payment_failed", "data": {"object": {"id": "cs_2"}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), bad, rec.callbacks()))
	require.Equal(t, 1, rec.failed)
	require.Equal(t, "cs_2", rec.lastSession)
}

func TestStripeHandleEventIgnoresUnknownTypes(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	rec := &callbackRecorder{}

	payload := []byte(`{"type": "invoice.finalized", "data": {"object": {"id": "in_1"}}}`)
	require.NoError(t, provider.HandleEvent(context.Background(), payload, rec.callbacks()))
	require.Zero(t, rec.total())
}

func TestStripeHandleEventUndecodablePayload(t *testing.T) {
	provider := NewStripe(stripeTestSecret, time.Minute)
	rec := &callbackRecorder{}

	err := provider.HandleEvent(context.Background(), []byte(`{"type":`), rec.callbacks())
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.Zero(t, rec.total())

	err = provider.HandleEvent(context.Background(), []byte(`{"type":"checkout.session.completed","data":{"object":[1]}}`), rec.callbacks())
	require.ErrorIs(t, err, ErrMalformedPayload)
	require.Zero(t, rec.total())
}

func TestStripeHandleEventPropagatesCallbackError(t *testing.T) {
	provider := NewStripe(stripeTestSecret, 0)
	sentinel := fmt.Errorf("persistence down")
	rec := &callbackRecorder{err: sentinel}

	payload := []byte(`{
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_123", "customer": "cus_42", "subscription": "sub_9"}}
	}`)
	err := provider.HandleEvent(context.Background(), payload, rec.callbacks())
	require.Same(t, sentinel, err)
}
