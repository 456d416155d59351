package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/calder-labs/billing-gateway/internal/obs"
)

// LemonSqueezy implements the Provider interface for Lemon Squeezy webhooks.
// Payloads are signed with a hex HMAC-SHA256 over the raw body, carried in the
// X-Signature header.
type LemonSqueezy struct {
	WebhookSecret string
}

const lemonSqueezySignatureHeader = "X-Signature"

// SignatureHeader returns the header name carrying the payload HMAC.
func (LemonSqueezy) SignatureHeader() string { return lemonSqueezySignatureHeader }

// VerifyWebhook validates the X-Signature header against the raw body.
func (l LemonSqueezy) VerifyWebhook(r *http.Request, body []byte) ([]byte, error) {
	secret := strings.TrimSpace(l.WebhookSecret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	provided := strings.TrimSpace(r.Header.Get(lemonSqueezySignatureHeader))
	if provided == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, lemonSqueezySignatureHeader)
	}
	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed signature", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), decoded) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidSignature)
	}
	return body, nil
}

type lemonSqueezyEnvelope struct {
	Meta struct {
		EventName  string            `json:"event_name"`
		CustomData map[string]string `json:"custom_data"`
	} `json:"meta"`
	Data struct {
		ID         string          `json:"id"`
		Attributes json.RawMessage `json:"attributes"`
	} `json:"data"`
}

type lemonSqueezyAttributes struct {
	CustomerID int64  `json:"customer_id"`
	VariantID  int64  `json:"variant_id"`
	Status     string `json:"status"`
	RenewsAt   string `json:"renews_at"`
	OrderID    int64  `json:"order_id"`
}

// HandleEvent maps a verified Lemon Squeezy payload onto the canonical event
// set and dispatches it.
func (l LemonSqueezy) HandleEvent(ctx context.Context, payload []byte, cb Callbacks) error {
	var envelope lemonSqueezyEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: decode lemonsqueezy event: %v", ErrMalformedPayload, err)
	}
	var attrs lemonSqueezyAttributes
	if len(envelope.Data.Attributes) > 0 {
		if err := json.Unmarshal(envelope.Data.Attributes, &attrs); err != nil {
			return fmt.Errorf("%w: decode lemonsqueezy attributes: %v", ErrMalformedPayload, err)
		}
	}
	customerID := lemonSqueezyCustomer(envelope, attrs)

	switch envelope.Meta.EventName {
	case "order_created", "subscription_created":
		sub := l.normalise(envelope, attrs, customerID)
		return cb.Dispatch(ctx, Event{Kind: KindCheckoutCompleted, Subscription: &sub, CustomerID: customerID})
	case "subscription_updated", "subscription_resumed", "subscription_unpaused":
		sub := l.normalise(envelope, attrs, customerID)
		return cb.Dispatch(ctx, Event{Kind: KindSubscriptionUpdated, Subscription: &sub, CustomerID: customerID})
	case "subscription_expired", "subscription_cancelled":
		return cb.Dispatch(ctx, Event{Kind: KindSubscriptionDeleted, SubscriptionID: envelope.Data.ID})
	case "subscription_payment_success":
		return cb.Dispatch(ctx, Event{Kind: KindPaymentSucceeded, SessionID: lemonSqueezySession(envelope, attrs)})
	case "subscription_payment_failed":
		return cb.Dispatch(ctx, Event{Kind: KindPaymentFailed, SessionID: lemonSqueezySession(envelope, attrs)})
	default:
		if obs.BillingEventsIgnored != nil {
			obs.BillingEventsIgnored.WithLabelValues("lemonsqueezy", envelope.Meta.EventName).Inc()
		}
		return nil
	}
}

func (l LemonSqueezy) normalise(envelope lemonSqueezyEnvelope, attrs lemonSqueezyAttributes, customerID string) Subscription {
	sub := Subscription{
		ID:         envelope.Data.ID,
		CustomerID: customerID,
		Status:     attrs.Status,
		Raw:        envelope.Data.Attributes,
		Quantity:   1,
	}
	if attrs.VariantID > 0 {
		sub.PriceID = strconv.FormatInt(attrs.VariantID, 10)
	}
	if attrs.RenewsAt != "" {
		if renews, err := time.Parse(time.RFC3339, attrs.RenewsAt); err == nil {
			sub.CurrentPeriodEnd = renews.UTC()
		}
	}
	return sub
}

func lemonSqueezyCustomer(envelope lemonSqueezyEnvelope, attrs lemonSqueezyAttributes) string {
	if id := strings.TrimSpace(envelope.Meta.CustomData["customer_id"]); id != "" {
		return id
	}
	if attrs.CustomerID > 0 {
		return strconv.FormatInt(attrs.CustomerID, 10)
	}
	return ""
}

func lemonSqueezySession(envelope lemonSqueezyEnvelope, attrs lemonSqueezyAttributes) string {
	if attrs.OrderID > 0 {
		return strconv.FormatInt(attrs.OrderID, 10)
	}
	return envelope.Data.ID
}
