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

const (
	defaultStripeTolerance = 5 * time.Minute
	stripeSignatureHeader  = "Stripe-Signature"
)

// Stripe implements the Provider interface for Stripe Checkout and Billing
// webhooks using the v1 signature scheme.
type Stripe struct {
	WebhookSecret string
	Tolerance     time.Duration

	now func() time.Time
}

// NewStripe constructs a Stripe integration. A zero tolerance falls back to
// the scheme's conventional five minute window.
func NewStripe(secret string, tolerance time.Duration) *Stripe {
	if tolerance <= 0 {
		tolerance = defaultStripeTolerance
	}
	return &Stripe{WebhookSecret: secret, Tolerance: tolerance, now: time.Now}
}

// SignatureHeader returns the header name carrying the v1 signature.
func (s *Stripe) SignatureHeader() string { return stripeSignatureHeader }

// VerifyWebhook validates the Stripe-Signature header. The header carries a
// unix timestamp and one or more v1 signatures, each HMAC-SHA256 over
// "<timestamp>.<raw body>".
func (s *Stripe) VerifyWebhook(r *http.Request, body []byte) ([]byte, error) {
	secret := strings.TrimSpace(s.WebhookSecret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	header := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if header == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrInvalidSignature, stripeSignatureHeader)
	}

	timestamp, signatures, err := parseStripeSignature(header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	clock := s.now
	if clock == nil {
		clock = time.Now
	}
	age := clock().Sub(time.Unix(timestamp, 0))
	if age > s.tolerance() || age < -s.tolerance() {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := computeStripeSignature(secret, timestamp, body)
	for _, provided := range signatures {
		decoded, err := hex.DecodeString(provided)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return body, nil
		}
	}
	return nil, fmt.Errorf("%w: no matching v1 signature", ErrInvalidSignature)
}

func (s *Stripe) tolerance() time.Duration {
	if s.Tolerance <= 0 {
		return defaultStripeTolerance
	}
	return s.Tolerance
}

func parseStripeSignature(header string) (timestamp int64, signatures []string, err error) {
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp, err = strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("invalid timestamp %q", value)
			}
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == 0 {
		return 0, nil, fmt.Errorf("header missing timestamp")
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("header missing v1 signature")
	}
	return timestamp, signatures, nil
}

func computeStripeSignature(secret string, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

type stripeEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeCheckoutSession struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Status       string `json:"status"`
}

type stripeSubscription struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			Quantity int64 `json:"quantity"`
			Price    struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// HandleEvent maps a verified Stripe payload onto the canonical event set and
// dispatches it. Event types outside the set are counted and skipped.
func (s *Stripe) HandleEvent(ctx context.Context, payload []byte, cb Callbacks) error {
	var envelope stripeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("%w: decode stripe event: %v", ErrMalformedPayload, err)
	}

	switch envelope.Type {
	case "checkout.session.completed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", ErrMalformedPayload, err)
		}
		sub := Subscription{
			ID:         session.Subscription,
			CustomerID: session.Customer,
			Status:     session.Status,
			Raw:        envelope.Data.Object,
		}
		if sub.ID == "" {
			// One-off payments have no subscription; the session itself is the order.
			sub.ID = session.ID
		}
		return cb.Dispatch(ctx, Event{Kind: KindCheckoutCompleted, Subscription: &sub, CustomerID: session.Customer})

	case "customer.subscription.updated":
		sub, err := normaliseStripeSubscription(envelope.Data.Object)
		if err != nil {
			return err
		}
		return cb.Dispatch(ctx, Event{Kind: KindSubscriptionUpdated, Subscription: &sub, CustomerID: sub.CustomerID})

	case "customer.subscription.deleted":
		sub, err := normaliseStripeSubscription(envelope.Data.Object)
		if err != nil {
			return err
		}
		return cb.Dispatch(ctx, Event{Kind: KindSubscriptionDeleted, SubscriptionID: sub.ID})

	case "checkout.session.async_payment_succeeded":
		var session stripeCheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", ErrMalformedPayload, err)
		}
		return cb.Dispatch(ctx, Event{Kind: KindPaymentSucceeded, SessionID: session.ID})

	case "checkout.session.async_payment_failed":
		var session stripeCheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return fmt.Errorf("%w: decode checkout session: %v", ErrMalformedPayload, err)
		}
		return cb.Dispatch(ctx, Event{Kind: KindPaymentFailed, SessionID: session.ID})

	default:
		if obs.BillingEventsIgnored != nil {
			obs.BillingEventsIgnored.WithLabelValues("stripe", envelope.Type).Inc()
		}
		return nil
	}
}

func normaliseStripeSubscription(object json.RawMessage) (Subscription, error) {
	var raw stripeSubscription
	if err := json.Unmarshal(object, &raw); err != nil {
		return Subscription{}, fmt.Errorf("%w: decode subscription: %v", ErrMalformedPayload, err)
	}
	sub := Subscription{
		ID:         raw.ID,
		CustomerID: raw.Customer,
		Status:     raw.Status,
		Raw:        object,
	}
	if raw.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(raw.CurrentPeriodEnd, 0).UTC()
	}
	if len(raw.Items.Data) > 0 {
		sub.PriceID = raw.Items.Data[0].Price.ID
		sub.Quantity = raw.Items.Data[0].Quantity
	}
	return sub, nil
}
