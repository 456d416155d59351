package billing

import (
	"encoding/json"
	"time"
)

// Kind identifies a canonical billing event variant.
type Kind string

// The closed set of canonical billing events. Provider integrations map their
// own event vocabulary onto these; everything else is ignored.
const (
	KindCheckoutCompleted   Kind = "checkout.completed"
	KindSubscriptionUpdated Kind = "subscription.updated"
	KindSubscriptionDeleted Kind = "subscription.deleted"
	KindPaymentSucceeded    Kind = "payment.succeeded"
	KindPaymentFailed       Kind = "payment.failed"
)

// Subscription is the provider-independent subscription (or one-off order)
// record handed to persistence callbacks.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	Quantity         int64
	CurrentPeriodEnd time.Time
	Raw              json.RawMessage
}

// Event is a canonical billing occurrence produced by a provider integration
// from a verified payload. Only the fields relevant to its Kind are populated.
type Event struct {
	Kind           Kind
	Subscription   *Subscription
	CustomerID     string
	SubscriptionID string
	SessionID      string
}
