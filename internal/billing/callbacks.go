package billing

import (
	"context"
	"time"

	"github.com/calder-labs/billing-gateway/internal/obs"
)

// Callbacks maps canonical event kinds to domain handlers. Handlers are
// supplied by the caller and typically perform idempotent upserts; a nil
// handler means the event kind is accepted but produces no side effect.
type Callbacks struct {
	OnCheckoutSessionCompleted func(ctx context.Context, sub Subscription, customerID string) error
	OnSubscriptionUpdated      func(ctx context.Context, sub Subscription, customerID string) error
	OnSubscriptionDeleted      func(ctx context.Context, subscriptionID string) error
	OnPaymentSucceeded         func(ctx context.Context, sessionID string) error
	OnPaymentFailed            func(ctx context.Context, sessionID string) error
}

// Dispatch invokes the single callback matching ev.Kind. Callback errors
// propagate unmodified so the HTTP layer can signal failure and the provider
// redelivers.
func (cb Callbacks) Dispatch(ctx context.Context, ev Event) error {
	start := time.Now()
	var err error
	switch ev.Kind {
	case KindCheckoutCompleted:
		if cb.OnCheckoutSessionCompleted != nil && ev.Subscription != nil {
			err = cb.OnCheckoutSessionCompleted(ctx, *ev.Subscription, ev.CustomerID)
		}
	case KindSubscriptionUpdated:
		if cb.OnSubscriptionUpdated != nil && ev.Subscription != nil {
			err = cb.OnSubscriptionUpdated(ctx, *ev.Subscription, ev.CustomerID)
		}
	case KindSubscriptionDeleted:
		if cb.OnSubscriptionDeleted != nil {
			err = cb.OnSubscriptionDeleted(ctx, ev.SubscriptionID)
		}
	case KindPaymentSucceeded:
		if cb.OnPaymentSucceeded != nil {
			err = cb.OnPaymentSucceeded(ctx, ev.SessionID)
		}
	case KindPaymentFailed:
		if cb.OnPaymentFailed != nil {
			err = cb.OnPaymentFailed(ctx, ev.SessionID)
		}
	}
	if obs.BillingCallbackLatency != nil {
		obs.BillingCallbackLatency.WithLabelValues(string(ev.Kind)).Observe(obs.DurationMillis(time.Since(start)))
	}
	return err
}
