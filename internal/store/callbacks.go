package store

import (
	"context"

	"github.com/calder-labs/billing-gateway/internal/billing"
)

// BillingCallbacks binds the dispatcher's hooks to the store so verified
// events flow straight into persistence.
func (s *Store) BillingCallbacks() billing.Callbacks {
	return billing.Callbacks{
		OnCheckoutSessionCompleted: func(ctx context.Context, sub billing.Subscription, customerID string) error {
			if sub.CustomerID == "" {
				sub.CustomerID = customerID
			}
			return s.UpsertSubscription(ctx, sub)
		},
		OnSubscriptionUpdated: func(ctx context.Context, sub billing.Subscription, customerID string) error {
			if sub.CustomerID == "" {
				sub.CustomerID = customerID
			}
			return s.UpsertSubscription(ctx, sub)
		},
		OnSubscriptionDeleted: func(ctx context.Context, subscriptionID string) error {
			return s.MarkSubscriptionDeleted(ctx, subscriptionID)
		},
		OnPaymentSucceeded: func(ctx context.Context, sessionID string) error {
			return s.RecordPayment(ctx, sessionID, "succeeded")
		},
		OnPaymentFailed: func(ctx context.Context, sessionID string) error {
			return s.RecordPayment(ctx, sessionID, "failed")
		},
	}
}
