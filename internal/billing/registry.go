package billing

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Factory constructs a provider integration on first use.
type Factory func() (Provider, error)

// Registry resolves provider identifiers to integrations. Factories run at
// most once per identifier, so integrations that are never selected are never
// initialised.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	resolved  map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		resolved:  make(map[string]Provider),
	}
}

// Register associates a provider identifier with its factory. Identifiers are
// case-insensitive.
func (r *Registry) Register(id string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normaliseID(id)] = factory
}

// Resolve returns the integration for the given identifier, constructing it on
// first use. Unknown identifiers fail with ErrUnsupportedProvider; reserved
// placeholders fail with whatever their factory returns (ErrNotImplemented).
func (r *Registry) Resolve(id string) (Provider, error) {
	key := normaliseID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if provider, ok := r.resolved[key]; ok {
		return provider, nil
	}
	factory, ok := r.factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, id)
	}
	provider, err := factory()
	if err != nil {
		return nil, err
	}
	r.resolved[key] = provider
	return provider, nil
}

func normaliseID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// ProviderConfig carries the secrets required to construct the built-in
// provider integrations.
type ProviderConfig struct {
	StripeWebhookSecret       string
	StripeSignatureTolerance  time.Duration
	LemonSqueezyWebhookSecret string
}

// DefaultRegistry wires the built-in provider set: stripe, lemonsqueezy, and
// the reserved paddle placeholder.
func DefaultRegistry(cfg ProviderConfig) *Registry {
	r := NewRegistry()
	r.Register("stripe", func() (Provider, error) {
		return NewStripe(cfg.StripeWebhookSecret, cfg.StripeSignatureTolerance), nil
	})
	r.Register("lemonsqueezy", func() (Provider, error) {
		return LemonSqueezy{WebhookSecret: cfg.LemonSqueezyWebhookSecret}, nil
	})
	r.Register("paddle", func() (Provider, error) {
		return nil, fmt.Errorf("%w: paddle", ErrNotImplemented)
	})
	return r
}
