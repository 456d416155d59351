package billing

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrUnsupportedProvider is returned when a provider identifier is not in the known set.
	ErrUnsupportedProvider = errors.New("billing: unsupported provider")
	// ErrNotImplemented is returned for identifiers that are recognised but have no integration yet.
	ErrNotImplemented = errors.New("billing: provider not implemented")
	// ErrInvalidSignature is returned when webhook authentication fails for any
	// reason: signature mismatch, missing secret, or a malformed envelope.
	ErrInvalidSignature = errors.New("billing: webhook signature verification failed")
	// ErrMalformedPayload is returned when a correctly signed payload cannot be
	// decoded. Redelivering the same bytes can never succeed, so the sender
	// gets a client error instead of a retryable server error.
	ErrMalformedPayload = errors.New("billing: malformed payload")
)

// Provider abstracts a billing provider's webhook integration.
type Provider interface {
	// SignatureHeader names the request header carrying this provider's
	// webhook signature, so generic code never hardcodes provider schemes.
	SignatureHeader() string
	// VerifyWebhook authenticates the request against the exact raw body bytes
	// and returns the trusted payload. Signature schemes are computed over the
	// byte sequence as sent, so this must run before any body parsing.
	VerifyWebhook(r *http.Request, body []byte) ([]byte, error)
	// HandleEvent classifies a verified payload and invokes at most one
	// callback. Payloads with an event type outside the canonical set are
	// ignored without error.
	HandleEvent(ctx context.Context, payload []byte, cb Callbacks) error
}
