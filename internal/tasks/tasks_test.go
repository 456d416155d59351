package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/calder-labs/billing-gateway/internal/billing"
	"github.com/calder-labs/billing-gateway/internal/store"
)

type stubEvents struct {
	events    map[string]store.WebhookEvent
	processed []string
	failed    []string
}

func (s *stubEvents) GetWebhookEvent(_ context.Context, id string) (store.WebhookEvent, error) {
	ev, ok := s.events[id]
	if !ok {
		return store.WebhookEvent{}, store.ErrEventNotFound
	}
	return ev, nil
}

func (s *stubEvents) MarkEventProcessed(_ context.Context, id string) error {
	s.processed = append(s.processed, id)
	return nil
}

func (s *stubEvents) MarkEventFailed(_ context.Context, id, _ string) error {
	s.failed = append(s.failed, id)
	return nil
}

type stubProvider struct {
	handled int
	err     error
}

func (s *stubProvider) SignatureHeader() string { return "X-Test-Signature" }

func (s *stubProvider) VerifyWebhook(*http.Request, []byte) ([]byte, error) {
	return nil, errors.New("not used in replay")
}

func (s *stubProvider) HandleEvent(context.Context, []byte, billing.Callbacks) error {
	s.handled++
	return s.err
}

func replayFixture(providerErr error) (*stubEvents, *stubProvider, ReplayHandler) {
	events := &stubEvents{events: map[string]store.WebhookEvent{
		"ev-1": {ID: "ev-1", Provider: "stripe", Payload: []byte(`{"type":"checkout.session.completed"}`)},
	}}
	provider := &stubProvider{err: providerErr}
	registry := billing.NewRegistry()
	registry.Register("stripe", func() (billing.Provider, error) { return provider, nil })
	handler := ReplayHandler{
		Events:   events,
		Registry: registry,
		Log:      zerolog.Nop(),
	}
	return events, provider, handler
}

func replayTask(t *testing.T, eventID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(ReplayPayload{EventID: eventID})
	require.NoError(t, err)
	return asynq.NewTask(TypeBillingReplay, payload)
}

func TestReplayHandlerSuccess(t *testing.T) {
	events, provider, handler := replayFixture(nil)

	require.NoError(t, handler.ProcessTask(context.Background(), replayTask(t, "ev-1")))
	require.Equal(t, 1, provider.handled)
	require.Equal(t, []string{"ev-1"}, events.processed)
	require.Empty(t, events.failed)
}

func TestReplayHandlerUnknownEventSkipsRetry(t *testing.T) {
	_, provider, handler := replayFixture(nil)

	err := handler.ProcessTask(context.Background(), replayTask(t, "missing"))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, provider.handled)
}

func TestReplayHandlerDispatchFailure(t *testing.T) {
	events, provider, handler := replayFixture(errors.New("db down"))

	err := handler.ProcessTask(context.Background(), replayTask(t, "ev-1"))
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, 1, provider.handled)
	require.Equal(t, []string{"ev-1"}, events.failed)
	require.Empty(t, events.processed)
}

func TestReplayHandlerMalformedPayloadSkipsRetry(t *testing.T) {
	events, provider, handler := replayFixture(fmt.Errorf("%w: decode stripe event", billing.ErrMalformedPayload))

	err := handler.ProcessTask(context.Background(), replayTask(t, "ev-1"))
	require.Error(t, err)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Equal(t, 1, provider.handled)
	require.Equal(t, []string{"ev-1"}, events.failed)
	require.Empty(t, events.processed)
}

func TestNewReplayTask(t *testing.T) {
	task, err := NewReplayTask("ev-9")
	require.NoError(t, err)
	require.Equal(t, TypeBillingReplay, task.Type())

	var payload ReplayPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "ev-9", payload.EventID)
}
