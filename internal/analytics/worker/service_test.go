package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/router"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
)

func TestDecodeEnvelope(t *testing.T) {
	payload := outbox.PayloadEnvelope{
		EventID:    "evt-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:      &outbox.ActorRef{OwnerKey: "guest:g1", Kind: enums.OwnerGuest},
		Data:       json.RawMessage(`{"cart_id":"c-1"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "item_added_to_active_cart",
		"aggregate_type": " active_cart ",
		"aggregate_id":   "c-1",
	})

	env, err := DecodeEnvelope(msg)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventType != enums.EventItemAddedToActiveCart {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregateActiveCart {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.OrderingKey != "guest:g1" {
		t.Fatalf("expected owner key from actor, got %q", env.OrderingKey)
	}
	if env.EventID != "evt-1" || env.AggregateID != "c-1" {
		t.Fatalf("unexpected ids %s/%s", env.EventID, env.AggregateID)
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestDecodeEnvelopeFallsBackToAttributes(t *testing.T) {
	id := uuid.NewString()
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, map[string]string{
		"event_id":       id,
		"event_type":     "cart_expired",
		"aggregate_type": "active_cart",
		"aggregate_id":   "abc",
		"created_at":     "2026-04-02T08:30:00Z",
	})
	msg.OrderingKey = "user:u1"

	env, err := DecodeEnvelope(msg)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected attribute event id, got %s", env.EventID)
	}
	if env.OrderingKey != "user:u1" {
		t.Fatalf("expected message ordering key, got %q", env.OrderingKey)
	}
	if want := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC); !env.OccurredAt.Equal(want) {
		t.Fatalf("expected created_at fallback, got %v", env.OccurredAt)
	}
}

func TestDecodeEnvelopeRejectsMissingRouting(t *testing.T) {
	payload := outbox.PayloadEnvelope{EventID: uuid.NewString()}
	cases := map[string]map[string]string{
		"unknown event type": {"event_type": "nope", "aggregate_type": "active_cart", "aggregate_id": "a"},
		"missing aggregate":  {"event_type": "cart_expired", "aggregate_type": "active_cart"},
	}
	for name, attrs := range cases {
		if _, err := DecodeEnvelope(buildMessage(payload, attrs)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestProcessRecordsEvent(t *testing.T) {
	once := &memoryOnce{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, once)

	res := svc.process(context.Background(), buildAnalyticsMessage(t, uuid.New()))
	if res.nack || res.outcome != metrics.MessageHandled {
		t.Fatalf("expected handled ack, got %+v", res)
	}
	if handler.calls != 1 || handler.envelope.EventType != enums.EventCartExpired {
		t.Fatalf("handler not invoked with envelope: %+v", handler)
	}
}

func TestProcessAlreadyProcessed(t *testing.T) {
	once := &memoryOnce{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, once)

	msg := buildAnalyticsMessage(t, uuid.New())
	svc.process(context.Background(), msg)
	res := svc.process(context.Background(), msg)
	if res.nack || res.outcome != metrics.MessageDuplicate {
		t.Fatalf("expected duplicate ack, got %+v", res)
	}
	if handler.calls != 1 {
		t.Fatalf("handler should run once, ran %d", handler.calls)
	}
}

func TestProcessHandlerErrorRetries(t *testing.T) {
	once := &memoryOnce{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(t, handler, once)

	msg := buildAnalyticsMessage(t, uuid.New())
	res := svc.process(context.Background(), msg)
	if !res.nack || res.outcome != metrics.MessageRetried {
		t.Fatalf("expected nack on handler error, got %+v", res)
	}

	handler.err = nil
	if res := svc.process(context.Background(), msg); res.nack || res.outcome != metrics.MessageHandled {
		t.Fatalf("redelivery should be handled after failure, got %+v", res)
	}
	if handler.calls != 2 {
		t.Fatalf("expected two handler calls, got %d", handler.calls)
	}
}

func TestProcessInvalidEnvelope(t *testing.T) {
	once := &memoryOnce{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, once)

	res := svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")})
	if res.nack || res.outcome != metrics.MessageRejected {
		t.Fatalf("invalid envelope should be rejected and acked, got %+v", res)
	}
	if handler.calls != 0 || once.runs != 0 {
		t.Fatal("nothing should run for an invalid envelope")
	}
}

func TestProcessNonUUIDEventIDIsRejected(t *testing.T) {
	once := &memoryOnce{}
	svc := newTestService(t, &stubHandler{}, once)

	msg := buildMessage(outbox.PayloadEnvelope{EventID: "evt-1"}, map[string]string{
		"event_type":     "cart_expired",
		"aggregate_type": "active_cart",
		"aggregate_id":   "abc",
	})
	if res := svc.process(context.Background(), msg); res.nack || res.outcome != metrics.MessageRejected {
		t.Fatalf("expected rejected ack, got %+v", res)
	}
	if once.runs != 0 {
		t.Fatal("idempotency should not be consulted")
	}
}

func TestProcessUnsupportedEvent(t *testing.T) {
	once := &memoryOnce{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestService(t, handler, once)

	msg := buildAnalyticsMessage(t, uuid.New())
	res := svc.process(context.Background(), msg)
	if res.nack || res.outcome != metrics.MessageSkipped {
		t.Fatalf("unsupported event should be skipped and acked, got %+v", res)
	}
	if res := svc.process(context.Background(), msg); res.outcome != metrics.MessageDuplicate {
		t.Fatalf("skipped event stays marked, got %+v", res)
	}
}

func TestNewServiceValidation(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected error without subscription")
	}
}

func buildAnalyticsMessage(t *testing.T, eventID uuid.UUID) *gcppubsub.Message {
	t.Helper()
	payload := outbox.PayloadEnvelope{
		EventID:    eventID.String(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"foo":"bar"}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "cart_expired",
		"aggregate_type": "active_cart",
		"aggregate_id":   "abc-123",
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{
		ID:         "msg-1",
		Data:       data,
		Attributes: attrs,
	}
}

func newTestService(t *testing.T, handler Handler, once onceRunner) *Service {
	t.Helper()
	return &Service{
		handler: handler,
		once:    once,
		logg:    logger.New(logger.Options{ServiceName: "analytics-test", Output: io.Discard}),
	}
}

type stubHandler struct {
	calls    int
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(ctx context.Context, envelope types.Envelope) error {
	h.calls++
	h.envelope = envelope
	return h.err
}

// memoryOnce behaves like idempotency.Manager.Run over an in-memory set.
type memoryOnce struct {
	seen map[uuid.UUID]bool
	runs int
}

func (m *memoryOnce) Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	m.runs++
	if m.seen == nil {
		m.seen = map[uuid.UUID]bool{}
	}
	if m.seen[eventID] {
		return true, nil
	}
	m.seen[eventID] = true
	if err := fn(ctx); err != nil {
		delete(m.seen, eventID)
		return false, err
	}
	return false, nil
}
