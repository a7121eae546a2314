package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

// EventDescriptor ties an event type to the aggregate it must come from, the
// topic it is published on and the payload it carries.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is an outbox row checked against its descriptor.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish; the dispatcher moves
// it to the DLQ on first sight.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func reject(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

func route[T any](event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      event,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes cart lifecycle events to the cart topic, reservation
// requests to inventory and abandonment nudges to notifications.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	for name, topic := range map[string]string{
		"cart":         cfg.CartTopic,
		"inventory":    cfg.InventoryTopic,
		"notification": cfg.NotificationTopic,
	} {
		if topic == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	cartTopic, inventory := cfg.CartTopic, cfg.InventoryTopic
	descriptors := []EventDescriptor{
		route[payloads.ItemAddedToActiveCartEvent](enums.EventItemAddedToActiveCart, enums.AggregateActiveCart, cartTopic),
		route[payloads.ItemSavedForLaterEvent](enums.EventItemSavedForLater, enums.AggregateNextPurchaseCart, cartTopic),
		route[payloads.ItemMovedToActiveCartEvent](enums.EventItemMovedToActiveCart, enums.AggregateActiveCart, cartTopic),
		route[payloads.GuestCartMergedEvent](enums.EventGuestCartMerged, enums.AggregateActiveCart, cartTopic),
		route[payloads.ActiveCartClosedEvent](enums.EventActiveCartCleared, enums.AggregateActiveCart, cartTopic),
		route[payloads.ActiveCartClosedEvent](enums.EventActiveCartCheckedOut, enums.AggregateActiveCart, cartTopic),
		route[payloads.CartExpiredEvent](enums.EventCartExpired, enums.AggregateActiveCart, cartTopic),

		route[payloads.ReservationRequestedEvent](enums.EventReservationRequested, enums.AggregateReservation, inventory),
		route[payloads.ReservationReleasedEvent](enums.EventReservationReleased, enums.AggregateReservation, inventory),

		route[payloads.CartAbandonedEvent](enums.EventCartAbandoned, enums.AggregateNextPurchaseCart, cfg.NotificationTopic),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Topics lists every topic the registry routes to, sorted.
func (r *EventRegistry) Topics() []string {
	set := make(map[string]struct{}, 3)
	for _, desc := range r.entries {
		set[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the payload. Every
// failure is non-retryable: the row will not get better by waiting.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, reject("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, reject("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, reject("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, reject("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, reject("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, reject("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
