package reservations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

const reservationOutcomeConsumer = "cart-reservation-outcomes"

type outcomeApplier interface {
	ApplyReservationOutcome(ctx context.Context, owner cart.Owner, reserved bool) (bool, error)
}

type onceRunner interface {
	Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Consumer settles pending active cart reservations from inventory outcomes.
type Consumer struct {
	engine       outcomeApplier
	subscription *pubsub.Subscriber
	idempotency  onceRunner
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

func NewConsumer(engine outcomeApplier, subscription *pubsub.Subscriber, manager onceRunner, consumerMetrics *metrics.ConsumerMetrics, logg *logger.Logger) (*Consumer, error) {
	if engine == nil {
		return nil, fmt.Errorf("cart engine required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("reservation results subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		engine:       engine,
		subscription: subscription,
		idempotency:  manager,
		metrics:      consumerMetrics,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		res := c.process(ctx, msg)
		c.metrics.Observe(reservationOutcomeConsumer, msg.Attributes["event_type"], res.outcome)
		if res.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack    bool
	outcome string
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	var reserved bool
	switch eventType {
	case enums.EventReservationConfirmed:
		reserved = true
	case enums.EventReservationFailed:
	default:
		c.logg.Info(logCtx, "skipping non-reservation event")
		return processResult{outcome: metrics.MessageSkipped}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{outcome: metrics.MessageRejected}
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{outcome: metrics.MessageRejected}
	}

	var payload payloads.ReservationOutcomeEvent
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{outcome: metrics.MessageRejected}
	}
	owner, err := cart.ParseOwnerKey(payload.OwnerKey)
	if err != nil {
		c.logg.Error(logCtx, "invalid owner key", err)
		return processResult{outcome: metrics.MessageRejected}
	}
	logCtx = c.logg.WithOwner(logCtx, owner.Key())

	// An outcome for a cart id the owner no longer maps to belongs to another hold.
	if payload.CartID != uuid.Nil && payload.CartID != owner.CartID() {
		c.logg.Warn(logCtx, "reservation outcome cart id does not match owner")
		return processResult{outcome: metrics.MessageRejected}
	}

	var applied bool
	skipped, err := c.idempotency.Run(logCtx, reservationOutcomeConsumer, eventID, func(ctx context.Context) error {
		var applyErr error
		applied, applyErr = c.engine.ApplyReservationOutcome(ctx, owner, reserved)
		return applyErr
	})
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		c.logg.Info(logCtx, "event in flight on another delivery, retrying later")
		return processResult{nack: true, outcome: metrics.MessageRetried}
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			c.logg.Error(logCtx, "reservation outcome failed", err)
		}
		return processResult{nack: true, outcome: metrics.MessageRetried}
	case skipped:
		c.logg.Info(logCtx, "event already processed")
		return processResult{outcome: metrics.MessageDuplicate}
	case !applied:
		c.logg.Info(logCtx, "reservation outcome ignored, cart no longer pending")
		return processResult{outcome: metrics.MessageSkipped}
	}
	c.logg.Debug(logCtx, "reservation outcome applied")
	return processResult{outcome: metrics.MessageHandled}
}
