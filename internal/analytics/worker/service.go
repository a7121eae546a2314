package worker

import (
	"context"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/router"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/idempotency"
)

const analyticsConsumerName = "cart-analytics"

// Handler defines how to process cart event envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type onceRunner interface {
	Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// Service streams cart events from Pub/Sub into BigQuery. Redeliveries of an
// event id that was already written are acked without touching the handler.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	once         onceRunner
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

type ServiceParams struct {
	Subscription *gcppubsub.Subscriber
	Handler      Handler
	Idempotency  onceRunner
	Metrics      *metrics.ConsumerMetrics
	Logger       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case params.Handler == nil:
		return nil, errors.New("analytics handler is required")
	case params.Idempotency == nil:
		return nil, errors.New("idempotency manager is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		handler:      params.Handler,
		once:         params.Idempotency,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack    bool
	outcome string
}

// Run starts consuming analytics messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		res := s.process(ctx, msg)
		s.metrics.Observe(analyticsConsumerName, msg.Attributes["event_type"], res.outcome)
		if res.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := DecodeEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return processResult{outcome: metrics.MessageRejected}
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return processResult{outcome: metrics.MessageRejected}
	}

	var unsupported bool
	skipped, err := s.once.Run(logCtx, analyticsConsumerName, eventID, func(ctx context.Context) error {
		err := s.handler.Handle(ctx, envelope)
		if errors.Is(err, router.ErrUnsupportedEventType) {
			// Keep the mark: a redelivery would be skipped the same way.
			unsupported = true
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		s.logg.Info(logCtx, "event in flight on another delivery, retrying later")
		return processResult{nack: true, outcome: metrics.MessageRetried}
	case err != nil:
		if !errors.Is(err, context.Canceled) {
			s.logg.Error(logCtx, "analytics handler failed", err)
		}
		return processResult{nack: true, outcome: metrics.MessageRetried}
	case skipped:
		s.logg.Info(logCtx, "event already processed")
		return processResult{outcome: metrics.MessageDuplicate}
	case unsupported:
		s.logg.Info(logCtx, "event not handled by analytics worker")
		return processResult{outcome: metrics.MessageSkipped}
	}
	s.logg.Debug(logCtx, "cart event recorded")
	return processResult{outcome: metrics.MessageHandled}
}
