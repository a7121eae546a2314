package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/registry"
)

type deliveryState int

const (
	statePending deliveryState = iota
	statePublished
	stateRetry
	stateTerminal
	// stateDeferred rows sit behind a failed row with the same ordering key and
	// are left untouched for the next poll.
	stateDeferred
)

type delivery struct {
	event    models.OutboxEvent
	resolved *registry.ResolvedEvent
	state    deliveryState
	reason   enums.OutboxDLQErrorReason
	err      error
}

func (d *delivery) topic() string {
	if d.resolved == nil {
		return ""
	}
	return d.resolved.Descriptor.Topic
}

// processBatch claims one batch inside a transaction, publishes it, and records
// every row's outcome before the claim is released.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true
		s.metrics.ObserveBatch(len(events))

		deliveries := s.resolve(events)
		s.publishAll(ctx, deliveries)
		return s.record(ctx, tx, deliveries)
	})
	return processed, err
}

func (s *Service) resolve(events []models.OutboxEvent) []*delivery {
	out := make([]*delivery, 0, len(events))
	for _, event := range events {
		d := &delivery{event: event}
		resolved, err := s.registry.Resolve(event)
		if err != nil {
			d.state = stateTerminal
			d.reason = enums.OutboxDLQReasonNonRetryable
			d.err = err
		} else {
			d.resolved = resolved
		}
		out = append(out, d)
	}
	return out
}

// groupByOrderingKey keeps fetch order within each key. Rows without a key are
// independent and each get a group of their own.
func groupByOrderingKey(deliveries []*delivery) [][]*delivery {
	index := map[string]int{}
	var groups [][]*delivery
	for _, d := range deliveries {
		if d.state != statePending {
			continue
		}
		key := d.event.OrderingKey
		if key == "" {
			groups = append(groups, []*delivery{d})
			continue
		}
		if i, ok := index[key]; ok {
			groups[i] = append(groups[i], d)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, []*delivery{d})
	}
	return groups
}

func (s *Service) publishAll(ctx context.Context, deliveries []*delivery) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, group := range groupByOrderingKey(deliveries) {
		g.Go(func() error {
			s.publishGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Service) publishGroup(ctx context.Context, group []*delivery) {
	for i, d := range group {
		pub, err := s.publish(ctx, d)
		if err == nil {
			d.state = statePublished
			continue
		}
		s.classifyFailure(d, err)

		key := d.event.OrderingKey
		if key == "" {
			continue
		}
		if pub != nil {
			pub.ResumePublish(key)
		}
		for _, rest := range group[i+1:] {
			rest.state = stateDeferred
		}
		return
	}
}

func (s *Service) classifyFailure(d *delivery, err error) {
	var nonRetry registry.NonRetryableError
	if errors.As(err, &nonRetry) {
		d.state = stateTerminal
		d.reason = enums.OutboxDLQReasonNonRetryable
		d.err = err
		return
	}
	if d.event.AttemptCount+1 >= s.maxAttempts {
		d.state = stateTerminal
		d.reason = enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
		return
	}
	d.state = stateRetry
	d.err = err
}

func (s *Service) publish(ctx context.Context, d *delivery) (publisher, error) {
	topic := d.topic()
	pub := s.publisherFactory(topic)
	if pub == nil {
		return nil, registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()

	started := time.Now()
	result := pub.Publish(pubCtx, newMessage(d))
	if result == nil {
		return pub, errors.New("publisher returned no result")
	}
	_, err := result.Get(pubCtx)
	s.metrics.ObservePublish(topic, time.Since(started))
	return pub, err
}

func newMessage(d *delivery) *gcppubsub.Message {
	event := d.event
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.OrderingKey,
		Attributes: map[string]string{
			"event_id":       d.resolved.Envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
		},
	}
}

// record applies outcomes on the claiming transaction. Marks run sequentially
// because a gorm transaction is not safe for concurrent use.
func (s *Service) record(ctx context.Context, tx *gorm.DB, deliveries []*delivery) error {
	for _, d := range deliveries {
		eventType := string(d.event.EventType)
		logCtx := s.logg.WithFields(ctx, s.deliveryFields(d))

		switch d.state {
		case statePublished:
			if err := s.repo.MarkPublishedTx(tx, d.event.ID); err != nil {
				return fmt.Errorf("mark published %s: %w", d.event.ID, err)
			}
			s.metrics.ObserveOutcome(eventType, metrics.OutboxPublished)
			s.logg.Info(logCtx, "outbox event published")
		case stateRetry:
			if err := s.repo.MarkFailedTx(tx, d.event.ID, d.err); err != nil {
				return fmt.Errorf("mark failure %s: %w", d.event.ID, err)
			}
			s.metrics.ObserveOutcome(eventType, metrics.OutboxRetried)
			s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox publish failed")
		case stateTerminal:
			if err := s.deadLetter(tx, d); err != nil {
				return err
			}
			s.metrics.ObserveOutcome(eventType, metrics.OutboxDeadLettered)
			s.logg.Warn(s.logg.WithField(logCtx, "error", d.err.Error()), "outbox event will not be retried")
		case stateDeferred:
			s.metrics.ObserveOutcome(eventType, metrics.OutboxDeferred)
			s.logg.Debug(logCtx, "outbox event deferred behind failed ordering key")
		}
	}
	return nil
}

func (s *Service) deadLetter(tx *gorm.DB, d *delivery) error {
	msg := d.err.Error()
	entry := models.OutboxDLQ{
		EventID:       d.event.ID,
		EventType:     d.event.EventType,
		AggregateType: d.event.AggregateType,
		AggregateID:   d.event.AggregateID,
		OrderingKey:   d.event.OrderingKey,
		Payload:       d.event.Payload,
		ErrorReason:   d.reason,
		ErrorMessage:  &msg,
		AttemptCount:  d.event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := s.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", d.event.ID, err)
	}
	if err := s.repo.MarkTerminalTx(tx, d.event.ID, d.err, s.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", d.event.ID, err)
	}
	return nil
}

func (s *Service) deliveryFields(d *delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":     d.event.ID.String(),
		"event_type":    d.event.EventType,
		"aggregate_id":  d.event.AggregateID.String(),
		"ordering_key":  d.event.OrderingKey,
		"attempt_count": d.event.AttemptCount,
	}
	if topic := d.topic(); topic != "" {
		fields["topic"] = topic
		fields["event_id"] = d.resolved.Envelope.EventID
	}
	if d.state == stateTerminal {
		fields["error_reason"] = d.reason
	}
	return fields
}
