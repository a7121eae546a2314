// Package cartevents records cart domain events in the transactional outbox.
package cartevents

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
)

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, events ...outbox.DomainEvent) error
}

// Publisher writes cart events to outbox_events. Events passed to one call
// share a transaction and keep their order.
type Publisher struct {
	db      *gorm.DB
	emitter emitter
}

func NewPublisher(db *gorm.DB, emitter emitter) (*Publisher, error) {
	if db == nil {
		return nil, errors.New("db required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &Publisher{db: db, emitter: emitter}, nil
}

func (p *Publisher) Publish(ctx context.Context, events ...cart.Event) error {
	if len(events) == 0 {
		return nil
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return p.PublishTx(ctx, tx, events...)
	})
}

// PublishTx emits inside a caller-owned transaction so the events commit with
// the state change.
func (p *Publisher) PublishTx(ctx context.Context, tx *gorm.DB, events ...cart.Event) error {
	if len(events) == 0 {
		return nil
	}
	domain := make([]outbox.DomainEvent, len(events))
	for i, ev := range events {
		domain[i] = ToDomainEvent(ev)
	}
	if err := p.emitter.Emit(ctx, tx, domain...); err != nil {
		return fmt.Errorf("emit %d cart events: %w", len(events), err)
	}
	return nil
}

// ToDomainEvent maps a cart event onto the outbox envelope, using the owner
// key as the actor so the publisher can order per owner.
func ToDomainEvent(ev cart.Event) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     ev.Type,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Actor:         ActorFor(ev.Owner),
		Data:          ev.Data,
		OccurredAt:    ev.OccurredAt,
	}
}

func ActorFor(owner cart.Owner) *outbox.ActorRef {
	actor := &outbox.ActorRef{OwnerKey: owner.Key(), Kind: owner.Kind}
	if owner.IsRegistered() {
		id := owner.UserID
		actor.UserID = &id
	}
	return actor
}
