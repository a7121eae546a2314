package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

const currentEnvelopeVersion = 1

// DomainEvent is what producers hand to Emit; Data is the event payload.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	Version       int
	OccurredAt    time.Time
}

type batchInserter interface {
	InsertBatch(tx *gorm.DB, events []models.OutboxEvent) error
}

// Service turns domain events into outbox rows.
type Service struct {
	repo batchInserter
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit appends events to the outbox inside tx, in order, so they commit or
// roll back with the state change that produced them. The row id doubles as
// the envelope event id, which consumers dedupe on.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, events ...DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if len(events) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]models.OutboxEvent, 0, len(events))
	for i, ev := range events {
		row, err := s.row(ev, now)
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.EventType, err)
		}
		rows = append(rows, row)
	}
	if err := s.repo.InsertBatch(tx, rows); err != nil {
		return err
	}
	if s.logg != nil {
		for _, row := range rows {
			s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
				"event_id":     row.ID.String(),
				"event_type":   row.EventType,
				"aggregate_id": row.AggregateID.String(),
				"owner":        row.OrderingKey,
			}), "outbox event queued")
		}
	}
	return nil
}

func (s *Service) row(ev DomainEvent, now time.Time) (models.OutboxEvent, error) {
	if !ev.EventType.IsValid() {
		return models.OutboxEvent{}, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal data: %w", err)
	}
	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	version := ev.Version
	if version == 0 {
		version = currentEnvelopeVersion
	}

	id := uuid.New()
	envelope, err := json.Marshal(PayloadEnvelope{
		Version:    version,
		EventID:    id.String(),
		OccurredAt: occurredAt.UTC(),
		Actor:      ev.Actor,
		Data:       data,
	})
	if err != nil {
		return models.OutboxEvent{}, fmt.Errorf("marshal envelope: %w", err)
	}

	row := models.OutboxEvent{
		ID:            id,
		EventType:     ev.EventType,
		AggregateType: ev.AggregateType,
		AggregateID:   ev.AggregateID,
		Payload:       envelope,
	}
	// One owner's events share an ordering key so Pub/Sub keeps them in sequence.
	if ev.Actor != nil {
		row.OrderingKey = ev.Actor.OwnerKey
	}
	return row, nil
}
