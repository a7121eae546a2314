package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/writer"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertCartEvent(ctx context.Context, row types.CartEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches cart event envelopes to the handler for their event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter wires a row handler for every cart event and allows overrides.
func NewRouter(w Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if w == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	rows := func(fill func(payload any, row *types.CartEventRow)) Handler {
		return &rowHandler{writer: w, fill: fill}
	}
	entries := map[enums.OutboxEventType]handlerEntry{
		enums.EventItemAddedToActiveCart: {
			factory: func() any { return &payloads.ItemAddedToActiveCartEvent{} },
			handler: rows(func(p any, row *types.CartEventRow) {
				ev := p.(*payloads.ItemAddedToActiveCartEvent)
				row.CartID = uuidPtr(ev.CartID)
				row.OwnerKey = stringPtr(ev.OwnerKey)
				row.ProductID = uuidPtr(ev.ProductID)
				row.VariantID = stringPtr(ev.VariantID)
				row.Quantity = int64Ptr(ev.Quantity)
				row.UnitPrice = pricePtr(ev.UnitPrice)
				row.ItemCount = int64Ptr(ev.ItemCount)
			}),
		},
		enums.EventItemSavedForLater: {
			factory: func() any { return &payloads.ItemSavedForLaterEvent{} },
			handler: rows(func(p any, row *types.CartEventRow) {
				ev := p.(*payloads.ItemSavedForLaterEvent)
				row.CartID = uuidPtr(ev.CartID)
				row.NextPurchaseCartID = uuidPtr(ev.NextPurchaseCartID)
				row.UserID = uuidPtr(ev.UserID)
				row.ProductID = uuidPtr(ev.ProductID)
				row.VariantID = stringPtr(ev.VariantID)
				row.Quantity = int64Ptr(ev.Quantity)
			}),
		},
		enums.EventItemMovedToActiveCart: {
			factory: func() any { return &payloads.ItemMovedToActiveCartEvent{} },
			handler: rows(func(p any, row *types.CartEventRow) {
				ev := p.(*payloads.ItemMovedToActiveCartEvent)
				row.CartID = uuidPtr(ev.CartID)
				row.NextPurchaseCartID = uuidPtr(ev.NextPurchaseCartID)
				row.UserID = uuidPtr(ev.UserID)
				row.ProductID = uuidPtr(ev.ProductID)
				row.VariantID = stringPtr(ev.VariantID)
				row.Quantity = int64Ptr(ev.Quantity)
			}),
		},
		enums.EventGuestCartMerged: {
			factory: func() any { return &payloads.GuestCartMergedEvent{} },
			handler: rows(func(p any, row *types.CartEventRow) {
				ev := p.(*payloads.GuestCartMergedEvent)
				row.CartID = uuidPtr(ev.CartID)
				row.UserID = uuidPtr(ev.UserID)
				row.ItemCount = int64Ptr(ev.Merged)
			}),
		},
		enums.EventActiveCartCleared: {
			factory: func() any { return &payloads.ActiveCartClosedEvent{} },
			handler: rows(fillClosed),
		},
		enums.EventActiveCartCheckedOut: {
			factory: func() any { return &payloads.ActiveCartClosedEvent{} },
			handler: rows(fillClosed),
		},
		enums.EventCartExpired: {
			factory: func() any { return &payloads.CartExpiredEvent{} },
			handler: rows(func(p any, row *types.CartEventRow) {
				ev := p.(*payloads.CartExpiredEvent)
				row.CartID = uuidPtr(ev.CartID)
				row.OwnerKey = stringPtr(ev.OwnerKey)
				if ev.UserID != nil {
					row.UserID = uuidPtr(*ev.UserID)
				}
				row.ItemCount = int64Ptr(ev.MigratedItems + ev.DroppedItems)
			}),
		},
	}

	for event, custom := range overrides {
		entry, ok := entries[event]
		if !ok || custom == nil {
			continue
		}
		entry.handler = custom
		entries[event] = entry
	}

	return &Router{
		handlers: entries,
		logg:     logg,
	}, nil
}

// Handle dispatches the incoming envelope to the configured handler.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload := entry.factory()
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	return entry.handler.Handle(ctx, envelope, payload)
}

type rowHandler struct {
	writer Writer
	fill   func(payload any, row *types.CartEventRow)
}

func (h *rowHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	raw, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return err
	}
	row := types.CartEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt,
		Payload:    raw,
	}
	h.fill(payload, &row)
	if row.OwnerKey == nil && envelope.OrderingKey != "" {
		row.OwnerKey = stringPtr(envelope.OrderingKey)
	}
	return h.writer.InsertCartEvent(ctx, row)
}

func fillClosed(p any, row *types.CartEventRow) {
	ev := p.(*payloads.ActiveCartClosedEvent)
	row.CartID = uuidPtr(ev.CartID)
	row.OwnerKey = stringPtr(ev.OwnerKey)
	row.ItemCount = int64Ptr(ev.ItemCount)
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func uuidPtr(v uuid.UUID) *string {
	if v == uuid.Nil {
		return nil
	}
	s := v.String()
	return &s
}

func int64Ptr(v int) *int64 {
	n := int64(v)
	return &n
}

func pricePtr(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.StringFixed(2)
	return &s
}
