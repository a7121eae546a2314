package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.EventCartAbandoned,
		Payload:   []byte(`{"foo":"bar"}`),
	}
	err := router.Handle(context.Background(), env)
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRouterRoutesToOverride(t *testing.T) {
	handler := &stubHandler{}
	router, writer := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventCartExpired: handler,
	})
	data, _ := json.Marshal(payloads.CartExpiredEvent{CartID: uuid.New(), OwnerKey: "guest:g1"})
	env := types.Envelope{EventType: enums.EventCartExpired, Payload: data}
	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handler.called {
		t.Fatalf("handler not invoked")
	}
	if len(writer.inserted) != 0 {
		t.Fatalf("override should replace the default row handler")
	}
}

func TestRouterWritesItemAddedRow(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	cartID, productID := uuid.New(), uuid.New()
	data, _ := json.Marshal(payloads.ItemAddedToActiveCartEvent{
		CartID:    cartID,
		OwnerKey:  "guest:g1",
		ProductID: productID,
		VariantID: "red",
		Quantity:  3,
		UnitPrice: decimal.NewNullDecimal(decimal.RequireFromString("12.5")),
		ItemCount: 2,
	})
	occurred := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	env := types.Envelope{
		EventID:    "evt-1",
		EventType:  enums.EventItemAddedToActiveCart,
		OccurredAt: occurred,
		Payload:    data,
	}

	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected one row, got %d", len(writer.inserted))
	}
	row := writer.inserted[0]
	if row.EventID != "evt-1" || row.EventType != "item_added_to_active_cart" || !row.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected row header %+v", row)
	}
	if *row.CartID != cartID.String() || *row.ProductID != productID.String() || *row.VariantID != "red" {
		t.Fatalf("unexpected identity columns %+v", row)
	}
	if *row.Quantity != 3 || *row.ItemCount != 2 || *row.UnitPrice != "12.50" {
		t.Fatalf("unexpected numeric columns q=%d n=%d p=%s", *row.Quantity, *row.ItemCount, *row.UnitPrice)
	}
	if row.UserID != nil || row.NextPurchaseCartID != nil {
		t.Fatalf("guest add should not carry user columns")
	}
	if !row.Payload.Valid || row.Payload.JSONVal != string(data) {
		t.Fatalf("payload should be kept verbatim")
	}
}

func TestRouterFallsBackToOrderingKeyForOwner(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	userID := uuid.New()
	data, _ := json.Marshal(payloads.GuestCartMergedEvent{CartID: uuid.New(), UserID: userID, Merged: 2})
	env := types.Envelope{
		EventID:     "evt-2",
		EventType:   enums.EventGuestCartMerged,
		OrderingKey: "user:" + userID.String(),
		Payload:     data,
	}
	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	row := writer.inserted[0]
	if row.OwnerKey == nil || *row.OwnerKey != "user:"+userID.String() {
		t.Fatalf("expected owner key from ordering key, got %v", row.OwnerKey)
	}
	if *row.UserID != userID.String() || *row.ItemCount != 2 {
		t.Fatalf("unexpected merge row %+v", row)
	}
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventActiveCartCleared})
	if err == nil || errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected empty payload error, got %v", err)
	}
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test", Output: io.Discard}), overrides)
	if err != nil {
		t.Fatalf("construct router: %v", err)
	}
	return router, writer
}

type stubHandler struct {
	called bool
}

func (s *stubHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	s.called = true
	return nil
}
