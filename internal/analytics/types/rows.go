package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// CartEventRow mirrors the cart_events BigQuery schema. Columns a given event
// does not carry stay NULL; the full payload is kept in Payload.
type CartEventRow struct {
	EventID            string             `bigquery:"event_id"`
	EventType          string             `bigquery:"event_type"`
	OccurredAt         time.Time          `bigquery:"occurred_at"`
	CartID             *string            `bigquery:"cart_id"`
	NextPurchaseCartID *string            `bigquery:"next_purchase_cart_id"`
	OwnerKey           *string            `bigquery:"owner_key"`
	UserID             *string            `bigquery:"user_id"`
	ProductID          *string            `bigquery:"product_id"`
	VariantID          *string            `bigquery:"variant_id"`
	Quantity           *int64             `bigquery:"quantity"`
	UnitPrice          *string            `bigquery:"unit_price"`
	ItemCount          *int64             `bigquery:"item_count"`
	Payload            cbigquery.NullJSON `bigquery:"payload"`
}

// Save implements bigquery.ValueSaver so retried inserts dedupe on event id.
func (r *CartEventRow) Save() (map[string]cbigquery.Value, string, error) {
	row := map[string]cbigquery.Value{
		"event_id":              r.EventID,
		"event_type":            r.EventType,
		"occurred_at":           r.OccurredAt,
		"cart_id":               nullable(r.CartID),
		"next_purchase_cart_id": nullable(r.NextPurchaseCartID),
		"owner_key":             nullable(r.OwnerKey),
		"user_id":               nullable(r.UserID),
		"product_id":            nullable(r.ProductID),
		"variant_id":            nullable(r.VariantID),
		"quantity":              nullable(r.Quantity),
		"unit_price":            nullable(r.UnitPrice),
		"item_count":            nullable(r.ItemCount),
		"payload":               nil,
	}
	if r.Payload.Valid {
		row["payload"] = r.Payload.JSONVal
	}
	return row, r.EventID, nil
}

func nullable[T any](v *T) cbigquery.Value {
	if v == nil {
		return nil
	}
	return *v
}
