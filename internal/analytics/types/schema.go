package types

import (
	cbigquery "cloud.google.com/go/bigquery"

	pkgbigquery "github.com/angelmondragon/dualcart-backend/pkg/bigquery"
)

// CartEventsTable is the table spec backing CartEventRow. Columns must stay in
// step with CartEventRow.Save.
func CartEventsTable(name string) pkgbigquery.TableSpec {
	nullableString := func(col string) *cbigquery.FieldSchema {
		return &cbigquery.FieldSchema{Name: col, Type: cbigquery.StringFieldType}
	}
	return pkgbigquery.TableSpec{
		Name: name,
		Schema: cbigquery.Schema{
			{Name: "event_id", Type: cbigquery.StringFieldType, Required: true},
			{Name: "event_type", Type: cbigquery.StringFieldType, Required: true},
			{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
			nullableString("cart_id"),
			nullableString("next_purchase_cart_id"),
			nullableString("owner_key"),
			nullableString("user_id"),
			nullableString("product_id"),
			nullableString("variant_id"),
			{Name: "quantity", Type: cbigquery.IntegerFieldType},
			{Name: "unit_price", Type: cbigquery.NumericFieldType},
			{Name: "item_count", Type: cbigquery.IntegerFieldType},
			{Name: "payload", Type: cbigquery.JSONFieldType},
		},
		PartitionField: "occurred_at",
		Clustering:     []string{"event_type", "owner_key"},
	}
}
