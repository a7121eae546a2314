package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
)

func TestNormalizeSpecs(t *testing.T) {
	got, err := normalizeSpecs([]TableSpec{{Name: "  cart_events "}})
	if err != nil || len(got) != 1 || got[0].Name != "cart_events" {
		t.Fatalf("unexpected specs %v (%v)", got, err)
	}
	if _, err := normalizeSpecs(nil); !errors.Is(err, errTableNameRequired) {
		t.Fatalf("expected table error, got %v", err)
	}
	if _, err := normalizeSpecs([]TableSpec{{Name: " "}}); !errors.Is(err, errTableNameRequired) {
		t.Fatalf("expected table error for blank name, got %v", err)
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	spec := TableSpec{Name: "t"}
	if _, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d"}, nil, spec); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{}, nil, spec); !errors.Is(err, errDatasetRequired) {
		t.Fatalf("expected dataset error, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "d"}, nil); !errors.Is(err, errTableNameRequired) {
		t.Fatalf("expected table error, got %v", err)
	}
}

func TestTableSpecMetadata(t *testing.T) {
	md := TableSpec{
		Name:           "cart_events",
		Schema:         bigquery.Schema{{Name: "occurred_at", Type: bigquery.TimestampFieldType}},
		PartitionField: "occurred_at",
		Clustering:     []string{"event_type"},
	}.metadata()
	if md.TimePartitioning == nil || md.TimePartitioning.Field != "occurred_at" {
		t.Fatalf("expected day partitioning on occurred_at, got %+v", md.TimePartitioning)
	}
	if md.Clustering == nil || md.Clustering.Fields[0] != "event_type" {
		t.Fatalf("expected clustering on event_type")
	}
	if plain := (TableSpec{Name: "x"}).metadata(); plain.TimePartitioning != nil || plain.Clustering != nil {
		t.Fatalf("unpartitioned spec should not set partitioning")
	}
}

func TestAPIStatusHelpers(t *testing.T) {
	if !isNotFound(fmt.Errorf("metadata: %w", &googleapi.Error{Code: http.StatusNotFound})) {
		t.Fatalf("expected wrapped 404 to be not found")
	}
	if isNotFound(&googleapi.Error{Code: http.StatusForbidden}) {
		t.Fatalf("403 is not a not-found")
	}
	if !isConflict(&googleapi.Error{Code: http.StatusConflict}) {
		t.Fatalf("expected 409 to be a conflict")
	}
	if apiStatus(errors.New("plain")) != 0 {
		t.Fatalf("non-api errors have no status")
	}
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "cart_events", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected not initialized ping, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close should be a no-op: %v", err)
	}
}
