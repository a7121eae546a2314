package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestCodeBehaviour(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		message   bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, message: true},
		{code: CodeRequiresAuthentication, status: http.StatusUnauthorized, message: true},
		{code: CodeNotFound, status: http.StatusNotFound, message: true},
		{code: CodeOutOfStock, status: http.StatusConflict},
		{code: CodePriceUnavailable, status: http.StatusConflict, retryable: true},
		{code: CodeItemLimitExceeded, status: http.StatusUnprocessableEntity},
		{code: CodeMergeConflict, status: http.StatusOK},
		{code: CodePayloadTooLarge, status: http.StatusRequestEntityTooLarge, message: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
	}

	for _, tt := range tests {
		if got := tt.code.Status(); got != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, got)
		}
		if got := tt.code.Retryable(); got != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, got)
		}
		if got := tt.code.ExposesMessage(); got != tt.message {
			t.Fatalf("code %s expected exposes message %v got %v", tt.code, tt.message, got)
		}
		if tt.code.PublicMessage() == "" {
			t.Fatalf("code %s missing public message", tt.code)
		}
	}
	if CodeInternal.ExposesDetails() {
		t.Fatal("internal errors must not expose details")
	}
}

func TestUnknownCodeBehavesAsInternal(t *testing.T) {
	if got := Code("SOMETHING_UNKNOWN").Status(); got != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stdErrors.New("dial tcp: refused")
	wrapped := Wrap(CodeDependency, cause, "load active cart")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if got := CodeOf(fmt.Errorf("outer: %w", wrapped)); got != CodeDependency {
		t.Fatalf("expected dependency code through wrapping, got %s", got)
	}
	if !IsRetryable(wrapped) {
		t.Fatalf("dependency errors should be retryable")
	}
}

func TestCodeOfUntypedAndNil(t *testing.T) {
	if CodeOf(nil) != "" {
		t.Fatalf("nil error should have empty code")
	}
	if CodeOf(stdErrors.New("plain")) != CodeInternal {
		t.Fatalf("untyped error should map to internal")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestLogFieldsCapturesPostgresDetails(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "next_purchase_cart_items_identity_key", TableName: "next_purchase_cart_items"}
	fields := LogFields(Wrap(CodeDependency, pgErr, "persist next purchase cart"))
	if fields["pg_code"] != "23505" || fields["pg_constraint"] != "next_purchase_cart_items_identity_key" {
		t.Fatalf("unexpected pg fields: %+v", fields)
	}
	if _, ok := fields["pg_detail"]; ok {
		t.Fatal("empty pg fields should be dropped")
	}
	if fields["error_code"] != CodeDependency || fields["error_retryable"] != true {
		t.Fatalf("unexpected code fields: %+v", fields)
	}
	if chain, ok := fields["error_chain"].([]string); !ok || len(chain) != 2 {
		t.Fatalf("expected two-link chain, got %+v", fields["error_chain"])
	}
}

func TestLogFieldsPlainError(t *testing.T) {
	fields := LogFields(stdErrors.New("boom"))
	if fields["error"] != "boom" || fields["error_code"] != CodeInternal {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	if _, ok := fields["error_chain"]; ok {
		t.Fatal("single error should not carry a chain")
	}
	if len(LogFields(nil)) != 0 {
		t.Fatal("nil error should produce no fields")
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	if got := Newf(CodeNotFound, "item %d missing", 3).Message(); got != "item 3 missing" {
		t.Fatalf("unexpected message %q", got)
	}
}
