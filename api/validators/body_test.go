package validators

import (
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

type lineRequest struct {
	SKU      string `json:"sku" validate:"required,max=8"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type batchRequest struct {
	Lines []lineRequest `json:"lines" validate:"required,dive"`
}

func decode(t *testing.T, body string, dest any) *pkgerrors.Error {
	t.Helper()
	r := httptest.NewRequest("POST", "/", strings.NewReader(body))
	err := DecodeJSONBody(r, dest)
	if err == nil {
		return nil
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	return typed
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	var req lineRequest
	if err := decode(t, `{"sku":"A1","quantity":2}`, &req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.SKU != "A1" || req.Quantity != 2 {
		t.Fatalf("unexpected decode %+v", req)
	}
}

func TestDecodeJSONBodyRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"empty":          "  ",
		"syntax":         `{"sku":`,
		"unknown field":  `{"sku":"A1","quantity":1,"price":3}`,
		"wrong type":     `{"sku":"A1","quantity":"two"}`,
		"trailing value": `{"sku":"A1","quantity":1}{"sku":"B"}`,
		"too large":      `{"sku":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`,
	}
	for name, body := range cases {
		var req lineRequest
		if err := decode(t, body, &req); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestDecodeJSONBodyReportsFieldPaths(t *testing.T) {
	var req batchRequest
	err := decode(t, `{"lines":[{"sku":"A1","quantity":1},{"sku":"TOO-LONG-SKU","quantity":0}]}`, &req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	details, ok := err.Details().(map[string]string)
	if !ok {
		t.Fatalf("expected field details, got %T", err.Details())
	}
	if details["lines[1].sku"] != "must be at most 8" {
		t.Fatalf("unexpected sku detail %q (all=%v)", details["lines[1].sku"], details)
	}
	if details["lines[1].quantity"] != "is required" {
		t.Fatalf("unexpected quantity detail %q (all=%v)", details["lines[1].quantity"], details)
	}
}
