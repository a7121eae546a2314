package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

type fakeWindowStore struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeWindowStore() *fakeWindowStore {
	return &fakeWindowStore{counts: map[string]int64{}}
}

func (f *fakeWindowStore) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if f.err != nil {
		return false, 0, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[scope]++
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func ownerRequest(method string, owner cart.Owner) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/cart/items", nil)
	return req.WithContext(WithOwner(req.Context(), owner))
}

func TestOwnerRateLimitBlocksPerOwner(t *testing.T) {
	store := newFakeWindowStore()
	handler := OwnerRateLimit(NewRateLimitPolicy("cart", time.Minute, 2), store, nil)(okHandler())
	noisy := cart.GuestOwner("noisy")
	quiet := cart.GuestOwner("quiet")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, ownerRequest(http.MethodPost, noisy))
		if i < 2 && rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
		if i == 2 {
			if rec.Code != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", rec.Code)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body.Error.Code != string(pkgerrors.CodeRateLimit) {
				t.Fatalf("unexpected error code %q", body.Error.Code)
			}
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, ownerRequest(http.MethodPost, quiet))
	if rec.Code != http.StatusOK {
		t.Fatalf("other owners must not share the window, got %d", rec.Code)
	}
}

func TestOwnerRateLimitIgnoresReads(t *testing.T) {
	store := newFakeWindowStore()
	handler := OwnerRateLimit(NewRateLimitPolicy("cart", time.Minute, 1), store, nil)(okHandler())
	owner := cart.GuestOwner("reader")

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, ownerRequest(http.MethodGet, owner))
		if rec.Code != http.StatusOK {
			t.Fatalf("reads should not be limited, got %d", rec.Code)
		}
	}
	if len(store.counts) != 0 {
		t.Fatalf("reads should not touch the counter store")
	}
}

func TestOwnerRateLimitStoreFailure(t *testing.T) {
	store := newFakeWindowStore()
	store.err = errors.New("redis down")
	handler := OwnerRateLimit(NewRateLimitPolicy("cart", time.Minute, 1), store, nil)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, ownerRequest(http.MethodDelete, cart.GuestOwner("g")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestOwnerRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	handler := OwnerRateLimit(NewRateLimitPolicy("cart", 0, 0), nil, nil)(okHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, ownerRequest(http.MethodPost, cart.GuestOwner("g")))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", rec.Code)
	}
}
