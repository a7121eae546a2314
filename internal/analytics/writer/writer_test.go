package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
)

func TestNewWriterValidation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error when client missing")
	}
	if _, err := New(&fakeInserter{}, Config{CartEventsTable: " "}); err == nil {
		t.Fatal("expected error when cart events table missing")
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"foo": "bar"})
	if err != nil || !nj.Valid || nj.JSONVal != `{"foo":"bar"}` {
		t.Fatalf("unexpected encoding %+v (%v)", nj, err)
	}
	if nj, _ := EncodeJSON(nil); nj.Valid {
		t.Fatal("expected nil json to be invalid")
	}
	if nj, _ := EncodeJSON(json.RawMessage{}); nj.Valid {
		t.Fatal("expected empty raw json to be invalid")
	}
	raw := json.RawMessage(`{"foo":"baz"}`)
	if nj, _ := EncodeJSON(raw); nj.JSONVal != string(raw) {
		t.Fatalf("expected raw json passed through, got %s", nj.JSONVal)
	}
}

func TestWriterGroupsConcurrentRowsIntoOneInsert(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 3, FlushInterval: time.Hour})
	stop := runWriter(t, w)
	defer stop()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs <- w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: fmt.Sprint(id)})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if calls := fake.snapshot(); len(calls) != 1 || calls[0].rowCount != 3 {
		t.Fatalf("expected one three-row insert, got %+v", calls)
	}
}

func TestWriterFlushesPartialBatchOnInterval(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 50, FlushInterval: 5 * time.Millisecond})
	stop := runWriter(t, w)
	defer stop()

	if err := w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if calls := fake.snapshot(); len(calls) != 1 || calls[0].rowCount != 1 || calls[0].table != "cart_events" {
		t.Fatalf("expected interval flush of one row, got %+v", calls)
	}
}

func TestWriterRetriesTransientErrors(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 1})
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}, nil}
	stop := runWriter(t, w)
	defer stop()

	if err := w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error writing row: %v", err)
	}
	if calls := fake.snapshot(); len(calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(calls))
	}
}

func TestWriterReturnsPermanentErrorsToEveryRow(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 1})
	fake.responses = []error{status.Error(codes.InvalidArgument, "bad row")}
	stop := runWriter(t, w)
	defer stop()

	if err := w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "1"}); err == nil {
		t.Fatal("expected permanent error")
	}
	if calls := fake.snapshot(); len(calls) != 1 {
		t.Fatalf("permanent errors must not retry, got %d calls", len(calls))
	}
}

func TestWriterGivesUpAfterMaxAttempts(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 1})
	transient := &googleapi.Error{Code: http.StatusTooManyRequests}
	fake.responses = []error{transient, transient, transient, transient}
	stop := runWriter(t, w)
	defer stop()

	if err := w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "1"}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls := fake.snapshot(); len(calls) != defaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", defaultMaxAttempts, len(calls))
	}
}

func TestWriterHonoursCancelledContext(t *testing.T) {
	w, fake := newTestWriter(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.InsertCartEvent(ctx, types.CartEventRow{EventID: "1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(fake.snapshot()) != 0 {
		t.Fatalf("no insert expected after cancellation")
	}
}

func TestWriterFlushesQueuedRowsOnShutdown(t *testing.T) {
	w, fake := newTestWriter(t, Config{BatchSize: 10, FlushInterval: time.Hour})

	result := make(chan error, 1)
	go func() {
		result <- w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "1"})
	}()
	waitFor(t, func() bool { return len(w.queue) == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled from Run, got %v", err)
	}
	if err := <-result; err != nil {
		t.Fatalf("queued row should be written on shutdown: %v", err)
	}
	if calls := fake.snapshot(); len(calls) != 1 || calls[0].rowCount != 1 {
		t.Fatalf("expected shutdown flush of one row, got %+v", calls)
	}
	if err := w.InsertCartEvent(context.Background(), types.CartEventRow{EventID: "2"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after shutdown, got %v", err)
	}
}

func TestIsRetryableBigQueryError(t *testing.T) {
	transient := &googleapi.Error{Code: http.StatusBadGateway}
	permanent := &googleapi.Error{Code: http.StatusBadRequest}
	cases := map[string]struct {
		err  error
		want bool
	}{
		"unavailable grpc":   {status.Error(codes.Unavailable, "x"), true},
		"invalid grpc":       {status.Error(codes.InvalidArgument, "x"), false},
		"wrapped 502":        {fmt.Errorf("put: %w", transient), true},
		"all rows transient": {cbigquery.PutMultiError{{Errors: cbigquery.MultiError{transient}}}, true},
		"one permanent row":  {cbigquery.PutMultiError{{Errors: cbigquery.MultiError{transient}}, {Errors: cbigquery.MultiError{permanent}}}, false},
		"empty multi error":  {cbigquery.MultiError{}, false},
		"plain error":        {errors.New("boom"), false},
	}
	for name, tc := range cases {
		if got := isRetryableBigQueryError(tc.err); got != tc.want {
			t.Errorf("%s: got %v want %v", name, got, tc.want)
		}
	}
}

type insertCall struct {
	table    string
	rowCount int
}

// fakeInserter answers calls from responses in order, then succeeds.
type fakeInserter struct {
	mu        sync.Mutex
	responses []error
	calls     []insertCall
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	if len(f.responses) == 0 {
		return nil
	}
	err := f.responses[0]
	f.responses = f.responses[1:]
	return err
}

func (f *fakeInserter) snapshot() []insertCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]insertCall(nil), f.calls...)
}

func newTestWriter(t *testing.T, cfg Config) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	cfg.CartEventsTable = "cart_events"
	cfg.RetryPolicy = RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond}
	fake := &fakeInserter{}
	w, err := New(fake, cfg)
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}
	return w, fake
}

func runWriter(t *testing.T, w *BigQueryWriter) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}
