package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
)

const (
	defaultBatchSize      = 100
	defaultFlushInterval  = 2 * time.Second
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
	shutdownFlushTimeout  = 10 * time.Second
)

// ErrClosed is returned for rows submitted after Run has returned.
var ErrClosed = errors.New("analytics writer closed")

type Config struct {
	CartEventsTable string
	// BatchSize rows are sent in one streaming insert; a partial batch goes out
	// after FlushInterval.
	BatchSize     int
	FlushInterval time.Duration
	RetryPolicy   RetryPolicy
}

type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

type pendingRow struct {
	row  types.CartEventRow
	done chan error
}

// BigQueryWriter group-commits cart event rows. InsertCartEvent blocks until
// the batch holding its row is written, so a subscriber only acks rows that
// reached BigQuery. Run must be running for inserts to complete.
type BigQueryWriter struct {
	client        tableInserter
	table         string
	batchSize     int
	flushInterval time.Duration
	retry         RetryPolicy

	queue  chan pendingRow
	closed chan struct{}
}

func New(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.CartEventsTable)
	if table == "" {
		return nil, errors.New("cart events table is required")
	}

	w := &BigQueryWriter{
		client:        client,
		table:         table,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retry:         cfg.RetryPolicy,
		closed:        make(chan struct{}),
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.flushInterval <= 0 {
		w.flushInterval = defaultFlushInterval
	}
	if w.retry.MaxAttempts <= 0 {
		w.retry.MaxAttempts = defaultMaxAttempts
	}
	if w.retry.InitialBackoff <= 0 {
		w.retry.InitialBackoff = defaultInitialBackoff
	}
	if w.retry.MaximumBackoff < w.retry.InitialBackoff {
		w.retry.MaximumBackoff = max(defaultMaximumBackoff, w.retry.InitialBackoff)
	}
	w.queue = make(chan pendingRow, w.batchSize)
	return w, nil
}

// InsertCartEvent queues row and waits for its batch to be written.
func (w *BigQueryWriter) InsertCartEvent(ctx context.Context, row types.CartEventRow) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-w.closed:
		return ErrClosed
	default:
	}
	p := pendingRow{row: row, done: make(chan error, 1)}
	select {
	case w.queue <- p:
	case <-w.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run flushes batches until ctx is canceled, then writes whatever is still
// queued with a short grace period.
func (w *BigQueryWriter) Run(ctx context.Context) error {
	defer close(w.closed)

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]pendingRow, 0, w.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		err := w.write(ctx, batch)
		for _, p := range batch {
			p.done <- err
		}
		batch = batch[:0]
	}

	for {
		select {
		case p := <-w.queue:
			batch = append(batch, p)
			if len(batch) >= w.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			defer cancel()
			batch = append(batch, w.drainQueued()...)
			flush(drainCtx)
			return ctx.Err()
		}
	}
}

func (w *BigQueryWriter) drainQueued() []pendingRow {
	var rows []pendingRow
	for {
		select {
		case p := <-w.queue:
			rows = append(rows, p)
		default:
			return rows
		}
	}
}

func (w *BigQueryWriter) write(ctx context.Context, batch []pendingRow) error {
	rows := make([]any, len(batch))
	for i := range batch {
		rows[i] = &batch[i].row
	}

	backoff := retry.NewExponential(w.retry.InitialBackoff)
	backoff = retry.WithCappedDuration(w.retry.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if err != nil && isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %d rows into %s: %w", len(rows), w.table, err)
	}
	return nil
}

// isRetryableBigQueryError reports whether every failure inside err is
// transient. One permanent row error makes the whole batch permanent.
func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(len(multi), func(i int) error { return multi[i] })
	}
	var pme cbigquery.PutMultiError
	if errors.As(err, &pme) {
		return allRetryable(len(pme), func(i int) error { return pme[i].Errors })
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		return allRetryable(len(rowErr.Errors), func(i int) error { return rowErr.Errors[i] })
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout,
			http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

func allRetryable(n int, at func(int) error) bool {
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		if !isRetryableBigQueryError(at(i)) {
			return false
		}
	}
	return true
}

// EncodeJSON converts a payload into a BigQuery JSON column value.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		marshaled, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = marshaled
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
