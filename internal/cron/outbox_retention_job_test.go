package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

func TestOutboxRetentionPrunesInChunksUntilShort(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	events := &fakeSettledPruner{batches: []int64{3, 3, 1}}
	letters := &fakeDeadLetterPruner{batches: []int64{2}}
	job := newOutboxRetentionJob(t, events, letters)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.calls != 3 {
		t.Fatalf("expected three outbox chunks, got %d", events.calls)
	}
	if want := now.Add(-defaultOutboxRetention); !events.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, events.cutoff)
	}
	if events.terminalAttempts != 10 || events.limit != 3 {
		t.Fatalf("unexpected arguments attempts=%d limit=%d", events.terminalAttempts, events.limit)
	}
	if letters.calls != 1 || !letters.cutoff.Equal(now.Add(-defaultDLQRetention)) {
		t.Fatalf("unexpected dlq pruning calls=%d cutoff=%s", letters.calls, letters.cutoff)
	}
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job := newOutboxRetentionJob(t, &fakeSettledPruner{err: errors.New("boom")}, &fakeDeadLetterPruner{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionRequiresTerminalAttempts(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:     &inlineTx{},
		Outbox: &fakeSettledPruner{},
	})
	if err == nil {
		t.Fatal("expected error without terminal attempts")
	}
}

func newOutboxRetentionJob(t *testing.T, events *fakeSettledPruner, letters *fakeDeadLetterPruner) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:           logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:               &inlineTx{},
		Outbox:           events,
		DLQ:              letters,
		TerminalAttempts: 10,
		ChunkSize:        3,
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeSettledPruner struct {
	batches          []int64
	calls            int
	cutoff           time.Time
	terminalAttempts int
	limit            int
	err              error
}

func (f *fakeSettledPruner) DeleteSettledBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	f.terminalAttempts = terminalAttempts
	f.limit = limit
	if f.err != nil {
		return 0, f.err
	}
	return popBatch(&f.batches), nil
}

type fakeDeadLetterPruner struct {
	batches []int64
	calls   int
	cutoff  time.Time
}

func (f *fakeDeadLetterPruner) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, _ int) (int64, error) {
	f.calls++
	f.cutoff = cutoff
	return popBatch(&f.batches), nil
}

func popBatch(batches *[]int64) int64 {
	if len(*batches) == 0 {
		return 0
	}
	n := (*batches)[0]
	*batches = (*batches)[1:]
	return n
}
