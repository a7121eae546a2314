package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultPruneChunk      = 1000
)

// OutboxRetentionJobParams configure pruning of settled outbox rows and of old
// dead letters. TerminalAttempts must match the publisher's max attempts: rows
// parked there are dead-lettered and safe to drop.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Outbox           settledOutboxPruner
	DLQ              deadLetterPruner
	Metrics          *metrics.CartMetrics
	Retention        time.Duration
	DLQRetention     time.Duration
	TerminalAttempts int
	ChunkSize        int
}

type settledOutboxPruner interface {
	DeleteSettledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type outboxRetentionJob struct {
	logg             *logger.Logger
	db               txRunner
	outbox           settledOutboxPruner
	dlq              deadLetterPruner
	metrics          *metrics.CartMetrics
	retention        time.Duration
	dlqRetention     time.Duration
	terminalAttempts int
	chunk            int
	now              func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	case params.TerminalAttempts <= 0:
		return nil, errors.New("terminal attempts required")
	}
	job := &outboxRetentionJob{
		logg:             params.Logger,
		db:               params.DB,
		outbox:           params.Outbox,
		dlq:              params.DLQ,
		metrics:          params.Metrics,
		retention:        params.Retention,
		dlqRetention:     params.DLQRetention,
		terminalAttempts: params.TerminalAttempts,
		chunk:            params.ChunkSize,
		now:              time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.chunk <= 0 {
		job.chunk = defaultPruneChunk
	}
	return job, nil
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-j.retention)

	events, err := j.pruneInChunks(ctx, func(tx *gorm.DB) (int64, error) {
		return j.outbox.DeleteSettledBefore(ctx, tx, outboxCutoff, j.terminalAttempts, j.chunk)
	})
	if err != nil {
		return fmt.Errorf("prune outbox events: %w", err)
	}
	j.metrics.AddReconciled("outbox_pruned", int(events))

	fields := map[string]any{
		"outbox_cutoff":  outboxCutoff,
		"events_deleted": events,
	}
	if j.dlq != nil {
		dlqCutoff := now.Add(-j.dlqRetention)
		letters, err := j.pruneInChunks(ctx, func(tx *gorm.DB) (int64, error) {
			return j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff, j.chunk)
		})
		if err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		j.metrics.AddReconciled("dlq_pruned", int(letters))
		fields["dlq_cutoff"] = dlqCutoff
		fields["dead_letters_deleted"] = letters
	}

	j.logg.Info(j.logg.WithFields(ctx, fields), "outbox retention cleanup complete")
	return nil
}

// pruneInChunks commits one transaction per chunk so a large backlog never
// holds row locks for the whole sweep.
func (j *outboxRetentionJob) pruneInChunks(ctx context.Context, deleteChunk func(tx *gorm.DB) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = deleteChunk(tx)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.chunk) {
			return total, nil
		}
	}
}
