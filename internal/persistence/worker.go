package persistence

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes envelopes
// to Postgres. The core sends on that channel with a blocking send, so a
// slow worker stalls the core instead of losing commands.
type PersistenceWorker struct {
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	// onFlushed runs after each committed batch, in sequence order.
	onFlushed func([]EventRow)
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// OnFlushed registers a callback invoked with every committed batch.
// The outbound publisher hangs off it so nothing is published before it
// is durable.
func (pw *PersistenceWorker) OnFlushed(fn func([]EventRow)) {
	pw.onFlushed = fn
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	var oldest time.Time // receive time of batch[0]
	flush := func(ctx context.Context, reason string) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.logger.Error().Err(err).Str("reason", reason).Int("events", len(batch)).Msg("batch flush failed")
		} else if pw.metrics != nil {
			pw.metrics.ApplyToPersist.Observe(time.Since(oldest).Seconds())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), "shutdown")
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background(), "closed")
				return nil
			}
			if output.Envelope == nil {
				continue
			}

			if len(batch) == 0 {
				oldest = time.Now()
			}
			batch = append(batch, NewEventRow(output.Envelope))
			if len(batch) >= pw.batchSize {
				flush(ctx, "full")
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx, "timeout")
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// On cancellation it makes one last attempt with a background context so
// the batch is not lost on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.flush(context.Background(), events); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.flush(ctx, events)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow) error {
	start := time.Now()

	tx, err := pw.writer.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}

	if pw.onFlushed != nil {
		committed := make([]EventRow, len(events))
		copy(committed, events)
		pw.onFlushed(committed)
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
