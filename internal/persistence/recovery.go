package persistence

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/ingestion"
	"VesselLedger/internal/observability"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrReplayDiverged is returned when re-applying a stored command does not
// reproduce the stored state hash.
var ErrReplayDiverged = errors.New("replay diverged from event log")

// EventSource pages through the persisted event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error)
}

// SnapshotStore loads and saves snapshots. SnapshotManager implements it.
type SnapshotStore interface {
	EventSource
	LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error)
	SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// Recovery rebuilds the core from the latest verified snapshot plus the
// tail of the event log.
type Recovery struct {
	store     SnapshotStore
	pageSize  int
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRecovery(store SnapshotStore, pageSize int, metrics *observability.Metrics, logger zerolog.Logger) *Recovery {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Recovery{store: store, pageSize: pageSize, metrics: metrics, logger: logger}
}

// Recover restores c and returns the number of replayed commands. c must
// be freshly constructed.
func (r *Recovery) Recover(ctx context.Context, c *core.DeterministicCore) (int, error) {
	start := time.Now()
	from := int64(0)

	snap, err := r.store.LoadLatestSnapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		cs, err := snap.ToCoreState()
		if err != nil {
			return 0, err
		}
		if err := c.RestoreFromSnapshot(cs); err != nil {
			return 0, fmt.Errorf("restore snapshot at seq %d: %w", snap.Sequence, err)
		}
		from = snap.Sequence + 1
		r.logger.Info().Int64("sequence", snap.Sequence).Str("state_hash", snap.StateHash).Msg("restored snapshot")
	} else {
		r.logger.Info().Msg("no verified snapshot, replaying full event log")
	}

	n, err := Replay(ctx, c, r.store, from, r.pageSize)
	if r.metrics != nil {
		r.metrics.ReplayEventsTotal.Add(float64(n))
		r.metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if err != nil {
		return n, err
	}
	r.logger.Info().
		Int("replayed", n).
		Int64("next_sequence", c.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return n, nil
}

// Replay re-applies stored commands from fromSequence onward, checking
// every resulting state hash against the log.
func Replay(ctx context.Context, c *core.DeterministicCore, src EventSource, fromSequence int64, pageSize int) (int, error) {
	replayed := 0
	for {
		rows, err := src.LoadEventsFrom(ctx, fromSequence, pageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return replayed, nil
		}

		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return replayed, err
			}
			if err := replayRow(c, row); err != nil {
				return replayed, err
			}
			replayed++
			fromSequence = row.Sequence + 1
		}

		if len(rows) < pageSize {
			return replayed, nil
		}
	}
}

func replayRow(c *core.DeterministicCore, row EventRow) error {
	if got := c.GetSequence(); got != row.Sequence {
		return fmt.Errorf("%w: core at sequence %d, log row %d", ErrReplayDiverged, got, row.Sequence)
	}

	evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{EventType: row.EventType, Data: row.Payload}, row.EventType)
	if err != nil {
		return fmt.Errorf("parse stored %s at seq %d: %w", row.EventType, row.Sequence, err)
	}

	err = c.ProcessEvent(evt)
	switch {
	case err == nil:
		if row.Rejected {
			return fmt.Errorf("%w: seq %d was rejected originally but applied on replay", ErrReplayDiverged, row.Sequence)
		}
	case errors.Is(err, core.ErrCommandRejected):
		if !row.Rejected {
			return fmt.Errorf("%w: seq %d rejected on replay: %w", ErrReplayDiverged, row.Sequence, err)
		}
	default:
		return fmt.Errorf("replay seq %d: %w", row.Sequence, err)
	}

	hash := c.GetStateHash()
	if !bytes.Equal(hash[:], row.StateHash) {
		return fmt.Errorf("%w: seq %d hash %s, stored %s",
			ErrReplayDiverged, row.Sequence, hex.EncodeToString(hash[:]), hex.EncodeToString(row.StateHash))
	}
	return nil
}
