package persistence

import (
	"VesselLedger/internal/core"
	"VesselLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotSource captures core state between commands. core.Runner
// implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*core.SnapshotState, error)
}

// Snapshotter periodically saves core snapshots. A snapshot is only marked
// verified once the event log has caught up to its sequence, so recovery
// never starts from a state whose commands were lost.
type Snapshotter struct {
	source   SnapshotSource
	mgr      *SnapshotManager
	interval int64
	tick     time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	lastSeq    int64
	pendingSeq int64 // saved but not yet verified; -1 when none
}

func NewSnapshotter(
	source SnapshotSource,
	mgr *SnapshotManager,
	interval int64,
	tick time.Duration,
	startSeq int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Snapshotter {
	if interval <= 0 {
		interval = 100_000
	}
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return &Snapshotter{
		source:     source,
		mgr:        mgr,
		interval:   interval,
		tick:       tick,
		metrics:    metrics,
		logger:     logger,
		lastSeq:    startSeq,
		pendingSeq: -1,
	}
}

// Run checks every tick whether a snapshot is due.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.verifyPending(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("snapshot verification failed")
			}
			if err := s.maybeTake(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("periodic snapshot failed")
			}
		}
	}
}

func (s *Snapshotter) maybeTake(ctx context.Context) error {
	if s.pendingSeq >= 0 {
		return nil
	}
	start := time.Now()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return err
	}
	if snap.Sequence < 0 || snap.Sequence-s.lastSeq < s.interval {
		return nil
	}

	size, err := s.mgr.SaveSnapshot(ctx, NewSnapshotData(snap))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.lastSeq = snap.Sequence
	s.pendingSeq = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
	}
	s.logger.Info().Int64("sequence", snap.Sequence).Int("bytes", size).Msg("snapshot saved")

	return s.verifyPending(ctx)
}

func (s *Snapshotter) verifyPending(ctx context.Context) error {
	if s.pendingSeq < 0 {
		return nil
	}
	persisted, err := s.mgr.GetLatestSequence(ctx)
	if err != nil {
		return err
	}
	if persisted < s.pendingSeq {
		return nil
	}
	if err := s.mgr.MarkVerified(ctx, s.pendingSeq); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SnapshotLastSeq.Set(float64(s.pendingSeq))
	}
	s.logger.Info().Int64("sequence", s.pendingSeq).Msg("snapshot verified")
	s.pendingSeq = -1
	return nil
}
