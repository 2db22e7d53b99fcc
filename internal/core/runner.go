package core

import (
	"VesselLedger/internal/event"
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Runner owns the core on a single goroutine. Commands arrive on a
// channel; queries and snapshots run as closures between two commands, so
// they always observe a consistent state.
type Runner struct {
	core   *DeterministicCore
	events <-chan event.Event
	reads  chan readRequest
	logger zerolog.Logger
}

type readRequest struct {
	fn   func(*DeterministicCore)
	done chan struct{}
}

func NewRunner(core *DeterministicCore, events <-chan event.Event, logger zerolog.Logger) *Runner {
	return &Runner{
		core:   core,
		events: events,
		reads:  make(chan readRequest),
		logger: logger,
	}
}

// Run processes commands until ctx is cancelled or the event channel is
// closed. Processing errors are logged; they never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-r.reads:
			req.fn(r.core)
			close(req.done)
		case evt, ok := <-r.events:
			if !ok {
				return nil
			}
			r.process(evt)
		}
	}
}

func (r *Runner) process(evt event.Event) {
	err := r.core.ProcessEvent(evt)
	if err == nil {
		return
	}
	log := r.logger.With().
		Str("event_type", evt.EventType().String()).
		Str("idempotency_key", evt.IdempotencyKey()).
		Int64("source_seq", evt.SourceSequence()).
		Logger()

	switch {
	case errors.Is(err, ErrCommandRejected):
		log.Info().Err(err).Msg("command rejected")
	case errors.Is(err, ErrSequenceGap), errors.Is(err, ErrOutOfOrder):
		log.Warn().Err(err).Msg("command out of sequence")
	default:
		log.Error().Err(err).Msg("command processing failed")
	}
}

// Read runs fn on the core goroutine and waits for it to finish. fn must
// not retain references to core state after it returns.
func (r *Runner) Read(ctx context.Context, fn func(*DeterministicCore)) error {
	req := readRequest{fn: fn, done: make(chan struct{})}
	select {
	case r.reads <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot captures the core's state between two commands.
func (r *Runner) Snapshot(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := r.Read(ctx, func(c *DeterministicCore) {
		snap = c.CreateSnapshotState()
	}); err != nil {
		return nil, err
	}
	return snap, nil
}
