package ingestion

import (
	"VesselLedger/internal/event"
	"VesselLedger/internal/observability"
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Dispatch parses raw commands and forwards them to the core's input
// channel. A message is acked once the core's channel has taken it, not
// after processing, so a slow core never trips AckWait and a full channel
// pushes back on NATS. Unparseable messages are acked and dropped; a
// redelivery would fail the same way.
func Dispatch(ctx context.Context, in <-chan RawEvent, out chan<- event.Event, metrics *observability.Metrics, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			evt, err := ParseRawEvent(raw, raw.EventType)
			if err != nil {
				logger.Warn().Err(err).
					Str("subject", raw.Subject).
					Str("event_type", raw.EventType).
					Msg("dropping unparseable command")
				ack(raw)
				continue
			}

			select {
			case out <- evt:
				ack(raw)
				if metrics != nil && !raw.Timestamp.IsZero() {
					metrics.IngestToApply.WithLabelValues(raw.EventType).Observe(time.Since(raw.Timestamp).Seconds())
				}
			case <-ctx.Done():
				if raw.NakFunc != nil {
					raw.NakFunc()
				}
				return
			}
		}
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
