package ingestion

import (
	"VesselLedger/internal/event"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// OutboundSubjectPrefix is prepended to every outbound subject:
// vessel.ledger.events.{event_type}[.{asset}]
const OutboundSubjectPrefix = "vessel.ledger.events"

// OutboundPublisher publishes persisted envelopes to NATS for downstream
// consumers.
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is a persisted envelope ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Asset          *string         `json:"asset,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Rejected       bool            `json:"rejected,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewPublishableEvent converts an envelope into its outbound form.
func NewPublishableEvent(env *event.EventEnvelope) PublishableEvent {
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.AssetID,
		Payload:        env.Payload,
		Rejected:       env.Rejected,
		RejectReason:   env.RejectReason,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject returns the NATS subject the event is published on.
func (p PublishableEvent) Subject() string {
	subject := fmt.Sprintf("%s.%s", OutboundSubjectPrefix, p.EventType)
	if p.Asset != nil {
		subject = fmt.Sprintf("%s.%s", subject, *p.Asset)
	}
	return subject
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	// The sequence doubles as the JetStream message ID, so envelopes
	// re-flushed during recovery are dropped by the stream's dedup window.
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(strconv.FormatInt(evt.Sequence, 10)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "VESSEL_LEDGER_EVENTS",
		Subjects:   []string{OutboundSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "VESSEL_LEDGER_EVENTS").Msg("ensured outbound stream")
	return nil
}
