package persistence

import (
	"VesselLedger/internal/event"
	"VesselLedger/internal/ingestion"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes envelopes to event_log.events using multi-row
// INSERT inside the caller's transaction.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Asset          *string
	Payload        []byte // JSON-encoded command, parseable by ingestion.ParseRawEvent
	Rejected       bool
	RejectReason   string
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

const eventColumns = 11

// NewEventRow flattens an envelope into its stored form.
func NewEventRow(env *event.EventEnvelope) EventRow {
	stateHash := env.StateHash
	prevHash := env.PrevHash
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Asset:          env.AssetID,
		Payload:        env.Payload,
		Rejected:       env.Rejected,
		RejectReason:   env.RejectReason,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// buildEventInsert renders the statement and arguments for one batch.
func buildEventInsert(events []EventRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, asset, payload, rejected, reject_reason,
		 state_hash, prev_hash, timestamp, source_sequence)
		VALUES `)

	args := make([]interface{}, 0, len(events)*eventColumns)
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := 1; c <= eventColumns; c++ {
			if c > 1 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*eventColumns+c)
		}
		b.WriteByte(')')

		payload := e.Payload
		if payload == nil {
			payload = []byte("{}")
		}
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Asset, payload, e.Rejected, e.RejectReason,
			e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	b.WriteString(" ON CONFLICT DO NOTHING")
	return b.String(), args
}

// WriteEventBatch writes a batch of envelopes within tx. Re-writing an
// already stored sequence or idempotency key is a no-op.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d events: %w", len(events), err)
	}
	return nil
}

// Publishable converts a committed row into its outbound form.
func (e EventRow) Publishable() ingestion.PublishableEvent {
	return ingestion.PublishableEvent{
		Sequence:       e.Sequence,
		EventType:      e.EventType,
		IdempotencyKey: e.IdempotencyKey,
		Asset:          e.Asset,
		Payload:        e.Payload,
		Rejected:       e.Rejected,
		RejectReason:   e.RejectReason,
		StateHash:      hex.EncodeToString(e.StateHash),
		Timestamp:      e.Timestamp,
	}
}
