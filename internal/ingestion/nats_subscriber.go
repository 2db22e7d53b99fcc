package ingestion

import (
	"VesselLedger/internal/observability"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// commands to the ingestion loop, which parses them for the core.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is an untyped command from NATS. The ingestion loop converts it
// into a typed event.Event before sending it to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the core has accepted the command
	NakFunc   func() // NAK on failure (will be redelivered)
}

// SubjectConfig maps a NATS subject to a command type.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the inbound subject layout. Vessel, Stability
// Pool, liquidation and redemption commands share the per-asset stream so
// their relative order survives; the trailing token is the asset.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "vessel.wallet.deposit.>", EventType: "DepositConfirmed", ConsumerName: "ledger-wallet-deposit", StreamName: "VESSEL_WALLET"},
		{Subject: "vessel.wallet.withdraw.>", EventType: "WithdrawalRequested", ConsumerName: "ledger-wallet-withdraw", StreamName: "VESSEL_WALLET"},
		{Subject: "vessel.wallet.transfer.>", EventType: "TokenTransfer", ConsumerName: "ledger-wallet-transfer", StreamName: "VESSEL_WALLET"},
		{Subject: "vessel.prices.>", EventType: "PriceUpdate", ConsumerName: "ledger-prices", StreamName: "VESSEL_PRICES"},
		{Subject: "vessel.params.>", EventType: "CollateralParamUpdate", ConsumerName: "ledger-params", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.open.>", EventType: "OpenVessel", ConsumerName: "ledger-open", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.adjust.>", EventType: "AdjustVessel", ConsumerName: "ledger-adjust", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.close.>", EventType: "CloseVessel", ConsumerName: "ledger-close", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.claim.>", EventType: "ClaimCollateral", ConsumerName: "ledger-claim", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.liquidate.single.>", EventType: "Liquidate", ConsumerName: "ledger-liquidate", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.liquidate.batch.>", EventType: "LiquidateVessels", ConsumerName: "ledger-liquidate-batch", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.redeem.>", EventType: "RedeemCollateral", ConsumerName: "ledger-redeem", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.sp.provide.>", EventType: "ProvideToSP", ConsumerName: "ledger-sp-provide", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.sp.withdraw.>", EventType: "WithdrawFromSP", ConsumerName: "ledger-sp-withdraw", StreamName: "VESSEL_COMMANDS"},
		{Subject: "vessel.sp.rewards.>", EventType: "RewardIssuance", ConsumerName: "ledger-sp-rewards", StreamName: "VESSEL_COMMANDS"},
	}
}

// DefaultStreams lists the inbound JetStream streams.
func DefaultStreams() []jetstream.StreamConfig {
	stream := func(name string, subjects ...string) jetstream.StreamConfig {
		return jetstream.StreamConfig{
			Name:      name,
			Subjects:  subjects,
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}
	}
	return []jetstream.StreamConfig{
		stream("VESSEL_WALLET", "vessel.wallet.>"),
		stream("VESSEL_PRICES", "vessel.prices.>"),
		stream("VESSEL_COMMANDS",
			"vessel.params.>", "vessel.open.>", "vessel.adjust.>", "vessel.close.>",
			"vessel.claim.>", "vessel.liquidate.>", "vessel.redeem.>", "vessel.sp.>"),
	}
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		eventType := cfg.EventType
		subject := cfg.Subject
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			if ns.metrics != nil {
				if meta, err := msg.Metadata(); err == nil {
					ns.metrics.NATSPullLatency.WithLabelValues(subject).Observe(time.Since(meta.Timestamp).Seconds())
				}
			}
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: eventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().
			Str("subject", cfg.Subject).
			Str("consumer", cfg.ConsumerName).
			Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, cfg := range DefaultStreams() {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vesselledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
