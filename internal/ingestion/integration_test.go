package ingestion_test

import (
	"VesselLedger/internal/event"
	"VesselLedger/internal/ingestion"
	fpmath "VesselLedger/internal/math"
	"VesselLedger/internal/testutil"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func connectTestNATS(t *testing.T) jetstream.JetStream {
	t.Helper()
	testutil.RequireIntegration(t)
	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test NATS not available: %v", err)
	}
	t.Cleanup(nc.Close)
	return js
}

func purge(t *testing.T, ctx context.Context, js jetstream.JetStream, name string) {
	t.Helper()
	stream, err := js.Stream(ctx, name)
	require.NoError(t, err)
	require.NoError(t, stream.Purge(ctx))
}

func TestNATS_CommandRoundTrip(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, ingestion.EnsureStreams(ctx, js, zerolog.Nop()))
	purge(t, ctx, js, "VESSEL_WALLET")
	if err := js.DeleteConsumer(ctx, "VESSEL_WALLET", "it-wallet-deposit"); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
		require.NoError(t, err)
	}

	sent := &event.DepositConfirmed{
		Header: event.Header{RequestID: uuid.New(), Sequence: 0, Timestamp: time.UnixMicro(1700000000000000)},
		UserID: uuid.New(), Token: "WETH", Amount: fpmath.Units(3),
	}
	data, err := ingestion.EncodeEvent(sent)
	require.NoError(t, err)
	_, err = js.Publish(ctx, "vessel.wallet.deposit.WETH", data)
	require.NoError(t, err)

	rawChan := make(chan ingestion.RawEvent, 1)
	sub := ingestion.NewNATSSubscriber(js, rawChan, nil, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject: "vessel.wallet.deposit.>", EventType: "DepositConfirmed",
		ConsumerName: "it-wallet-deposit", StreamName: "VESSEL_WALLET",
	}}))
	defer sub.Stop()

	select {
	case raw := <-rawChan:
		evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
		require.NoError(t, err)
		got := evt.(*event.DepositConfirmed)
		require.Equal(t, sent.Header, got.Header)
		require.True(t, got.Amount.Eq(&sent.Amount))
		raw.AckFunc()
	case <-ctx.Done():
		t.Fatal("command not delivered")
	}
}

func TestNATS_PublisherDeduplicatesBySequence(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, ingestion.EnsureOutboundStream(ctx, js, zerolog.Nop()))
	purge(t, ctx, js, "VESSEL_LEDGER_EVENTS")

	asset := "WETH"
	evt := ingestion.PublishableEvent{Sequence: 41, EventType: "PriceUpdate", Asset: &asset, StateHash: "00", Timestamp: time.Now()}
	in := make(chan ingestion.PublishableEvent, 2)
	in <- evt
	in <- evt
	close(in)
	require.NoError(t, ingestion.NewOutboundPublisher(js, in, zerolog.Nop()).Run(ctx))

	stream, err := js.Stream(ctx, "VESSEL_LEDGER_EVENTS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.State.Msgs)
}
