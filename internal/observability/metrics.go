package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VesselLedger.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec
	OracleSequenceGap     *prometheus.CounterVec

	// --- Vessels & pools ---
	ActiveVessels         *prometheus.GaugeVec
	StabilityPoolDeposits *prometheus.GaugeVec
	TotalCollateralRatio  *prometheus.GaugeVec
	RecoveryMode          *prometheus.GaugeVec
	VesselsLiquidated     *prometheus.CounterVec
	Redemptions           *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in the binary and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_core_events_applied_total",
			Help: "Commands applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_core_events_rejected_total",
			Help: "Commands rejected (business rule, gap, out of order)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vessel_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_core_sequence",
			Help: "Current global sequence number",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vessel_ingest_to_apply_seconds",
			Help:    "NATS receive to hand-off on the core input channel",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_apply_to_persist_seconds",
			Help:    "Persist worker receive to Postgres commit, per batch",
			Buckets: latencyBuckets,
		}),

		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vessel_nats_pull_latency_seconds",
			Help:    "JetStream store time to consumer delivery",
			Buckets: ingestBuckets,
		}, []string{"subject"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vessel_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_publish_drops_total",
			Help: "Envelopes dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed and fell through",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		OracleSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_oracle_sequence_skipped_total",
			Help: "Price sequences skipped by the oracle feed",
		}, []string{"asset"}),

		// Vessels & pools
		ActiveVessels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_active_vessels",
			Help: "Active vessels per collateral asset",
		}, []string{"asset"}),

		StabilityPoolDeposits: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_stability_pool_deposits",
			Help: "Total Stability Pool deposits in debt tokens",
		}, []string{"asset"}),

		TotalCollateralRatio: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_total_collateral_ratio",
			Help: "System collateral ratio (1.0 = 100%)",
		}, []string{"asset"}),

		RecoveryMode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vessel_recovery_mode",
			Help: "1 while the asset's TCR is below CCR",
		}, []string{"asset"}),

		VesselsLiquidated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_liquidations_total",
			Help: "Vessels liquidated",
		}, []string{"asset", "mode"}),

		Redemptions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_redemptions_total",
			Help: "Redemptions applied",
		}, []string{"asset"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_persist_batch_size",
			Help:    "Envelopes per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vessel_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vessel_replay_events_total",
			Help: "Envelopes replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "vessel_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vessel_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vessel_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
