package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the ledger exposes.
// All fields are safe to use from multiple goroutines.
type Metrics struct {
	// Event processing
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge
	CoreLastBlock      *prometheus.GaugeVec
	PeriodSnapshots    prometheus.Counter

	// Channels
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// Ordering and dedup
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	EventOutOfOrder       *prometheus.CounterVec

	// Multicall
	MulticallBatchDuration prometheus.Histogram
	MulticallBatches       *prometheus.CounterVec
	MulticallDecodeErrors  prometheus.Counter

	// Legacy sync
	SyncPoolDuration *prometheus.HistogramVec
	SyncPoolErrors   *prometheus.CounterVec
	SyncLoansTracked *prometheus.GaugeVec

	// Settlement
	EpochsExecuted *prometheus.CounterVec
	PoolNAV        *prometheus.GaugeVec

	// Ingestion
	IngestParseErrors *prometheus.CounterVec
	NATSPullLatency   prometheus.Histogram

	// Persistence
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// Query
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A fresh registry per test keeps
// repeated construction from panicking on duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	applyBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5}
	rpcBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_core_events_applied_total",
			Help: "Events applied by the processor",
		}, []string{"event_type"}),
		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_core_events_rejected_total",
			Help: "Events rejected by the processor",
		}, []string{"event_type", "reason"}),
		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_core_event_apply_duration_seconds",
			Help:    "Time to apply and commit a single event",
			Buckets: applyBuckets,
		}, []string{"event_type"}),
		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_core_state_hash_duration_seconds",
			Help:    "Time to compute the chained state hash",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "pool_core_sequence",
			Help: "Last event-log sequence assigned",
		}),
		CoreLastBlock: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_core_last_block",
			Help: "Last block processed per chain",
		}, []string{"chain_id"}),
		PeriodSnapshots: f.NewCounter(prometheus.CounterOpts{
			Name: "pool_core_period_snapshots_total",
			Help: "Pool snapshots taken at period boundaries",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_size",
			Help: "Buffered items per channel",
		}, []string{"channel"}),
		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_capacity",
			Help: "Capacity per channel",
		}, []string{"channel"}),
		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_channel_utilization_ratio",
			Help: "size/capacity per channel",
		}, []string{"channel"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "pool_publish_drops_total",
			Help: "Outbound records dropped because the publisher was full",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_idempotency_duplicates_total",
			Help: "Duplicate events detected",
		}, []string{"event_type", "tier"}),
		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "pool_dedup_lru_size",
			Help: "Keys held in the in-memory dedup cache",
		}),
		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "pool_dedup_lru_evictions_total",
			Help: "Keys evicted from the in-memory dedup cache",
		}),
		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_event_out_of_order_total",
			Help: "Events whose block runs backwards within a chain",
		}, []string{"chain_id"}),

		MulticallBatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_multicall_batch_duration_seconds",
			Help:    "Round-trip time of one aggregate() call",
			Buckets: rpcBuckets,
		}),
		MulticallBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_multicall_batches_total",
			Help: "Multicall batches by outcome",
		}, []string{"result"}),
		MulticallDecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pool_multicall_decode_errors_total",
			Help: "Per-call return data that failed to decode",
		}),

		SyncPoolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_sync_duration_seconds",
			Help:    "Time to sync one legacy pool at a block",
			Buckets: rpcBuckets,
		}, []string{"pool_id"}),
		SyncPoolErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_sync_errors_total",
			Help: "Legacy pool syncs that failed",
		}, []string{"pool_id"}),
		SyncLoansTracked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_sync_open_loans",
			Help: "Open loans observed in the last sync",
		}, []string{"pool_id"}),

		EpochsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_epochs_executed_total",
			Help: "Epoch executions applied",
		}, []string{"pool_id"}),
		PoolNAV: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pool_nav_normalized",
			Help: "Last normalized NAV per pool, in currency units",
		}, []string{"pool_id"}),

		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_ingest_parse_errors_total",
			Help: "Inbound messages that failed to parse",
		}, []string{"reason"}),
		NATSPullLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_nats_pull_latency_seconds",
			Help:    "Time spent in one JetStream fetch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "pool_persist_events_written_total",
			Help: "Event-log rows written",
		}),
		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_size",
			Help:    "Rows per event-log batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "pool_persist_batch_duration_seconds",
			Help:    "Time to write one event-log batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_persist_errors_total",
			Help: "Event-log write failures",
		}, []string{"error_type"}),
		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "pool_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pool_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pool_query_duration_seconds",
			Help:    "Query API latency",
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
