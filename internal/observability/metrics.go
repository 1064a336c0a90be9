package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for RaffleLedger.
type Metrics struct {
	// --- Engine ---
	CommandsApplied   *prometheus.CounterVec
	CommandsRejected  *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	EventsEmitted     *prometheus.CounterVec
	CoreJournals      *prometheus.CounterVec
	ResponsesRejected *prometheus.CounterVec
	NativeFallbacks   prometheus.Counter
	DrawLatency       prometheus.Histogram
	RafflesLoaded     prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupTier2Errors      prometheus.Counter

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	IngestLatency  *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	RegistrationFailures   prometheus.Counter
	SnapshotsRestored      prometheus.Counter

	// --- Projections & Query API ---
	ProjectionUpdateDur *prometheus.HistogramVec
	QueryRequests       *prometheus.CounterVec
	QueryDuration       *prometheus.HistogramVec
	QueryErrors         *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01, 0.05, 0.1,
	}

	return &Metrics{
		// Engine
		CommandsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_commands_applied_total",
			Help: "Commands successfully applied by a raffle engine",
		}, []string{"command"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_commands_rejected_total",
			Help: "Commands rejected without mutation",
		}, []string{"command", "kind"}),

		CommandDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_command_duration_seconds",
			Help:    "Time to apply a single command, including external calls",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_events_emitted_total",
			Help: "Events appended to raffle event logs",
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		ResponsesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_oracle_responses_rejected_total",
			Help: "Randomness responses ignored (unauthorized, stale, provider mismatch, reentrant)",
		}, []string{"reason"}),

		NativeFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_native_push_fallbacks_total",
			Help: "Native push payments credited as claimable after the recipient refused them",
		}),

		DrawLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_draw_latency_seconds",
			Help:    "Time from randomness request to accepted response",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 86400},
		}),

		RafflesLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_instances_loaded",
			Help: "Raffle instances hosted by this process",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raffle_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raffle_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "raffle_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_publish_drops_total",
			Help: "Events that failed to publish to NATS",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_persist_backpressure_total",
			Help: "Times an engine blocked on the persist channel",
		}),

		// Idempotency
		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_idempotency_duplicates_total",
			Help: "Duplicate commands caught (lru/postgres)",
		}, []string{"command", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "raffle_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupTier2Errors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		// Ingestion
		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_ingest_messages_total",
			Help: "Inbound NATS commands by disposition",
		}, []string{"command", "outcome"}),

		IngestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_ingest_latency_seconds",
			Help:    "NATS receive to engine result",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "raffle_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_persist_retry_total",
			Help: "Persistence retries",
		}),

		RegistrationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_directory_registration_failures_total",
			Help: "Directory registrations recorded for out-of-band remediation",
		}),

		SnapshotsRestored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "raffle_snapshots_restored_total",
			Help: "Raffle instances restored from Postgres on startup",
		}),

		// Projections & Query API
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "raffle_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "raffle_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
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
