package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the ingest and consume paths.
type PipelineMetrics struct {
	IngestedTotal         *prometheus.CounterVec
	PublishedTotal        *prometheus.CounterVec
	ConsumedTotal         *prometheus.CounterVec
	DeadLettersTotal      prometheus.Counter
	MalformedRecordsTotal *prometheus.CounterVec
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	BrokerConnectAttempts prometheus.Counter
	BrokerReady           prometheus.Gauge
}

// NewPipelineMetrics creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		IngestedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of records handled by the ingestion service by status.",
		}, []string{"status"}), // status: saved, error_validation, error_storage
		PublishedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "broker",
			Name:      "published_total",
			Help:      "Total number of log messages handed to the broker by status.",
		}, []string{"status"}), // status: accepted, rejected
		ConsumedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Total number of consumed messages by terminal state.",
		}, []string{"outcome"}), // outcome: acked, requeued, discarded_poison, discarded_storage
		DeadLettersTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "consumer",
			Name:      "dead_letters_total",
			Help:      "Total number of messages written to the dead-letter log.",
		}),
		MalformedRecordsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "storage",
			Name:      "malformed_records_total",
			Help:      "Total number of stored records skipped because their metadata could not be decoded.",
		}, []string{"backend"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of partition query cache hits.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of partition query cache misses.",
		}),
		BrokerConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logvault",
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Total number of broker connection attempts.",
		}),
		BrokerReady: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "logvault",
			Subsystem: "broker",
			Name:      "ready",
			Help:      "Indicates if the broker channel is open (1 for ready, 0 otherwise).",
		}),
	}
}
