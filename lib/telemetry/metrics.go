// Package telemetry holds the Prometheus metrics of both engines and the sink gateway.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	FeedPolls          *prometheus.CounterVec
	EntriesDispatched  *prometheus.CounterVec
	Deliveries         *prometheus.CounterVec
	StreamEvents       *prometheus.CounterVec
	StreamReconciles   prometheus.Counter
	DedupCompactedRows prometheus.Counter

	// Histograms (seconds)
	PollCycleDuration prometheus.Observer
	DeliveryDuration  prometheus.Observer

	// Gauges
	DispatchQueueDepth prometheus.Gauge
	StreamFollowed     prometheus.Gauge
	StreamConnected    prometheus.Gauge // 1=connected,0=idle
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		FeedPolls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedrelay_feed_polls_total", Help: "Feed fetch attempts by result"}, []string{"result"})
		EntriesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedrelay_entries_dispatched_total", Help: "Entries handed to the dispatcher by source kind"}, []string{"source_kind"})
		Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedrelay_deliveries_total", Help: "Sink deliveries by platform and outcome"}, []string{"platform", "outcome"})
		StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "feedrelay_stream_events_total", Help: "Inbound stream events by disposition"}, []string{"disposition"})
		StreamReconciles = promauto.NewCounter(prometheus.CounterOpts{Name: "feedrelay_stream_reconciles_total", Help: "Upstream stream reconciliations started"})
		DedupCompactedRows = promauto.NewCounter(prometheus.CounterOpts{Name: "feedrelay_dedup_compacted_rows_total", Help: "Dedup ledger rows removed by compaction"})
		PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "feedrelay_poll_cycle_duration_seconds", Help: "Duration of one pass over all feeds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "feedrelay_delivery_duration_seconds", Help: "Duration of one delivery including retries", Buckets: prometheus.DefBuckets})
		DispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedrelay_dispatch_queue_depth", Help: "Deliveries waiting in dispatch queues"})
		StreamFollowed = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedrelay_stream_followed", Help: "Accounts in the active upstream filter"})
		StreamConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "feedrelay_stream_connected", Help: "Upstream stream connected=1 idle=0"})
	})
}

func CountPoll(result string) {
	Init()
	FeedPolls.WithLabelValues(result).Inc()
}

func CountDispatched(sourceKind string) {
	Init()
	EntriesDispatched.WithLabelValues(sourceKind).Inc()
}

func CountDelivery(platform, outcome string, elapsed time.Duration) {
	Init()
	Deliveries.WithLabelValues(platform, outcome).Inc()
	DeliveryDuration.Observe(elapsed.Seconds())
}

func CountStreamEvent(disposition string) {
	Init()
	StreamEvents.WithLabelValues(disposition).Inc()
}

func CountReconcile(followed int) {
	Init()
	StreamReconciles.Inc()
	StreamFollowed.Set(float64(followed))
}

// SetStreamConnected records whether an upstream stream is open.
func SetStreamConnected(connected bool) {
	Init()
	if connected {
		StreamConnected.Set(1)
	} else {
		StreamConnected.Set(0)
	}
}

func AddQueueDepth(delta int) {
	Init()
	DispatchQueueDepth.Add(float64(delta))
}

func AddCompacted(n int64) {
	Init()
	DedupCompactedRows.Add(float64(n))
}

// TimePollCycle runs fn and records its duration as one poll cycle.
func TimePollCycle(fn func()) time.Duration {
	Init()
	start := time.Now()
	fn()
	d := time.Since(start)
	PollCycleDuration.Observe(d.Seconds())
	return d
}
