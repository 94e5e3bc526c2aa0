// Package metrics defines the Prometheus collectors of the server.
package metrics

import (
	"time"

	"github.com/maruel/secdb/internal/tabledb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for request metrics.
const (
	RequestsTotalKey          = "secdb_requests_total"
	RequestDurationSecondsKey = "secdb_request_duration_seconds"
	AuthFailuresTotalKey      = "secdb_auth_failures_total"
	RateLimitedTotalKey       = "secdb_rate_limited_total"
	SessionsActiveKey         = "secdb_sessions_active"
)

// Keys for storage metrics.
const (
	FlushesTotalKey          = "secdb_flushes_total"
	FlushBytesKey            = "secdb_flush_bytes"
	FlushDurationSecondsKey  = "secdb_flush_duration_seconds"
	CorruptSnapshotsTotalKey = "secdb_corrupt_snapshots_total"
	DatabaseTablesKey        = "secdb_database_tables"
	DatabaseRowsKey          = "secdb_database_rows"
	DatabaseSnapshotBytesKey = "secdb_database_snapshot_bytes"
	HistoryCommitsTotalKey   = "secdb_history_commits_total"
	HistoryCommitFailuresKey = "secdb_history_commit_failures_total"
)

// Collectors for request metrics.
var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RequestsTotalKey,
		Help: "Cumulative number of handled requests.",
	}, []string{"surface", "method", "code"})
	RequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    RequestDurationSecondsKey,
		Help:    "Duration of handled requests.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	}, []string{"surface"})
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: AuthFailuresTotalKey,
		Help: "Cumulative number of rejected credentials.",
	}, []string{"scheme"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: RateLimitedTotalKey,
		Help: "Cumulative number of requests rejected by rate limiting.",
	}, []string{"tier"})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: SessionsActiveKey,
		Help: "Number of sessions seen within the session timeout.",
	})
)

// Collectors for storage metrics.
var (
	FlushesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: FlushesTotalKey,
		Help: "Cumulative number of database flushes.",
	}, []string{"status"})
	FlushBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    FlushBytesKey,
		Help:    "Size of written snapshots.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 10),
	})
	FlushDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    FlushDurationSecondsKey,
		Help:    "Duration of database flushes.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	CorruptSnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: CorruptSnapshotsTotalKey,
		Help: "Cumulative number of corrupt snapshots replaced by an empty database.",
	})
	HistoryCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: HistoryCommitsTotalKey,
		Help: "Cumulative number of commits to the databases history.",
	})
	HistoryCommitFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: HistoryCommitFailuresKey,
		Help: "Cumulative number of failed commits to the databases history.",
	})
)

// Collectors returns every package-level collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RequestsTotal,
		RequestDurationSeconds,
		AuthFailuresTotal,
		RateLimitedTotal,
		SessionsActive,
		FlushesTotal,
		FlushBytes,
		FlushDurationSeconds,
		CorruptSnapshotsTotal,
		HistoryCommitsTotal,
		HistoryCommitFailuresTotal,
	}
}

// StoreObserver records store persistence events.
type StoreObserver struct{}

// Flushed implements tabledb.Observer.
func (StoreObserver) Flushed(db string, size int, elapsed time.Duration, err error) {
	if err != nil {
		FlushesTotal.WithLabelValues("error").Inc()
		return
	}
	FlushesTotal.WithLabelValues("ok").Inc()
	FlushBytes.Observe(float64(size))
	FlushDurationSeconds.Observe(elapsed.Seconds())
}

// Recovered implements tabledb.Observer.
func (StoreObserver) Recovered(db string, err error) {
	CorruptSnapshotsTotal.Inc()
}

var _ tabledb.Observer = StoreObserver{}

var (
	databaseTablesDesc = prometheus.NewDesc(DatabaseTablesKey, "Number of tables of a loaded database.", []string{"db"}, nil)
	databaseRowsDesc   = prometheus.NewDesc(DatabaseRowsKey, "Number of rows of a loaded database.", []string{"db"}, nil)
	databaseBytesDesc  = prometheus.NewDesc(DatabaseSnapshotBytesKey, "Size of the last snapshot of a loaded database.", []string{"db"}, nil)
)

// RegistryCollector reports per database gauges for the databases resident in
// a registry.
type RegistryCollector struct {
	Registry *tabledb.Registry
}

// Describe implements prometheus.Collector.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- databaseTablesDesc
	ch <- databaseRowsDesc
	ch <- databaseBytesDesc
}

// Collect implements prometheus.Collector.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.Registry.Loaded() {
		st := s.Stats()
		ch <- prometheus.MustNewConstMetric(databaseTablesDesc, prometheus.GaugeValue, float64(st.Tables), s.Name())
		ch <- prometheus.MustNewConstMetric(databaseRowsDesc, prometheus.GaugeValue, float64(st.Rows), s.Name())
		ch <- prometheus.MustNewConstMetric(databaseBytesDesc, prometheus.GaugeValue, float64(st.LastSize), s.Name())
	}
}

// NewRegistry returns a Prometheus registry holding the package collectors,
// the Go runtime collectors and the per database gauges of r.
func NewRegistry(r *tabledb.Registry) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Collectors()...)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if r != nil {
		reg.MustRegister(&RegistryCollector{Registry: r})
	}
	return reg
}
