package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats provides the collector access to dispatcher queue state.
type PoolStats interface {
	PendingJobs() int
	ActiveJobs() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	stats PoolStats

	pendingJobs     *prometheus.Desc
	activeJobs      *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector reads live state at scrape time. Either source may be nil.
func NewCollector(pool *pgxpool.Pool, stats PoolStats) *Collector {
	return &Collector{
		pool:  pool,
		stats: stats,
		pendingJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker_pool", "pending_jobs"),
			"Jobs waiting in the dispatcher queue.",
			nil, nil,
		),
		activeJobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "worker_pool", "active_jobs"),
			"Worker processes currently running.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

// Describe and Collect cover only the sources the process has, so the
// dispatcher exports no db_pool series and the server no worker_pool series.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	if c.stats != nil {
		ch <- c.pendingJobs
		ch <- c.activeJobs
	}
	if c.pool != nil {
		ch <- c.dbTotalConns
		ch <- c.dbAcquiredConns
		ch <- c.dbIdleConns
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	if c.stats != nil {
		gauge(c.pendingJobs, float64(c.stats.PendingJobs()))
		gauge(c.activeJobs, float64(c.stats.ActiveJobs()))
	}
	if c.pool != nil {
		stat := c.pool.Stat()
		gauge(c.dbTotalConns, float64(stat.TotalConns()))
		gauge(c.dbAcquiredConns, float64(stat.AcquiredConns()))
		gauge(c.dbIdleConns, float64(stat.IdleConns()))
	}
}
