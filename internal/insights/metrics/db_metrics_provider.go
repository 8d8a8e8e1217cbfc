package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

var dbOpenConnectionsDesc = prometheus.NewDesc(
	MetricPrefix+"db_open_connections",
	"Number of open connections to database",
	nil,
	nil,
)

var dbOpenConnectionsUtilizationDesc = prometheus.NewDesc(
	MetricPrefix+"db_open_connections_utilization",
	"Percentage of connections used over total allowed connections to database",
	nil,
	nil,
)

type DbMetricsProvider interface {
	GetOpenConnections() int
	GetOpenConnectionsUtilization() float64
}

type PgxPoolMetricsProvider struct {
	db *pgxpool.Pool
}

func NewPgxPoolMetricsProvider(db *pgxpool.Pool) *PgxPoolMetricsProvider {
	return &PgxPoolMetricsProvider{db: db}
}

func (provider *PgxPoolMetricsProvider) GetOpenConnections() int {
	return int(provider.db.Stat().TotalConns())
}

func (provider *PgxPoolMetricsProvider) GetOpenConnectionsUtilization() float64 {
	stat := provider.db.Stat()
	if stat.MaxConns() <= 0 {
		return float64(stat.TotalConns())
	}
	return float64(stat.AcquiredConns()) / float64(stat.MaxConns())
}

// DbCollector exposes connection pool usage.
type DbCollector struct {
	provider DbMetricsProvider
}

func NewDbCollector(provider DbMetricsProvider) *DbCollector {
	return &DbCollector{provider: provider}
}

func (c *DbCollector) Describe(desc chan<- *prometheus.Desc) {
	desc <- dbOpenConnectionsDesc
	desc <- dbOpenConnectionsUtilizationDesc
}

func (c *DbCollector) Collect(metrics chan<- prometheus.Metric) {
	metrics <- prometheus.MustNewConstMetric(
		dbOpenConnectionsDesc,
		prometheus.GaugeValue,
		float64(c.provider.GetOpenConnections()),
	)
	metrics <- prometheus.MustNewConstMetric(
		dbOpenConnectionsUtilizationDesc,
		prometheus.GaugeValue,
		c.provider.GetOpenConnectionsUtilization(),
	)
}
