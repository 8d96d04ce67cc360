package metrics

import "github.com/prometheus/client_golang/prometheus"

// DBPoolStatFunc reports connection counts of the postgres store backend
// without this package importing pgxpool.
type DBPoolStatFunc func() (total, idle, acquired int32)

// poolCollector reads the pool on every scrape, so the gauges never go stale.
type poolCollector struct {
	stats DBPoolStatFunc
	descs [3]*prometheus.Desc // total, idle, acquired
}

// NewDBPoolCollector exposes the store's connection pool as gauges.
func NewDBPoolCollector(stats DBPoolStatFunc) prometheus.Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("famledger_db_pool_"+name, help, nil, nil)
	}
	return &poolCollector{
		stats: stats,
		descs: [3]*prometheus.Desc{
			desc("total_conns", "Connections currently held by the store pool."),
			desc("idle_conns", "Idle connections in the store pool."),
			desc("acquired_conns", "Connections checked out of the store pool."),
		},
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	total, idle, acquired := c.stats()
	for i, v := range [3]int32{total, idle, acquired} {
		ch <- prometheus.MustNewConstMetric(c.descs[i], prometheus.GaugeValue, float64(v))
	}
}
