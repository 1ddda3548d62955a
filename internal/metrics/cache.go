package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheCollector exports a StatsSource snapshot on every scrape.
type CacheCollector struct {
	stats StatsSource

	memoryHits      *prometheus.Desc
	diskHits        *prometheus.Desc
	misses          *prometheus.Desc
	preloads        *prometheus.Desc
	preloadFailures *prometheus.Desc
	preloadsDropped *prometheus.Desc
	evictions       *prometheus.Desc
	diskErrors      *prometheus.Desc
	hitRate         *prometheus.Desc
	memoryEntries   *prometheus.Desc
	memoryCapacity  *prometheus.Desc
}

// NewCacheCollector describes the cache metrics under namespace.
func NewCacheCollector(namespace string, stats StatsSource) *CacheCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &CacheCollector{
		stats:           stats,
		memoryHits:      desc("memory_hits_total", "Lookups answered by the memory tier"),
		diskHits:        desc("disk_hits_total", "Lookups answered by the disk tier"),
		misses:          desc("misses_total", "Lookups answered by neither tier"),
		preloads:        desc("preloads_total", "Keys stored by background preloading"),
		preloadFailures: desc("preload_failures_total", "Preload keys whose load failed"),
		preloadsDropped: desc("preloads_dropped_total", "Preload jobs rejected because the queue was full"),
		evictions:       desc("evictions_total", "Entries evicted from the memory tier"),
		diskErrors:      desc("disk_errors_total", "Disk tier reads or writes that failed"),
		hitRate:         desc("hit_rate", "Fraction of lookups answered by either tier"),
		memoryEntries:   desc("memory_entries", "Entries held in the memory tier"),
		memoryCapacity:  desc("memory_capacity", "Maximum entries of the memory tier"),
	}
}

// Describe implements prometheus.Collector.
func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.memoryHits
	ch <- c.diskHits
	ch <- c.misses
	ch <- c.preloads
	ch <- c.preloadFailures
	ch <- c.preloadsDropped
	ch <- c.evictions
	ch <- c.diskErrors
	ch <- c.hitRate
	ch <- c.memoryEntries
	ch <- c.memoryCapacity
}

// Collect implements prometheus.Collector.
func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Stats()

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.memoryHits, s.MemoryHits)
	counter(c.diskHits, s.DiskHits)
	counter(c.misses, s.Misses)
	counter(c.preloads, s.Preloads)
	counter(c.preloadFailures, s.PreloadFailures)
	counter(c.preloadsDropped, s.PreloadsDropped)
	counter(c.evictions, s.Evictions)
	counter(c.diskErrors, s.DiskErrors)
	gauge(c.hitRate, s.HitRate())
	gauge(c.memoryEntries, float64(s.MemoryEntries))
	gauge(c.memoryCapacity, float64(s.MemoryCapacity))
}
