/*
Package metrics exports statdash runtime metrics to Prometheus.

Architecture

	┌─────────────┐
	│  Collector  │  ← private registry, served by Handler()
	└──────┬──────┘
	       │
	   ┌───┴──────────────────────────────┐
	   │                                  │
	┌──▼─────────────┐        ┌───────────▼──────────┐
	│ CacheCollector │        │ Instrumentation      │
	│ Stats() on     │        │ - source load times  │
	│ every scrape   │        │ - HTTP requests      │
	└────────────────┘        └──────────────────────┘

# Cache metrics

CacheCollector reads cache.Manager statistics at scrape time, so there is no
update loop and nothing to keep in sync. Counters keep counting across
cache clears, matching the manager:

	statdash_cache_memory_hits_total
	statdash_cache_disk_hits_total
	statdash_cache_misses_total
	statdash_cache_preloads_total
	statdash_cache_preload_failures_total
	statdash_cache_preloads_dropped_total
	statdash_cache_evictions_total
	statdash_cache_disk_errors_total
	statdash_cache_hit_rate
	statdash_cache_memory_entries
	statdash_cache_memory_capacity

# Instrumentation

Wrap the source loader once, before handing it to the cache:

	collector, err := metrics.NewCollector(metrics.Config{Enabled: true}, manager)
	loader := collector.InstrumentLoader(source.Loader(store, retryCfg, logger))

Loads are recorded in statdash_source_load_duration_seconds with a result
label of ok, empty, not_found or error. The API server calls RecordRequest
for each request it serves.

A disabled Collector is safe to use: InstrumentLoader returns the loader
unchanged and Handler answers 404.
*/
package metrics
