package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statdash/statdash/internal/cache"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "statdash"

// Load results recorded by InstrumentLoader.
const (
	ResultOK       = "ok"
	ResultEmpty    = "empty"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// StatsSource is anything that can report cache statistics.
type StatsSource interface {
	Stats() cache.Statistics
}

// Collector owns a private registry holding the cache statistics plus
// source-load and HTTP request instrumentation. A disabled collector
// accepts every call and records nothing.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	loadDuration    *prometheus.HistogramVec
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewCollector registers the cache collector for stats and the
// instrumentation metrics.
func NewCollector(config Config, stats StatsSource) (*Collector, error) {
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	c := &Collector{config: config}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.loadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "source",
			Name:      "load_duration_seconds",
			Help:      "Duration of indicator loads from the source, by result",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"result"},
	)
	c.requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route and status code",
		},
		[]string{"route", "code"},
	)
	c.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	collectors := []prometheus.Collector{
		c.loadDuration,
		c.requestCounter,
		c.requestDuration,
	}
	if stats != nil {
		collectors = append(collectors, NewCacheCollector(config.Namespace, stats))
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to register metrics").
				WithComponent("metrics")
		}
	}
	return c, nil
}

// Enabled reports whether metrics are being recorded.
func (c *Collector) Enabled() bool {
	return c.registry != nil
}

// Registry returns the private registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// InstrumentLoader times every call to loader.
func (c *Collector) InstrumentLoader(loader cache.LoaderFunc) cache.LoaderFunc {
	if !c.Enabled() {
		return loader
	}
	return func(ctx context.Context, key string) (*dataset.Table, error) {
		start := time.Now()
		table, err := loader(ctx, key)
		c.loadDuration.WithLabelValues(loadResult(table, err)).Observe(time.Since(start).Seconds())
		return table, err
	}
}

// RecordRequest counts one served HTTP request.
func (c *Collector) RecordRequest(route string, status int, duration time.Duration) {
	if !c.Enabled() {
		return
	}
	c.requestCounter.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func loadResult(table *dataset.Table, err error) string {
	switch {
	case errors.HasCode(err, errors.ErrCodeSourceNotFound):
		return ResultNotFound
	case err != nil:
		return ResultError
	case table.Empty():
		return ResultEmpty
	default:
		return ResultOK
	}
}
