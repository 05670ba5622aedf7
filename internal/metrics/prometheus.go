package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromExporter mirrors emitted metrics into a Prometheus registry.
type PromExporter struct {
	registry      *prometheus.Registry
	refreshes     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchBytes    prometheus.Gauge
	rows          prometheus.Gauge
	skipped       prometheus.Gauge
	dropped       prometheus.Gauge
	issues        prometheus.Gauge
	unsubscribe   func()
}

// NewPromExporter builds a private registry and subscribes it to EmitMetric.
func NewPromExporter() *PromExporter {
	p := &PromExporter{
		registry: prometheus.NewRegistry(),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturefeed_refresh_total",
			Help: "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fixturefeed_cache_lookups_total",
			Help: "Cache reads by result.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fixturefeed_fetch_duration_seconds",
			Help:    "Time spent downloading the feed.",
			Buckets: prometheus.DefBuckets,
		}),
		fetchBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixturefeed_fetch_bytes",
			Help: "Size of the last downloaded feed.",
		}),
		rows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixturefeed_rows",
			Help: "Rows in the current normalized table.",
		}),
		skipped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixturefeed_skipped_lines",
			Help: "Malformed lines dropped in the last refresh.",
		}),
		dropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixturefeed_dropped_rows",
			Help: "Rows without a fixture dropped in the last refresh.",
		}),
		issues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fixturefeed_coercion_issues",
			Help: "Cells nulled during normalization in the last refresh.",
		}),
	}

	p.registry.MustRegister(
		p.refreshes, p.cacheLookups, p.fetchDuration, p.fetchBytes,
		p.rows, p.skipped, p.dropped, p.issues,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	p.unsubscribe = Subscribe(p.observe)
	return p
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromExporter) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (p *PromExporter) Registry() *prometheus.Registry {
	return p.registry
}

// Close stops mirroring metrics.
func (p *PromExporter) Close() {
	p.unsubscribe()
}

func (p *PromExporter) observe(m Metric) {
	value, ok := m.Float()
	if !ok {
		return
	}
	switch m.Name {
	case MetricRefresh:
		outcome, _ := m.Fields["outcome"].(string)
		if outcome == "" {
			outcome = "unknown"
		}
		p.refreshes.WithLabelValues(outcome).Add(value)
	case MetricCacheLookup:
		result, _ := m.Fields["result"].(string)
		if result == "" {
			result = "unknown"
		}
		p.cacheLookups.WithLabelValues(result).Add(value)
	case MetricFetchDuration:
		p.fetchDuration.Observe(value / 1000)
	case MetricFetchBytes:
		p.fetchBytes.Set(value)
	case MetricRows:
		p.rows.Set(value)
	case MetricSkippedLines:
		p.skipped.Set(value)
	case MetricDroppedRows:
		p.dropped.Set(value)
	case MetricIssues:
		p.issues.Set(value)
	}
}
