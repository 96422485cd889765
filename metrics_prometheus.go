package veo

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics wraps Metrics as a prometheus.Collector, so operators
// can scrape call counts, queue depths, and transfer bytes the way a
// longer-running service would export its own runtime metrics, without
// Metrics itself depending on the registry.
type PrometheusMetrics struct {
	m *Metrics

	callsTotal    *prometheus.Desc
	callErrors    *prometheus.Desc
	exceptions    *prometheus.Desc
	readBytes     *prometheus.Desc
	writeBytes    *prometheus.Desc
	maxQueueDepth *prometheus.Desc
	avgQueueDepth *prometheus.Desc
}

// NewPrometheusMetrics wraps m for registration with a prometheus.Registerer.
func NewPrometheusMetrics(m *Metrics) *PrometheusMetrics {
	return &PrometheusMetrics{
		m:             m,
		callsTotal:    prometheus.NewDesc("veo_calls_total", "Total offload calls issued", nil, nil),
		callErrors:    prometheus.NewDesc("veo_call_errors_total", "Total offload calls that failed", nil, nil),
		exceptions:    prometheus.NewDesc("veo_exceptions_total", "Total worker exceptions observed", nil, nil),
		readBytes:     prometheus.NewDesc("veo_read_bytes_total", "Total bytes read from worker memory", nil, nil),
		writeBytes:    prometheus.NewDesc("veo_write_bytes_total", "Total bytes written to worker memory", nil, nil),
		maxQueueDepth: prometheus.NewDesc("veo_queue_depth_max", "Maximum observed request queue depth", nil, nil),
		avgQueueDepth: prometheus.NewDesc("veo_queue_depth_avg", "Average observed request queue depth", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.callsTotal
	ch <- p.callErrors
	ch <- p.exceptions
	ch <- p.readBytes
	ch <- p.writeBytes
	ch <- p.maxQueueDepth
	ch <- p.avgQueueDepth
}

// Collect implements prometheus.Collector.
func (p *PrometheusMetrics) Collect(ch chan<- prometheus.Metric) {
	snap := p.m.Snapshot()
	ch <- prometheus.MustNewConstMetric(p.callsTotal, prometheus.CounterValue, float64(snap.CallsTotal))
	ch <- prometheus.MustNewConstMetric(p.callErrors, prometheus.CounterValue, float64(snap.CallErrors))
	ch <- prometheus.MustNewConstMetric(p.exceptions, prometheus.CounterValue, float64(snap.Exceptions))
	ch <- prometheus.MustNewConstMetric(p.readBytes, prometheus.CounterValue, float64(snap.ReadBytes))
	ch <- prometheus.MustNewConstMetric(p.writeBytes, prometheus.CounterValue, float64(snap.WriteBytes))
	ch <- prometheus.MustNewConstMetric(p.maxQueueDepth, prometheus.GaugeValue, float64(snap.MaxQueueDepth))
	ch <- prometheus.MustNewConstMetric(p.avgQueueDepth, prometheus.GaugeValue, snap.AvgQueueDepth)
}

var _ prometheus.Collector = (*PrometheusMetrics)(nil)
