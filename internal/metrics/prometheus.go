package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomfire"

// PrometheusCollector exposes a Collector's live counters to a Prometheus
// registry. Values are read at scrape time.
type PrometheusCollector struct {
	source *Collector

	messages      *prometheus.Desc
	created       *prometheus.Desc
	reconnections *prometheus.Desc
	reused        *prometheus.Desc
	active        *prometheus.Desc
	latency       *prometheus.Desc
}

// NewPrometheusCollector wraps c for registration with a prometheus.Registerer.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	return &PrometheusCollector{
		source: c,
		messages: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "messages_total"),
			"Resolved chat messages by outcome.",
			[]string{"outcome"}, nil,
		),
		created: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connections_created_total"),
			"Room connections opened.",
			nil, nil,
		),
		reconnections: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "reconnections_total"),
			"Room connections found closed and reopened.",
			nil, nil,
		),
		reused: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connections_reused_total"),
			"Tasks served by an already open connection.",
			nil, nil,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "active_connections"),
			"Room connections currently open.",
			nil, nil,
		),
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "round_trip_seconds"),
			"Round-trip latency of successful messages.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.messages
	ch <- p.created
	ch <- p.reconnections
	ch <- p.reused
	ch <- p.active
	ch <- p.latency
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	snap := p.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(p.messages, prometheus.CounterValue, float64(snap.Successes), "success")
	ch <- prometheus.MustNewConstMetric(p.messages, prometheus.CounterValue, float64(snap.Failures), "failure")
	ch <- prometheus.MustNewConstMetric(p.created, prometheus.CounterValue, float64(snap.ConnectionsCreated))
	ch <- prometheus.MustNewConstMetric(p.reconnections, prometheus.CounterValue, float64(snap.Reconnections))
	ch <- prometheus.MustNewConstMetric(p.reused, prometheus.CounterValue, float64(snap.ConnectionsReused))
	ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, float64(snap.ActiveConnections))

	ch <- prometheus.MustNewConstSummary(p.latency, uint64(snap.LatencyCount), snap.LatencySum.Seconds(), map[float64]float64{
		0.5:  snap.P50Latency.Seconds(),
		0.99: snap.P99Latency.Seconds(),
	})
}
