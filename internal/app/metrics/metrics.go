// Package metrics exposes the bot's Prometheus instrumentation on a private
// registry so tests can construct isolated instances.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bot's counters and gauges.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal     *prometheus.CounterVec
	UpdatesServed   prometheus.Counter
	DownloadsTotal  *prometheus.CounterVec
	ReleasesTotal   prometheus.Counter
	SubmissionsOpen prometheus.Gauge
	MalformedTotal  prometheus.Counter
	CatalogSerial   prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered on a fresh
// registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storebot_events_total",
		Help: "Inbound transport events by kind and chat role.",
	}, []string{"kind", "role"})

	m.UpdatesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storebot_updates_served_total",
		Help: "Catalog update payloads sent to clients.",
	})

	m.DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storebot_downloads_total",
		Help: "Bundle download requests by outcome.",
	}, []string{"outcome"})

	m.ReleasesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storebot_releases_total",
		Help: "Applications published through the release gate.",
	})

	m.SubmissionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storebot_submissions_open",
		Help: "Submission sessions currently bound to a chat.",
	})

	m.MalformedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storebot_malformed_updates_total",
		Help: "Status updates dropped as malformed.",
	})

	m.CatalogSerial = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storebot_catalog_serial",
		Help: "Highest catalog serial assigned so far.",
	})

	m.registry.MustRegister(
		m.EventsTotal, m.UpdatesServed, m.DownloadsTotal, m.ReleasesTotal,
		m.SubmissionsOpen, m.MalformedTotal, m.CatalogSerial,
	)
	return m
}

// Handler returns the HTTP handler serving this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
