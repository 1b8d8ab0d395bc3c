// Package metrics exposes Prometheus counters for the outreach pipeline,
// grounded on the health-monitoring integration tests' pattern of a
// dedicated prometheus.Registry plus promhttp.Handler rather than the
// global default registry, so a second engine instance in the same process
// (as in tests) never panics on a duplicate registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter the pipeline increments.
type Metrics struct {
	Registry *prometheus.Registry

	LeadsScored     *prometheus.CounterVec
	OutreachSent    *prometheus.CounterVec
	OutreachBlocked *prometheus.CounterVec
	OutreachFailed  *prometheus.CounterVec
	AlertsSent      *prometheus.CounterVec
	RowsIngested    *prometheus.CounterVec
}

// New builds a Metrics with a fresh registry and registers every counter.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		LeadsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_leads_scored_total",
			Help: "Leads scored by the nightly pipeline, by market.",
		}, []string{"market"}),
		OutreachSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_outreach_sent_total",
			Help: "Outreach attempts successfully dispatched, by market.",
		}, []string{"market"}),
		OutreachBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_outreach_blocked_total",
			Help: "Outreach attempts blocked by the TCPA gate, by market.",
		}, []string{"market"}),
		OutreachFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_outreach_failed_total",
			Help: "Outreach attempts that errored during send, by market.",
		}, []string{"market"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_alerts_sent_total",
			Help: "Hot-lead and reply alerts dispatched, by market.",
		}, []string{"market"}),
		RowsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_rows_ingested_total",
			Help: "Tax-roll/adjudicated/GIS rows resolved by the ingestor, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.LeadsScored, m.OutreachSent, m.OutreachBlocked, m.OutreachFailed, m.AlertsSent, m.RowsIngested)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
