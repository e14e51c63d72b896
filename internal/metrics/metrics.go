// Package metrics provides Prometheus collectors for both engines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joescharf/opsdesk/internal/delay"
	"github.com/joescharf/opsdesk/internal/distribute"
	"github.com/joescharf/opsdesk/internal/models"
)

// Metrics holds the collectors. Each instance owns its own registry so
// several can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	uploadsTotal       *prometheus.CounterVec
	rowsLoaded         prometheus.Gauge
	delayedRows        *prometheus.GaugeVec
	distributionRuns   *prometheus.CounterVec
	assignmentsWritten prometheus.Counter
	decisionsTotal     *prometheus.CounterVec
	storeRetries       *prometheus.CounterVec
}

// New creates and registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_delay_uploads_total",
				Help: "Total number of tracking table uploads",
			},
			[]string{"result"},
		),
		rowsLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "opsdesk_delay_rows_loaded",
				Help: "Number of rows in the most recently loaded tracking table",
			},
		),
		delayedRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "opsdesk_delay_delayed_rows",
				Help: "Delayed rows in the most recently classified table, by priority",
			},
			[]string{"priority"},
		),
		distributionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_distribution_runs_total",
				Help: "Total number of distribution runs",
			},
			[]string{"result"},
		),
		assignmentsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "opsdesk_distribution_assignments_total",
				Help: "Total number of item assignments written",
			},
		),
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_review_decisions_total",
				Help: "Total number of review decisions recorded",
			},
			[]string{"decision"},
		),
		storeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opsdesk_store_retries_total",
				Help: "Total number of retried document store calls",
			},
			[]string{"op"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordUpload counts an upload attempt.
func (m *Metrics) RecordUpload(err error) {
	m.uploadsTotal.WithLabelValues(result(err)).Inc()
}

// ObserveRows publishes the size and delayed breakdown of a classified table.
func (m *Metrics) ObserveRows(rows []models.TrackingRow) {
	m.rowsLoaded.Set(float64(len(rows)))
	counts := map[models.Priority]int{
		models.PriorityLow:    0,
		models.PriorityMedium: 0,
		models.PriorityHigh:   0,
	}
	for _, r := range rows {
		if r.IsDelayed {
			counts[r.Priority]++
		}
	}
	for p, n := range counts {
		m.delayedRows.WithLabelValues(string(p)).Set(float64(n))
	}
}

// ObserveWorkspace is ObserveRows over the current rows of w.
func (m *Metrics) ObserveWorkspace(w *delay.Workspace) {
	m.ObserveRows(w.Rows())
}

// RecordDistribution counts a distribution run and the assignments it wrote.
func (m *Metrics) RecordDistribution(run distribute.Run, err error) {
	m.distributionRuns.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.assignmentsWritten.Add(float64(len(run.Assignments)))
	}
}

// RecordDecision counts a recorded review decision.
func (m *Metrics) RecordDecision(d models.Decision) {
	m.decisionsTotal.WithLabelValues(string(d)).Inc()
}

// RecordRetry counts one retried store call. Its signature matches
// store.Retrying.OnRetry.
func (m *Metrics) RecordRetry(op string, _ int, _ error) {
	m.storeRetries.WithLabelValues(op).Inc()
}
