// Package metrics holds the pipeline's Prometheus collectors. A batch run has no
// scrape endpoint, so the registry is written out in node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

const namespace = "flightclean"

// Registry is a private Prometheus registry with the pipeline collectors.
type Registry struct {
	reg *prometheus.Registry

	StageDurationSec *prometheus.GaugeVec
	StageRows        *prometheus.GaugeVec
	StageFailures    *prometheus.CounterVec
	StageCounts      *prometheus.GaugeVec
	AuditFindings    *prometheus.GaugeVec
	AuditConsistent  prometheus.Gauge
	RunsTotal        *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
}

// NewRegistry creates a registry with every collector registered.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	stageDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Wall time of the last execution of each stage.",
	}, []string{"stage"})
	stageRows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_rows_affected",
		Help:      "Rows written by the last execution of each stage.",
	}, []string{"stage"})
	stageFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_failures_total",
		Help:      "Stage executions that were rolled back.",
	}, []string{"stage"})
	stageCounts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stage_count",
		Help:      "Named counters reported by each stage.",
	}, []string{"stage", "counter"})
	auditFindings := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_findings",
		Help:      "Residual inconsistencies found by the last audit.",
	}, []string{"check"})
	auditConsistent := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_consistent",
		Help:      "1 when the last audit found no invariant violations.",
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Pipeline runs by final status.",
	}, []string{"status"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished.",
	})

	r.MustRegister(stageDuration, stageRows, stageFailures, stageCounts, auditFindings, auditConsistent, runs, lastRun)
	return &Registry{
		reg:              r,
		StageDurationSec: stageDuration,
		StageRows:        stageRows,
		StageFailures:    stageFailures,
		StageCounts:      stageCounts,
		AuditFindings:    auditFindings,
		AuditConsistent:  auditConsistent,
		RunsTotal:        runs,
		LastRunTimestamp: lastRun,
	}
}

// ObserveStage records a completed stage.
func (r *Registry) ObserveStage(stage models.StageName, elapsed time.Duration, result *models.StageResult) {
	name := string(stage)
	r.StageDurationSec.WithLabelValues(name).Set(elapsed.Seconds())
	if result == nil {
		return
	}
	r.StageRows.WithLabelValues(name).Set(float64(result.RowsAffected))
	for counter, v := range result.Counts {
		r.StageCounts.WithLabelValues(name, counter).Set(float64(v))
	}
}

// StageFailed records a rolled-back stage.
func (r *Registry) StageFailed(stage models.StageName, elapsed time.Duration) {
	r.StageDurationSec.WithLabelValues(string(stage)).Set(elapsed.Seconds())
	r.StageFailures.WithLabelValues(string(stage)).Inc()
}

// ObserveAudit publishes every check of the report.
func (r *Registry) ObserveAudit(report *models.AuditReport) {
	if report == nil {
		return
	}
	for check, v := range report.Counts() {
		r.AuditFindings.WithLabelValues(check).Set(float64(v))
	}
	if report.Consistent() {
		r.AuditConsistent.Set(1)
	} else {
		r.AuditConsistent.Set(0)
	}
}

// RunFinished records the final status of a run.
func (r *Registry) RunFinished(status models.RunStatus, at time.Time) {
	r.RunsTotal.WithLabelValues(string(status)).Inc()
	r.LastRunTimestamp.Set(float64(at.Unix()))
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile writes all metrics to path for the node-exporter textfile collector.
// The file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
