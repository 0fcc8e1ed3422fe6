// Package metrics exposes Prometheus instrumentation for receipt ingestion.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "expense_tracker"

// Pipeline holds the ingestion pipeline collectors
type Pipeline struct {
	Runs              *prometheus.CounterVec
	StageDuration     *prometheus.HistogramVec
	UnknownCategories prometheus.Counter
}

// NewPipeline creates the pipeline collectors and registers them on reg
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	p := &Pipeline{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Receipt ingestion runs by outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each pipeline stage",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"stage"},
		),
		UnknownCategories: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "unknown_categories_total",
				Help:      "Classifier answers outside the category taxonomy",
			},
		),
	}
	reg.MustRegister(p.Runs, p.StageDuration, p.UnknownCategories)
	return p
}

// ObserveStage records the time elapsed since start for a stage
func (p *Pipeline) ObserveStage(stage string, start time.Time) {
	p.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// RecordRun counts one finished run
func (p *Pipeline) RecordRun(outcome string) {
	p.Runs.WithLabelValues(outcome).Inc()
}
