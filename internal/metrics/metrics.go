// Package metrics collects per-run Prometheus metrics and writes them to a
// node_exporter textfile so the monitoring phase's own exporter publishes
// the provisioner's history.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyndonlyu/serverforge/internal/executor"
	"github.com/lyndonlyu/serverforge/internal/phase"
	"github.com/lyndonlyu/serverforge/internal/rollback"
)

const namespace = "serverforge"

// Outcome label values.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Run holds the collectors of one provisioning run on a private registry.
type Run struct {
	reg *prometheus.Registry

	PhaseDuration   *prometheus.GaugeVec   // labels: phase, status
	Commands        *prometheus.CounterVec // labels: outcome
	CommandDuration prometheus.Histogram
	RollbackActions *prometheus.CounterVec // labels: kind, outcome
	RollbackQuality *prometheus.GaugeVec   // labels: quality
	LastRunSuccess  prometheus.Gauge
	LastRunTime     prometheus.Gauge
	LastRunDuration prometheus.Gauge
}

func New() *Run {
	r := &Run{
		reg: prometheus.NewRegistry(),
		PhaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each phase reached by the last run.",
		}, []string{"phase", "status"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "External commands executed by the last run.",
		}, []string{"outcome"}),
		CommandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Duration of external commands.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		RollbackActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollback_actions_total",
			Help:      "Undo attempts by action kind and outcome.",
		}, []string{"kind", "outcome"}),
		RollbackQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rollback_quality",
			Help:      "Set to 1 for the quality of the last rollback pass.",
		}, []string{"quality"}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed every phase, 0 otherwise.",
		}),
		LastRunTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		LastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	r.reg.MustRegister(
		r.PhaseDuration,
		r.Commands,
		r.CommandDuration,
		r.RollbackActions,
		r.RollbackQuality,
		r.LastRunSuccess,
		r.LastRunTime,
		r.LastRunDuration,
	)
	return r
}

func (r *Run) Registry() *prometheus.Registry { return r.reg }

// ObservePhase is a phase.Hooks.OnPhaseEnd callback.
func (r *Run) ObservePhase(o phase.Outcome) {
	r.PhaseDuration.WithLabelValues(o.Name, o.Status).Set(o.Duration.Seconds())
}

// ObserveCommand is an executor.Options.Observer callback.
func (r *Run) ObserveCommand(rec executor.Record) {
	outcome := OutcomeOK
	if rec.Err != nil {
		outcome = OutcomeFailed
	}
	r.Commands.WithLabelValues(outcome).Inc()
	r.CommandDuration.Observe(rec.Duration.Seconds())
}

// ObserveUndo is a rollback observer.
func (r *Run) ObserveUndo(ev rollback.UndoEvent) {
	outcome := OutcomeOK
	if ev.Err != nil {
		outcome = OutcomeFailed
	}
	r.RollbackActions.WithLabelValues(string(ev.Action.Kind), outcome).Inc()
}

// Finish records the run summary.
func (r *Run) Finish(res phase.Result, start, end time.Time) {
	success := 0.0
	if res.State == phase.Done {
		success = 1
	}
	r.LastRunSuccess.Set(success)
	r.LastRunTime.Set(float64(end.Unix()))
	r.LastRunDuration.Set(end.Sub(start).Seconds())
	if res.Rollback != nil {
		r.RollbackQuality.Reset()
		r.RollbackQuality.WithLabelValues(string(res.Rollback.Quality)).Set(1)
	}
}

// WriteTextfile writes the registry in text exposition format to path,
// atomically, creating the parent directory.
func (r *Run) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
