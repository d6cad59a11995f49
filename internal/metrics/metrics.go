// Package metrics records batch run counters in a private Prometheus registry
// that can be dumped in the node-exporter textfile format.
package metrics

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the run metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	specimens     *prometheus.CounterVec
	pairs         *prometheus.CounterVec
	withinGate    *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
}

// New creates a recorder backed by its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		specimens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cellmatch_specimens_total",
			Help: "Specimens processed, by outcome.",
		}, []string{"status"}),
		pairs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cellmatch_pairs_total",
			Help: "Centroid pairs reported, by matching strategy.",
		}, []string{"strategy"}),
		withinGate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cellmatch_fraction_within_gate",
			Help: "Fraction of pairs within the distance gate, per specimen.",
		}, []string{"specimen"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cellmatch_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// SpecimenDone counts a finished specimen
func (r *Recorder) SpecimenDone(err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	r.specimens.WithLabelValues(status).Inc()
}

// Matched records the outcome of one matching run
func (r *Recorder) Matched(specimen, strategy string, pairs int, fractionWithinGate float64) {
	if r == nil {
		return
	}
	r.pairs.WithLabelValues(strategy).Add(float64(pairs))
	// NaN fractions (no pairs) are not exported
	if !math.IsNaN(fractionWithinGate) {
		r.withinGate.WithLabelValues(specimen).Set(fractionWithinGate)
	}
}

// ObserveStage records how long a stage took
func (r *Recorder) ObserveStage(stage string, started time.Time) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

// WriteTextfile writes every metric to path in the text exposition format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
