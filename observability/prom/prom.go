// Package prom provides a Prometheus-backed core.Sink exporting pipeline
// operation counts and latencies.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/stagemesh/core"
)

// Options configures the Prometheus sink.
type Options struct {
	// Namespace prefixes all metric names. Defaults to "stagemesh".
	Namespace string
	// Registerer receives the collectors. Defaults to the global registerer.
	Registerer prometheus.Registerer
	// Buckets overrides the duration histogram buckets.
	Buckets []float64
}

// Sink exports observations as Prometheus metrics: a counter per
// stage/name/kind/outcome and a duration histogram per stage/kind.
type Sink struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// New constructs and registers the sink's collectors.
func New(optFns ...func(o *Options)) (*Sink, error) {
	opts := Options{
		Namespace:  "stagemesh",
		Registerer: prometheus.DefaultRegisterer,
		Buckets:    prometheus.DefBuckets,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Sink{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "operations_total",
			Help:      "Pipeline operations by stage, name, kind and outcome.",
		}, []string{"stage", "name", "kind", "success"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Pipeline operation latency by stage and kind.",
			Buckets:   opts.Buckets,
		}, []string{"stage", "kind"}),
	}

	if err := opts.Registerer.Register(s.operations); err != nil {
		return nil, err
	}
	if err := opts.Registerer.Register(s.durations); err != nil {
		return nil, err
	}

	return s, nil
}

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) func(o *Options) {
	return func(o *Options) { o.Namespace = ns }
}

// WithRegisterer sets the Prometheus registerer.
func WithRegisterer(r prometheus.Registerer) func(o *Options) {
	return func(o *Options) { o.Registerer = r }
}

// WithBuckets overrides the duration histogram buckets.
func WithBuckets(buckets []float64) func(o *Options) {
	return func(o *Options) { o.Buckets = buckets }
}

// Emit records the observation.
func (s *Sink) Emit(o core.Observation) {
	success := "false"
	if o.Success {
		success = "true"
	}
	s.operations.WithLabelValues(o.Stage, o.Name, o.Kind, success).Inc()
	s.durations.WithLabelValues(o.Stage, o.Kind).Observe(o.Duration.Seconds())
}
