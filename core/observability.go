package core

import "time"

// Observation is the structured event emitted for every plugin execution and
// every tool / resource operation. Storage and transport are delegated to the
// Sink implementation.
type Observation struct {
	// Stage names the stage active when the operation ran.
	Stage string `json:"stage"`
	// Name identifies the plugin, tool or resource.
	Name string `json:"name"`
	// Kind distinguishes plugin, tool and resource operations.
	Kind string `json:"kind"`
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
	// Success reports whether the operation completed without error.
	Success bool `json:"success"`
	// ErrorType carries the error's Go type name when Success is false.
	ErrorType string `json:"error_type,omitempty"`
}

// Observation kinds.
const (
	ObservationPlugin   = "plugin"
	ObservationTool     = "tool"
	ObservationResource = "resource"
)

// Sink receives observations. Implementations must be safe for concurrent
// use and should never block the pipeline; drop or buffer instead.
type Sink interface {
	Emit(o Observation)
}

// NoopSink discards all observations.
type NoopSink struct{}

// Emit drops the observation.
func (NoopSink) Emit(Observation) {}
