package observability

import (
	"sync"

	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
)

// LogSink emits every observation as a structured log line.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink constructs a sink writing to the given logger.
func NewLogSink(l logging.Logger) *LogSink {
	if l == nil {
		l = logging.NoOpLogger{}
	}
	return &LogSink{logger: l}
}

// Emit logs the observation, at warn level for failures.
func (s *LogSink) Emit(o core.Observation) {
	args := []any{
		"stage", o.Stage,
		"name", o.Name,
		"kind", o.Kind,
		"duration_ms", o.Duration.Milliseconds(),
		"success", o.Success,
	}
	if o.Success {
		s.logger.Debug("Pipeline operation", args...)
		return
	}
	args = append(args, "error_type", o.ErrorType)
	s.logger.Warn("Pipeline operation failed", args...)
}

// MultiSink fans observations out to several sinks.
type MultiSink []core.Sink

// Emit forwards the observation to every sink in order.
func (m MultiSink) Emit(o core.Observation) {
	for _, s := range m {
		s.Emit(o)
	}
}

// CollectSink buffers observations in memory. Intended for tests.
type CollectSink struct {
	mu           sync.Mutex
	observations []core.Observation
}

// NewCollectSink constructs an empty collecting sink.
func NewCollectSink() *CollectSink {
	return &CollectSink{}
}

// Emit appends the observation.
func (s *CollectSink) Emit(o core.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observations = append(s.observations, o)
}

// Collected returns a copy of the buffered observations.
func (s *CollectSink) Collected() []core.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Observation, len(s.observations))
	copy(out, s.observations)
	return out
}
