package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stagemesh/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.Sink = (*LogSink)(nil)
	_ core.Sink = (MultiSink)(nil)
	_ core.Sink = (*CollectSink)(nil)
)

// countingLogger counts calls per level.
type countingLogger struct {
	debugs, warns int
}

func (c *countingLogger) Debug(string, ...any) { c.debugs++ }
func (c *countingLogger) Info(string, ...any)  {}
func (c *countingLogger) Warn(string, ...any)  { c.warns++ }
func (c *countingLogger) Error(string, ...any) {}

func TestLogSink_LevelsByOutcome(t *testing.T) {
	logger := &countingLogger{}
	s := NewLogSink(logger)

	s.Emit(core.Observation{Stage: "DO", Name: "t", Kind: core.ObservationTool, Success: true})
	s.Emit(core.Observation{Stage: "DO", Name: "t", Kind: core.ObservationTool, Success: false, ErrorType: "*errors.errorString"})

	assert.Equal(t, 1, logger.debugs)
	assert.Equal(t, 1, logger.warns)
}

func TestMultiSink_FansOut(t *testing.T) {
	a := NewCollectSink()
	b := NewCollectSink()
	m := MultiSink{a, b}

	obs := core.Observation{Stage: "THINK", Name: "p", Kind: core.ObservationPlugin, Duration: time.Millisecond, Success: true}
	m.Emit(obs)

	require.Len(t, a.Collected(), 1)
	require.Len(t, b.Collected(), 1)
	assert.Equal(t, obs, a.Collected()[0])
}

func TestCollectSink_ReturnsCopies(t *testing.T) {
	s := NewCollectSink()
	s.Emit(core.Observation{Name: "one"})

	got := s.Collected()
	got[0].Name = "mutated"
	assert.Equal(t, "one", s.Collected()[0].Name)
}
