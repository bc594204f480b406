package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/stagemesh/core"
)

// Recorder collects ordered lifecycle events from multiple stub resources so
// tests can assert initialization and shutdown order across a container.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Record appends an event.
func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// StaticResource is a configurable core.Resource stub. Chain the With*
// methods to inject lifecycle errors, then register its Factory with a
// container. Example:
//
//	rec := NewRecorder()
//	db := NewStaticResource("db", rec).WithInitErr(errBoom)
type StaticResource struct {
	ResourceName string
	Recorder     *Recorder

	InitErr     error
	HealthErr   error
	ShutdownErr error

	mu       sync.Mutex
	injected map[string]any
}

// NewStaticResource creates a stub resource. The recorder may be nil when
// ordering is irrelevant to the test.
func NewStaticResource(name string, rec *Recorder) *StaticResource {
	return &StaticResource{ResourceName: name, Recorder: rec, injected: map[string]any{}}
}

// WithInitErr makes Initialize fail (chainable).
func (s *StaticResource) WithInitErr(err error) *StaticResource { s.InitErr = err; return s }

// WithHealthErr makes HealthCheck fail (chainable).
func (s *StaticResource) WithHealthErr(err error) *StaticResource { s.HealthErr = err; return s }

// WithShutdownErr makes Shutdown fail (chainable).
func (s *StaticResource) WithShutdownErr(err error) *StaticResource { s.ShutdownErr = err; return s }

// Factory returns a container factory handing out this instance.
func (s *StaticResource) Factory() core.ResourceFactory {
	return func() (core.Resource, error) { return s, nil }
}

// Name implements core.Resource.
func (s *StaticResource) Name() string { return s.ResourceName }

// Initialize implements core.Resource.
func (s *StaticResource) Initialize(_ context.Context) error {
	s.record("init:" + s.ResourceName)
	return s.InitErr
}

// HealthCheck implements core.Resource.
func (s *StaticResource) HealthCheck(_ context.Context) error {
	s.record("health:" + s.ResourceName)
	return s.HealthErr
}

// Shutdown implements core.Resource.
func (s *StaticResource) Shutdown(_ context.Context) error {
	s.record("shutdown:" + s.ResourceName)
	return s.ShutdownErr
}

// InjectDependency implements core.DependencyReceiver, recording what the
// container handed over.
func (s *StaticResource) InjectDependency(name string, dep core.Resource) {
	s.mu.Lock()
	s.injected[name] = dep
	s.mu.Unlock()
	s.record("inject:" + s.ResourceName + "<-" + name)
}

// Injected returns the dependency stored under name, if any.
func (s *StaticResource) Injected(name string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.injected[name]
	return dep, ok
}

func (s *StaticResource) record(event string) {
	if s.Recorder != nil {
		s.Recorder.Record(event)
	}
}

// StubTool is a configurable core.Tool stub.
type StubTool struct {
	ToolName string
	CallFn   func(pctx *core.PluginContext, args map[string]any) (any, error)
}

// Name implements core.Tool.
func (t *StubTool) Name() string { return t.ToolName }

// Description implements core.Tool.
func (t *StubTool) Description() string { return "stub tool " + t.ToolName }

// Parameters implements core.Tool.
func (t *StubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Call implements core.Tool.
func (t *StubTool) Call(pctx *core.PluginContext, args map[string]any) (any, error) {
	if t.CallFn == nil {
		return "ok", nil
	}
	return t.CallFn(pctx, args)
}

// Descriptor is a shorthand for building a plugin descriptor in tests.
func Descriptor(name string, ptype core.PluginType, stages ...core.Stage) core.PluginDescriptor {
	return core.PluginDescriptor{Name: name, Type: ptype, Stages: stages}
}
