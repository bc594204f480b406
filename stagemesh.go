// Package stagemesh provides a high-level façade over the staged execution
// engine and its supporting services (resource container, plugin registry,
// validation pipeline, circuit breaker). Most applications interact with
// this package by:
//  1. Creating a StageMesh via New() (optionally overriding defaults)
//  2. Building a pipeline from resource and plugin registrations (or from a
//     YAML configuration via BuildFromConfig)
//  3. Executing runs with Execute
//
// The façade delegates orchestration to engine.Engine while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable memory
// store, an observability sink and a structured logger.
package stagemesh

import (
	"context"
	"fmt"

	"github.com/hupe1980/stagemesh/breaker"
	"github.com/hupe1980/stagemesh/config"
	"github.com/hupe1980/stagemesh/container"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/engine"
	"github.com/hupe1980/stagemesh/logging"
	"github.com/hupe1980/stagemesh/memory"
	"github.com/hupe1980/stagemesh/registry"
	"github.com/hupe1980/stagemesh/validation"
)

// Options configures the StageMesh instance.
type Options struct {
	// MaxIterations bounds each run's stage loop. Zero defers to the value
	// in the built configuration, falling back to the engine default.
	MaxIterations int

	// MemoryStore persists conversation history (defaults to in-memory).
	MemoryStore core.MemoryStore

	// Sink receives per-operation observations (defaults to NoOp).
	Sink core.Sink

	// Breaker guards resource access. Defaults to a breaker with per-kind
	// default settings.
	Breaker *breaker.Breaker

	// Classifier assigns stages to plugins with no explicit stages and no
	// type default. Defaults to the heuristic name classifier.
	Classifier registry.Classifier

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ResourceRegistration pairs a resource descriptor with its factory.
type ResourceRegistration struct {
	Descriptor core.ResourceDescriptor
	Factory    core.ResourceFactory
}

// PluginRegistration pairs a plugin descriptor with its implementation.
type PluginRegistration struct {
	Descriptor core.PluginDescriptor
	Plugin     core.Plugin
}

// StageMesh is the high-level façade aggregating the engine, validation
// pipeline and circuit breaker.
type StageMesh struct {
	opts      Options
	validator *validation.Pipeline
	engine    *engine.Engine
}

// New creates a new StageMesh instance with optional overrides. Any unset
// collaborator is initialized with a safe in-process default.
func New(optFns ...func(o *Options)) *StageMesh {
	opts := Options{
		MemoryStore: memory.NewInMemoryStore(),
		Sink:        core.NoopSink{},
		Classifier:  registry.HeuristicClassifier{},
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Breaker == nil {
		opts.Breaker = breaker.New(breaker.WithLogger(opts.Logger))
	}

	return &StageMesh{
		opts: opts,
		validator: validation.New(
			validation.WithBreaker(opts.Breaker),
			validation.WithSink(opts.Sink),
			validation.WithLogger(opts.Logger),
		),
	}
}

// WithMaxIterations overrides the iteration ceiling.
func WithMaxIterations(n int) func(o *Options) {
	return func(o *Options) { o.MaxIterations = n }
}

// WithMemoryStore sets the conversation store.
func WithMemoryStore(m core.MemoryStore) func(o *Options) {
	return func(o *Options) { o.MemoryStore = m }
}

// WithSink sets the observability sink.
func WithSink(s core.Sink) func(o *Options) {
	return func(o *Options) { o.Sink = s }
}

// WithBreaker sets the circuit breaker.
func WithBreaker(b *breaker.Breaker) func(o *Options) {
	return func(o *Options) { o.Breaker = b }
}

// WithClassifier sets the stage classifier for unassigned plugins.
func WithClassifier(c registry.Classifier) func(o *Options) {
	return func(o *Options) { o.Classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Build validates the given registrations, resolves the resource container,
// builds the plugin registry and starts (or reconfigures) the engine. A
// validation or resolution failure on reconfiguration leaves the previous
// pipeline running untouched.
func (m *StageMesh) Build(ctx context.Context, resources []ResourceRegistration, plugins []PluginRegistration) error {
	rdescs := make([]core.ResourceDescriptor, 0, len(resources))
	for _, r := range resources {
		rdescs = append(rdescs, r.Descriptor)
	}
	pdescs := make([]core.PluginDescriptor, 0, len(plugins))
	for _, p := range plugins {
		pdescs = append(pdescs, p.Descriptor)
	}

	if err := m.validator.Validate(rdescs, pdescs); err != nil {
		return err
	}

	c := container.New(
		container.WithBreaker(m.opts.Breaker),
		container.WithLogger(m.opts.Logger),
	)
	for _, r := range resources {
		if err := c.Register(r.Descriptor, r.Factory); err != nil {
			return err
		}
	}
	if _, err := c.Resolve(ctx); err != nil {
		return fmt.Errorf("resolve container: %w", err)
	}

	builder := registry.NewBuilder(
		registry.WithClassifier(m.opts.Classifier),
		registry.WithLogger(m.opts.Logger),
	)
	for _, p := range plugins {
		if err := builder.Register(p.Descriptor, p.Plugin); err != nil {
			shutdownQuietly(ctx, c, m.opts.Logger)
			return err
		}
	}
	reg := builder.Build()

	if m.engine == nil {
		m.engine = engine.New(c, reg,
			engine.WithMaxIterations(m.opts.MaxIterations),
			engine.WithMemoryStore(m.opts.MemoryStore),
			engine.WithSink(m.opts.Sink),
			engine.WithLogger(m.opts.Logger),
		)
	} else if err := m.engine.Reconfigure(ctx, c, reg); err != nil {
		return err
	}

	// Runtime validation proceeds in the background; failures trip the
	// breaker without blocking the build.
	m.drainRuntimeValidation(ctx, c)

	return nil
}

// BuildFromConfig builds a pipeline from a parsed YAML configuration. The
// factories and impls maps supply the code behind each declared name; a
// declaration without an implementation is an error. Combined with
// config.NewWatcher this enables live reconfiguration of a running mesh.
func (m *StageMesh) BuildFromConfig(ctx context.Context, cfg *config.Config, factories map[string]core.ResourceFactory, impls map[string]core.Plugin) error {
	if m.opts.MaxIterations == 0 && cfg.MaxIterations > 0 {
		m.opts.MaxIterations = cfg.MaxIterations
	}

	resources := make([]ResourceRegistration, 0, len(cfg.Resources))
	for _, desc := range cfg.Resources {
		factory, ok := factories[desc.Name]
		if !ok {
			return fmt.Errorf("no factory registered for resource %q", desc.Name)
		}
		resources = append(resources, ResourceRegistration{Descriptor: desc, Factory: factory})
	}

	plugins := make([]PluginRegistration, 0, len(cfg.Plugins))
	for _, desc := range cfg.Plugins {
		impl, ok := impls[desc.Name]
		if !ok {
			return fmt.Errorf("no implementation registered for plugin %q", desc.Name)
		}
		plugins = append(plugins, PluginRegistration{Descriptor: desc, Plugin: impl})
	}

	return m.Build(ctx, resources, plugins)
}

// Execute runs one pipeline execution for an inbound message.
func (m *StageMesh) Execute(ctx context.Context, message, userID, pipelineID string) (*engine.Result, error) {
	if m.engine == nil {
		return nil, fmt.Errorf("no pipeline built, call Build first")
	}
	return m.engine.Execute(ctx, message, userID, pipelineID)
}

// RegisterTool makes a tool available to plugins of every subsequent run.
func (m *StageMesh) RegisterTool(t core.Tool) error {
	if m.engine == nil {
		return fmt.Errorf("no pipeline built, call Build first")
	}
	m.engine.RegisterTool(t)
	return nil
}

// Breaker exposes the circuit breaker, mainly for inspection in tests and
// operational tooling.
func (m *StageMesh) Breaker() *breaker.Breaker { return m.opts.Breaker }

// Shutdown drains in-flight runs and tears down all resources.
func (m *StageMesh) Shutdown(ctx context.Context) error {
	if m.engine == nil {
		return nil
	}
	return m.engine.Shutdown(ctx)
}

func (m *StageMesh) drainRuntimeValidation(ctx context.Context, c *container.Container) {
	results := m.validator.ValidateRuntime(ctx, c)
	go func() {
		for result := range results {
			if !result.OK() {
				m.opts.Logger.Warn("Runtime validation reported failures", "failures", len(result.Failures))
			}
		}
	}()
}

func shutdownQuietly(ctx context.Context, c *container.Container, logger logging.Logger) {
	if err := c.Shutdown(ctx); err != nil {
		logger.Warn("Container shutdown during failed build", "error", err)
	}
}
