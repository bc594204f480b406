package registry

import (
	"fmt"
	"slices"

	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
)

// RegisteredPlugin pairs a plugin implementation with its descriptor after
// stage assignment has been applied. Descriptor.Stages holds the effective
// assignment, never an empty list.
type RegisteredPlugin struct {
	Descriptor core.PluginDescriptor
	Plugin     core.Plugin
}

// Options configures a Builder.
type Options struct {
	// Classifier is consulted only when a plugin has neither explicit stages
	// nor a type default. Purely advisory.
	Classifier Classifier
	// Logger receives stage-assignment warnings. Defaults to NoOp.
	Logger logging.Logger
}

// Builder accumulates plugin registrations and produces an immutable
// Registry. Registration order is preserved and defines execution order
// within each stage.
type Builder struct {
	classifier Classifier
	logger     logging.Logger

	plugins []RegisteredPlugin
	names   map[string]struct{}
}

// NewBuilder constructs an empty registry builder.
func NewBuilder(optFns ...func(o *Options)) *Builder {
	opts := Options{
		Classifier: HeuristicClassifier{},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Builder{
		classifier: opts.Classifier,
		logger:     opts.Logger,
		names:      map[string]struct{}{},
	}
}

// WithClassifier sets the advisory stage classifier.
func WithClassifier(c Classifier) func(o *Options) {
	return func(o *Options) { o.Classifier = c }
}

// WithLogger sets the builder's logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Register appends a plugin, applying the stage-assignment precedence once:
//  1. Explicit Stages on the descriptor always win. A mismatch with the type
//     default is logged, never an error.
//  2. Otherwise the plugin type's default stages apply.
//  3. Otherwise the classifier may infer a stage (advisory).
//
// Registration fails on duplicate names, invalid stage values, or when no
// rule yields a stage at all.
func (b *Builder) Register(desc core.PluginDescriptor, p core.Plugin) error {
	if desc.Name == "" {
		return fmt.Errorf("register plugin: name must not be empty")
	}
	if p == nil {
		return fmt.Errorf("register plugin %q: implementation must not be nil", desc.Name)
	}
	if _, exists := b.names[desc.Name]; exists {
		return fmt.Errorf("register plugin %q: duplicate name", desc.Name)
	}

	stages, err := b.assignStages(desc, p)
	if err != nil {
		return err
	}
	desc.Stages = stages

	b.names[desc.Name] = struct{}{}
	b.plugins = append(b.plugins, RegisteredPlugin{Descriptor: desc, Plugin: p})

	return nil
}

func (b *Builder) assignStages(desc core.PluginDescriptor, p core.Plugin) ([]core.Stage, error) {
	if len(desc.Stages) > 0 {
		for _, s := range desc.Stages {
			if !s.Valid() {
				return nil, fmt.Errorf("register plugin %q: invalid stage value %d", desc.Name, int(s))
			}
		}
		if defaults := desc.Type.DefaultStages(); len(defaults) > 0 && !slices.Equal(desc.Stages, defaults) {
			// Deliberately lenient: an explicit override that conflicts with
			// the type default is allowed and only logged.
			b.logger.Warn(
				"Explicit stage assignment overrides type default",
				"plugin", desc.Name,
				"type", desc.Type.String(),
				"stages", stageNames(desc.Stages),
				"default", stageNames(defaults),
			)
		}
		return slices.Clone(desc.Stages), nil
	}

	if defaults := desc.Type.DefaultStages(); len(defaults) > 0 {
		return defaults, nil
	}

	if b.classifier != nil {
		if inferred := b.classifier.Classify(desc, p); len(inferred) > 0 {
			b.logger.Info("Stage assignment inferred by classifier", "plugin", desc.Name, "stages", stageNames(inferred))
			return inferred, nil
		}
	}

	return nil, fmt.Errorf("register plugin %q: no explicit stages, no type default and no classifier inference", desc.Name)
}

// Build produces the immutable registry.
func (b *Builder) Build() *Registry {
	stages := make(map[core.Stage][]RegisteredPlugin)
	for _, rp := range b.plugins {
		for _, s := range rp.Descriptor.Stages {
			stages[s] = append(stages[s], rp)
		}
	}
	return &Registry{stages: stages, plugins: slices.Clone(b.plugins)}
}

// Registry is the immutable stage-to-plugins mapping used by the
// orchestrator for one run configuration.
type Registry struct {
	stages  map[core.Stage][]RegisteredPlugin
	plugins []RegisteredPlugin
}

// PluginsFor returns the ordered plugin list for a stage. The slice is a
// defensive copy; the registry itself never changes after Build.
func (r *Registry) PluginsFor(stage core.Stage) []RegisteredPlugin {
	return slices.Clone(r.stages[stage])
}

// Plugins returns every registered plugin in registration order.
func (r *Registry) Plugins() []RegisteredPlugin {
	return slices.Clone(r.plugins)
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int { return len(r.plugins) }

func stageNames(stages []core.Stage) []string {
	out := make([]string, len(stages))
	for i, s := range stages {
		out[i] = s.String()
	}
	return out
}
