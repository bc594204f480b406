package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/stagemesh/breaker"
	"github.com/hupe1980/stagemesh/container"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
)

// Phase identifies one validation phase.
type Phase int

const (
	// PhaseSyntax checks structural validity of each descriptor in isolation.
	PhaseSyntax Phase = iota
	// PhaseDependency builds and checks the full dependency graphs.
	PhaseDependency
	// PhaseRuntime performs live connectivity checks in the background.
	PhaseRuntime
)

// String returns the canonical phase name.
func (p Phase) String() string {
	switch p {
	case PhaseSyntax:
		return "syntax"
	case PhaseDependency:
		return "dependency"
	case PhaseRuntime:
		return "runtime"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Failure is one located validation finding.
type Failure struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

func (f Failure) String() string { return f.Location + ": " + f.Message }

// Result is the outcome of one validation phase.
type Result struct {
	Phase    Phase
	Failures []Failure
	Duration time.Duration
}

// OK reports whether the phase passed without findings.
func (r Result) OK() bool { return len(r.Failures) == 0 }

// ConfigValidationError aggregates fatal phase 1/2 findings. Validation
// errors are reported whole; the engine never starts partially validated.
type ConfigValidationError struct {
	Results []Result
}

func (e *ConfigValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed")
	for _, r := range e.Results {
		for _, f := range r.Failures {
			fmt.Fprintf(&sb, "\n  [%s] %s", r.Phase, f)
		}
	}
	return sb.String()
}

// Options configures a validation Pipeline.
type Options struct {
	// Breaker is tripped by runtime-phase health failures. Optional.
	Breaker *breaker.Breaker
	// Sink receives a resource observation per health check. Defaults to NoOp.
	Sink core.Sink
	// Logger receives degraded-mode warnings. Defaults to NoOp.
	Logger logging.Logger
	// HealthTimeout bounds each individual runtime health check.
	HealthTimeout time.Duration
}

// Pipeline runs the ordered validation phases for a configuration.
type Pipeline struct {
	breaker       *breaker.Breaker
	sink          core.Sink
	logger        logging.Logger
	healthTimeout time.Duration
}

// New constructs a validation pipeline.
func New(optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		Sink:          core.NoopSink{},
		Logger:        logging.NoOpLogger{},
		HealthTimeout: 5 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pipeline{
		breaker:       opts.Breaker,
		sink:          opts.Sink,
		logger:        opts.Logger,
		healthTimeout: opts.HealthTimeout,
	}
}

// WithBreaker sets the breaker tripped by runtime health failures.
func WithBreaker(b *breaker.Breaker) func(o *Options) {
	return func(o *Options) { o.Breaker = b }
}

// WithSink sets the observability sink.
func WithSink(s core.Sink) func(o *Options) {
	return func(o *Options) { o.Sink = s }
}

// WithLogger sets the pipeline logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithHealthTimeout bounds each runtime health check.
func WithHealthTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.HealthTimeout = d }
}

// Validate runs the fatal phases (syntax, then dependency) and returns a
// ConfigValidationError aggregating every finding when either fails. The
// dependency phase runs even when syntax failed so the report is whole.
func (p *Pipeline) Validate(resources []core.ResourceDescriptor, plugins []core.PluginDescriptor) error {
	results := []Result{
		p.ValidateSyntax(resources, plugins),
		p.ValidateDependencies(resources, plugins),
	}

	var failed []Result
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		return &ConfigValidationError{Results: failed}
	}
	return nil
}

// ValidateSyntax checks structural validity of each descriptor in isolation:
// required fields present, stage values members of the enum, no duplicate
// names. No network and no cross-descriptor checks; it must stay cheap
// (sub-100ms even for large configurations).
func (p *Pipeline) ValidateSyntax(resources []core.ResourceDescriptor, plugins []core.PluginDescriptor) Result {
	start := time.Now()
	var failures []Failure

	seenResources := map[string]bool{}
	for i, rd := range resources {
		loc := fmt.Sprintf("resource[%d]", i)
		if rd.Name == "" {
			failures = append(failures, Failure{Location: loc, Message: "name is required"})
			continue
		}
		loc = "resource " + rd.Name
		if seenResources[rd.Name] {
			failures = append(failures, Failure{Location: loc, Message: "duplicate resource name"})
		}
		seenResources[rd.Name] = true
		for _, dep := range rd.Dependencies {
			if dep == "" {
				failures = append(failures, Failure{Location: loc, Message: "empty dependency name"})
			}
		}
	}

	seenPlugins := map[string]bool{}
	for i, pd := range plugins {
		loc := fmt.Sprintf("plugin[%d]", i)
		if pd.Name == "" {
			failures = append(failures, Failure{Location: loc, Message: "name is required"})
			continue
		}
		loc = "plugin " + pd.Name
		if seenPlugins[pd.Name] {
			failures = append(failures, Failure{Location: loc, Message: "duplicate plugin name"})
		}
		seenPlugins[pd.Name] = true
		for _, s := range pd.Stages {
			if !s.Valid() {
				failures = append(failures, Failure{Location: loc, Message: fmt.Sprintf("invalid stage value %d", int(s))})
			}
		}
		for _, dep := range pd.Dependencies {
			if dep == "" {
				failures = append(failures, Failure{Location: loc, Message: "empty dependency name"})
			}
		}
	}

	return Result{Phase: PhaseSyntax, Failures: failures, Duration: time.Since(start)}
}

// ValidateDependencies builds the full resource and plugin dependency graphs:
// cycle detection on the resource graph, resolution of every declared plugin
// dependency, and the static lint that catches PARSE-stage plugins consuming
// a value only produced by a DO-stage plugin's stageData output.
func (p *Pipeline) ValidateDependencies(resources []core.ResourceDescriptor, plugins []core.PluginDescriptor) Result {
	start := time.Now()
	var failures []Failure

	if _, err := container.SortDescriptors(resources); err != nil {
		var cycleErr *core.CircularDependencyError
		if errors.As(err, &cycleErr) {
			failures = append(failures, Failure{
				Location: "resource graph",
				Message:  fmt.Sprintf("circular dependency: %s", strings.Join(cycleErr.Cycle, " -> ")),
			})
		} else {
			failures = append(failures, Failure{Location: "resource graph", Message: err.Error()})
		}
	}

	resourceNames := map[string]bool{}
	for _, rd := range resources {
		resourceNames[rd.Name] = true
	}

	// stageData keys declared as produced by DO-stage plugins, for the lint.
	doProduced := map[string]string{}
	for _, pd := range plugins {
		if !pluginRunsIn(pd, core.StageDo) {
			continue
		}
		for _, key := range pd.Produces {
			doProduced[key] = pd.Name
		}
	}

	for _, pd := range plugins {
		loc := "plugin " + pd.Name
		for _, dep := range pd.Dependencies {
			if resourceNames[dep] {
				continue
			}
			if producer, ok := doProduced[dep]; ok && pluginRunsIn(pd, core.StageParse) {
				// Well-known foot-gun: the value only exists after DO has run,
				// which is after PARSE within the same iteration.
				failures = append(failures, Failure{
					Location: loc,
					Message:  fmt.Sprintf("PARSE-stage plugin depends on %q which is only produced by DO-stage plugin %q", dep, producer),
				})
				continue
			}
			failures = append(failures, Failure{Location: loc, Message: fmt.Sprintf("dependency %q does not resolve to a registered resource", dep)})
		}
	}

	return Result{Phase: PhaseDependency, Failures: failures, Duration: time.Since(start)}
}

// ValidateRuntime performs live connectivity checks against the resolved
// container in the background. It never blocks startup: the returned channel
// receives the final result once every health check has completed. Failures
// are degraded-mode warnings that trip the circuit breaker for the affected
// resource kind and surface via the sink.
func (p *Pipeline) ValidateRuntime(ctx context.Context, c *container.Container) <-chan Result {
	out := make(chan Result, 1)

	go func() {
		defer close(out)
		start := time.Now()
		var failures []Failure

		for _, desc := range c.Descriptors() {
			res, err := c.Get(desc.Name)
			if err != nil {
				failures = append(failures, Failure{Location: "resource " + desc.Name, Message: err.Error()})
				continue
			}

			checkCtx, cancel := context.WithTimeout(ctx, p.healthTimeout)
			checkStart := time.Now()
			err = res.HealthCheck(checkCtx)
			cancel()

			p.sink.Emit(core.Observation{
				Name:      desc.Name,
				Kind:      core.ObservationResource,
				Duration:  time.Since(checkStart),
				Success:   err == nil,
				ErrorType: errType(err),
			})

			if err != nil {
				failures = append(failures, Failure{Location: "resource " + desc.Name, Message: err.Error()})
				p.logger.Warn("Runtime health check failed, degrading resource", "resource", desc.Name, "kind", desc.Kind.String(), "error", err)
				if p.breaker != nil {
					p.breaker.Trip(desc.Name, desc.Kind)
				}
			}
		}

		out <- Result{Phase: PhaseRuntime, Failures: failures, Duration: time.Since(start)}
	}()

	return out
}

func pluginRunsIn(pd core.PluginDescriptor, stage core.Stage) bool {
	stages := pd.Stages
	if len(stages) == 0 {
		stages = pd.Type.DefaultStages()
	}
	for _, s := range stages {
		if s == stage {
			return true
		}
	}
	return false
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
