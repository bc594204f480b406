package container

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/stagemesh/breaker"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
)

// entry pairs a descriptor and factory with the live instance once resolved.
type entry struct {
	desc     core.ResourceDescriptor
	factory  core.ResourceFactory
	instance core.Resource
}

// Options configures a Container.
type Options struct {
	// Breaker guards resource access. Defaults to a breaker with per-kind
	// default settings.
	Breaker *breaker.Breaker
	// Logger receives lifecycle logs. Defaults to NoOp.
	Logger logging.Logger
}

// Container holds named shared resources and resolves their declared
// dependencies. After Resolve it is effectively read-only (lookups only)
// until Shutdown; it is the only mutable structure shared across runs.
type Container struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string // registration order, drives deterministic traversal
	sorted   []string // topological order, set by Resolve
	resolved bool

	breaker *breaker.Breaker
	logger  logging.Logger
}

// New constructs an empty container.
func New(optFns ...func(o *Options)) *Container {
	opts := Options{
		Breaker: breaker.New(),
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Container{
		entries: map[string]*entry{},
		breaker: opts.Breaker,
		logger:  opts.Logger,
	}
}

// WithBreaker sets the circuit breaker guarding resource access.
func WithBreaker(b *breaker.Breaker) func(o *Options) {
	return func(o *Options) { o.Breaker = b }
}

// WithLogger sets the lifecycle logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Breaker returns the circuit breaker guarding this container.
func (c *Container) Breaker() *breaker.Breaker { return c.breaker }

// Register adds a resource descriptor and its factory. Registration must
// complete before Resolve; duplicate names are rejected.
func (c *Container) Register(desc core.ResourceDescriptor, factory core.ResourceFactory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return fmt.Errorf("register resource %q: container already resolved", desc.Name)
	}
	if desc.Name == "" {
		return errors.New("register resource: name must not be empty")
	}
	if factory == nil {
		return fmt.Errorf("register resource %q: factory must not be nil", desc.Name)
	}
	if _, exists := c.entries[desc.Name]; exists {
		return fmt.Errorf("register resource %q: duplicate name", desc.Name)
	}

	c.entries[desc.Name] = &entry{desc: desc, factory: factory}
	c.order = append(c.order, desc.Name)

	return nil
}

// Descriptors returns the registered descriptors in registration order.
func (c *Container) Descriptors() []core.ResourceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.ResourceDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].desc)
	}
	return out
}

// Resolve builds the dependency graph, topologically sorts it, instantiates
// every resource strictly in sorted order and initializes each with fail-fast
// semantics: the first construction, injection target, initialization or
// health-check failure aborts resolution and reports exactly which resource
// failed. On success the initialized instances are returned in their
// initialization order.
func (c *Container) Resolve(ctx context.Context) ([]core.Resource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return nil, errors.New("container already resolved")
	}

	sorted, err := SortDescriptors(c.descriptorsLocked())
	if err != nil {
		return nil, err
	}

	instances := make([]core.Resource, 0, len(sorted))
	for _, name := range sorted {
		ent := c.entries[name]

		instance, err := ent.factory()
		if err != nil {
			return nil, fmt.Errorf("construct resource %q: %w", name, err)
		}

		// Post-construction injection: every declared dependency is already
		// built and initialized because of the topological order.
		if receiver, ok := instance.(core.DependencyReceiver); ok {
			for _, depName := range ent.desc.Dependencies {
				receiver.InjectDependency(depName, c.entries[depName].instance)
			}
		}

		if err := instance.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize resource %q: %w", name, err)
		}
		if err := instance.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("health check for resource %q: %w", name, err)
		}

		ent.instance = instance
		instances = append(instances, instance)
		c.logger.Info("Resource initialized", "resource", name, "kind", ent.desc.Kind.String())
	}

	c.sorted = sorted
	c.resolved = true

	return instances, nil
}

func (c *Container) descriptorsLocked() []core.ResourceDescriptor {
	out := make([]core.ResourceDescriptor, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].desc)
	}
	return out
}

// Get returns the initialized resource by name without breaker checks. Use
// Acquire / Invoke for calls crossing a network/database/filesystem boundary.
func (c *Container) Get(name string) (core.Resource, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ent, ok := c.entries[name]
	if !ok || ent.instance == nil {
		return nil, fmt.Errorf("get resource %q: %w", name, core.ErrResourceNotFound)
	}
	return ent.instance, nil
}

// Acquire implements core.ResourceProvider. It refuses the lookup with a
// CircuitOpenError while the breaker for the resource's kind is open and the
// recovery timeout has not elapsed. The lookup is accounting-neutral: it
// never consumes the half-open trial slot, so mixing lookups with Invoke
// cannot stall recovery. Operations on the returned resource must go through
// Invoke to feed the breaker counters.
func (c *Container) Acquire(name string) (core.Resource, error) {
	c.mu.RLock()
	ent, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok || ent.instance == nil {
		return nil, fmt.Errorf("acquire resource %q: %w", name, core.ErrResourceNotFound)
	}
	if err := c.breaker.Allow(name, ent.desc.Kind); err != nil {
		return nil, err
	}
	return ent.instance, nil
}

// Invoke implements core.ResourceProvider. It runs op against the named
// resource under breaker accounting: refused while open, and the op outcome
// feeds the failure counters.
func (c *Container) Invoke(name string, op func(core.Resource) error) error {
	c.mu.RLock()
	ent, ok := c.entries[name]
	c.mu.RUnlock()

	if !ok || ent.instance == nil {
		return fmt.Errorf("invoke resource %q: %w", name, core.ErrResourceNotFound)
	}
	if err := c.breaker.AllowTrial(name, ent.desc.Kind); err != nil {
		return err
	}

	err := op(ent.instance)
	c.breaker.Record(name, ent.desc.Kind, err)

	return err
}

// Shutdown tears resources down in reverse initialization order. Individual
// shutdown errors do not stop the walk; all of them are collected and
// returned joined so teardown never leaves later resources half-closed
// because an earlier one failed.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.sorted) - 1; i >= 0; i-- {
		name := c.sorted[i]
		ent := c.entries[name]
		if ent.instance == nil {
			continue
		}
		if err := ent.instance.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown resource %q: %w", name, err))
			c.logger.Error("Resource shutdown failed", "resource", name, "error", err)
			continue
		}
		ent.instance = nil
		c.logger.Info("Resource shut down", "resource", name)
	}

	c.resolved = false
	c.sorted = nil

	return errors.Join(errs...)
}

// SortDescriptors topologically sorts resource descriptors by their declared
// dependencies, verifying every dependency name resolves. A cycle is reported
// as a core.CircularDependencyError naming the cycle; the caller is
// guaranteed that no resource has been instantiated when it is returned.
func SortDescriptors(descs []core.ResourceDescriptor) ([]string, error) {
	byName := make(map[string]core.ResourceDescriptor, len(descs))
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
		names = append(names, d.Name)
	}

	for _, d := range descs {
		for _, dep := range d.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("resource %q depends on unknown resource %q: %w", d.Name, dep, core.ErrResourceNotFound)
			}
		}
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // done
	)
	color := make(map[string]int, len(names))
	var sorted []string
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			// Extract the cycle from the DFS path for the error message.
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return &core.CircularDependencyError{Cycle: cycle}
		}

		color[name] = gray
		path = append(path, name)
		for _, dep := range byName[name].Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		sorted = append(sorted, name)

		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}
