package core

import (
	"context"
	"fmt"
)

// ResourceKind categorizes a resource for circuit-breaker defaults.
type ResourceKind int

const (
	// ResourceKindOther covers resources with no network/disk boundary.
	ResourceKindOther ResourceKind = iota
	// ResourceKindDatabase covers database-backed resources.
	ResourceKindDatabase
	// ResourceKindExternalAPI covers remote HTTP/SDK clients (LLM providers etc.).
	ResourceKindExternalAPI
	// ResourceKindFilesystem covers local disk backed resources.
	ResourceKindFilesystem
)

// String returns the canonical kind name.
func (k ResourceKind) String() string {
	switch k {
	case ResourceKindDatabase:
		return "database"
	case ResourceKindExternalAPI:
		return "external-api"
	case ResourceKindFilesystem:
		return "filesystem"
	case ResourceKindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseResourceKind converts a canonical kind name into a ResourceKind value.
func ParseResourceKind(name string) (ResourceKind, error) {
	switch name {
	case "database":
		return ResourceKindDatabase, nil
	case "external-api":
		return ResourceKindExternalAPI, nil
	case "filesystem":
		return ResourceKindFilesystem, nil
	case "other", "":
		return ResourceKindOther, nil
	default:
		return 0, fmt.Errorf("unknown resource kind %q", name)
	}
}

// ResourceDescriptor is the configuration-time description of a shared
// service. Immutable after container build.
type ResourceDescriptor struct {
	// Name is the unique resource key.
	Name string
	// Kind selects circuit-breaker defaults for this resource.
	Kind ResourceKind
	// Dependencies names other resources this one needs, injected after
	// construction in topological order.
	Dependencies []string
}

// Resource is a shared, long-lived service managed by the container for the
// process lifetime. Implementations that need concurrent use must serialize
// internally; the engine imposes no global lock.
type Resource interface {
	// Name returns the unique resource key, matching its descriptor.
	Name() string

	// Initialize prepares the resource for use. It is called exactly once,
	// strictly after all declared dependencies have been initialized and
	// injected. A non-nil error aborts container resolution fail-fast.
	Initialize(ctx context.Context) error

	// HealthCheck verifies live connectivity. Failures during resolution are
	// fatal; failures during the background runtime validation phase trip the
	// circuit breaker instead.
	HealthCheck(ctx context.Context) error

	// Shutdown releases held connections / handles. Called in reverse
	// dependency order at teardown; errors are collected, not short-circuited.
	Shutdown(ctx context.Context) error
}

// DependencyReceiver is implemented by resources that want their declared
// dependencies handed to them after construction. The container calls
// InjectDependency once per declared dependency, before Initialize, always
// with an already-initialized instance.
type DependencyReceiver interface {
	InjectDependency(name string, dep Resource)
}

// ResourceFactory constructs an uninitialized resource instance for a
// descriptor. Factories must not perform I/O; that belongs in Initialize.
type ResourceFactory func() (Resource, error)

// ResourceProvider hands out initialized resources by name. The container
// implements it with circuit-breaker protection at the resource boundary.
type ResourceProvider interface {
	// Acquire returns the initialized resource, refusing with a
	// CircuitOpenError while the breaker for its kind is open.
	Acquire(name string) (Resource, error)

	// Invoke runs op against the named resource under breaker accounting:
	// refused while open, and the op outcome feeds the failure counters.
	Invoke(name string, op func(Resource) error) error
}
