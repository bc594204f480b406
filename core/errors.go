package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResourceNotFound is returned when a resource name does not resolve to
	// a registered instance in the container.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrToolNotFound is returned when a tool name does not resolve to a
	// registered tool.
	ErrToolNotFound = errors.New("tool not found")
)

// CircularDependencyError reports a cycle in a dependency graph. Cycle holds
// the participating names in traversal order, with the first name repeated at
// the end.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
}

// StagePermissionError is returned when a plugin attempts a stage-restricted
// operation from the wrong stage. It is the single authorization check in the
// engine: SetResponse from anywhere but DELIVER (or ERROR recovery).
type StagePermissionError struct {
	Stage  Stage
	Reason string
}

func (e *StagePermissionError) Error() string {
	return fmt.Sprintf("stage permission denied in %s: %s", e.Stage, e.Reason)
}

// PluginExecutionError wraps any error raised by a plugin during stage
// execution, carrying the stage and plugin name for the failure record.
type PluginExecutionError struct {
	Stage  Stage
	Plugin string
	Err    error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin %s failed in stage %s: %v", e.Plugin, e.Stage, e.Err)
}

func (e *PluginExecutionError) Unwrap() error { return e.Err }

// CircuitOpenError is returned when a resource call is refused because the
// circuit breaker for its kind is open. The underlying operation is never
// attempted.
type CircuitOpenError struct {
	Resource string
	Kind     ResourceKind
}

func (e *CircuitOpenError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("circuit open for %s resource %q", e.Kind, e.Resource)
	}
	return fmt.Sprintf("circuit open for %s resources", e.Kind)
}

// MaxIterationsExceededError is returned when the pipeline loop completed its
// iteration budget without any DELIVER plugin producing a response.
type MaxIterationsExceededError struct {
	Iterations int
}

func (e *MaxIterationsExceededError) Error() string {
	return fmt.Sprintf("pipeline did not terminate within %d iterations", e.Iterations)
}
