// Package container implements the resource dependency graph: named shared
// services are registered with factories, resolved into live instances in
// topological dependency order with fail-fast initialization, handed out
// behind circuit-breaker protection, and torn down in reverse order at
// shutdown.
package container
