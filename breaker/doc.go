// Package breaker implements the per-resource-kind circuit breaker guarding
// calls made through the resource container. While a kind's circuit is open,
// calls fail immediately with a core.CircuitOpenError without attempting the
// underlying operation; after the recovery timeout a single trial call is
// allowed through (half-open) and its outcome closes or re-opens the circuit.
package breaker
