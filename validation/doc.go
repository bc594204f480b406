// Package validation implements the three-phase startup validation pipeline:
// a syntax phase checking each descriptor in isolation, a dependency phase
// building the full resource and plugin graphs, and a background runtime
// phase performing live health checks. Phase one and two failures are fatal
// to startup; runtime failures only trip the circuit breaker and degrade the
// affected resources.
package validation
