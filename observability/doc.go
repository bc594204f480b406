// Package observability provides core.Sink implementations for the engine's
// structured execution events: a logging sink backed by the logging package,
// a fan-out MultiSink, and (under observability/prom) a Prometheus-backed
// sink. The engine emits one observation per plugin execution and per tool /
// resource operation; storage and transport stay behind the Sink interface.
package observability
