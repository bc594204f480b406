// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer StageMeshLogger with contextual
// helpers (run, pipeline, component) and domain specific logging helpers for
// plugins, tools, stages and resources.
package logging
