// Package registry implements the stage registry: an ordered mapping from
// stage to the plugins assigned to it. Registration goes through a builder
// that applies the stage-assignment precedence (explicit stages, then plugin
// type defaults, then an advisory classifier) exactly once; the built
// registry is immutable for the lifetime of a run configuration. Plugins
// execute in registration order within a stage; there is no priority
// resolution and no reordering.
package registry
