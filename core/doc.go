// Package core contains the foundational types and interfaces of StageMesh:
// stages, run state, plugin and resource descriptors, the PluginContext passed
// to every plugin, and the engine's error taxonomy. Higher-level packages
// (engine, container, registry, validation) build on these primitives without
// introducing import cycles.
package core
