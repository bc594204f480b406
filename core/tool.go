package core

// Tool defines the interface for capabilities plugins can invoke through the
// PluginContext, either synchronously (ToolUse) or deferred to the stage
// boundary (QueueToolUse).
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define a proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be thread-safe; queued calls execute concurrently
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Parameters returns a JSON-schema-like map describing the expected
	// argument format.
	Parameters() map[string]any

	// Call executes the tool against the run's PluginContext with already
	// structured arguments.
	Call(pctx *PluginContext, args map[string]any) (any, error)
}

// ToolProvider hands out tools by name. The engine implements it with its
// registered tool set.
type ToolProvider interface {
	Tool(name string) (Tool, bool)
}

// ToolMap is a trivial ToolProvider backed by a map.
type ToolMap map[string]Tool

// Tool returns the named tool and whether it exists.
func (m ToolMap) Tool(name string) (Tool, bool) {
	t, ok := m[name]
	return t, ok
}
