package core

import "fmt"

// PluginType is a closed tagged variant categorizing plugins. Stage-default
// lookup via DefaultStages is a total function over the variant; there is no
// open-ended inheritance.
type PluginType int

const (
	// PluginTypeResource marks plugins that expose or manage a resource and
	// carry no stage default of their own.
	PluginTypeResource PluginType = iota
	// PluginTypeTool marks action plugins; default stage DO.
	PluginTypeTool
	// PluginTypePrompt marks reasoning plugins; default stage THINK.
	PluginTypePrompt
	// PluginTypeAdapter marks ingress/egress plugins; default stages PARSE and DELIVER.
	PluginTypeAdapter
	// PluginTypeFailure marks recovery plugins; default stage ERROR.
	PluginTypeFailure
)

// String returns the canonical lower-case type name.
func (t PluginType) String() string {
	switch t {
	case PluginTypeResource:
		return "resource"
	case PluginTypeTool:
		return "tool"
	case PluginTypePrompt:
		return "prompt"
	case PluginTypeAdapter:
		return "adapter"
	case PluginTypeFailure:
		return "failure"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// ParsePluginType converts a canonical type name into a PluginType value.
func ParsePluginType(name string) (PluginType, error) {
	switch name {
	case "resource":
		return PluginTypeResource, nil
	case "tool":
		return PluginTypeTool, nil
	case "prompt":
		return PluginTypePrompt, nil
	case "adapter":
		return PluginTypeAdapter, nil
	case "failure":
		return PluginTypeFailure, nil
	default:
		return 0, fmt.Errorf("unknown plugin type %q", name)
	}
}

// DefaultStages returns the stage assignment implied by the plugin type, or
// nil when the type carries no default (PluginTypeResource).
func (t PluginType) DefaultStages() []Stage {
	switch t {
	case PluginTypeTool:
		return []Stage{StageDo}
	case PluginTypePrompt:
		return []Stage{StageThink}
	case PluginTypeAdapter:
		return []Stage{StageParse, StageDeliver}
	case PluginTypeFailure:
		return []Stage{StageError}
	default:
		return nil
	}
}

// PluginDescriptor is the configuration-time description of a plugin. It is
// immutable once registered; stage assignment precedence (explicit Stages >
// type default > classifier) is applied exactly once at registration.
type PluginDescriptor struct {
	// Name is the unique plugin identifier.
	Name string
	// Type categorizes the plugin for stage-default lookup.
	Type PluginType
	// Stages is the explicit stage assignment. When non-empty it always wins
	// over the type default.
	Stages []Stage
	// Dependencies names the resources this plugin requires.
	Dependencies []string
	// Produces declares the stageData keys this plugin writes, used by the
	// dependency-phase lint to catch PARSE plugins consuming DO output.
	Produces []string
}

// Plugin is a unit of stage-bound logic invoked once per iteration for every
// stage it is registered on. Any error returned from Execute propagates to
// the orchestrator untouched; the PluginContext never swallows plugin errors.
type Plugin interface {
	// Name returns the unique plugin identifier, matching its descriptor.
	Name() string

	// Execute runs the plugin against the shared run state. The supplied
	// context is freshly constructed per invocation and bound to the current
	// stage.
	Execute(pctx *PluginContext) error
}

// PluginFunc adapts a plain function into a Plugin.
type PluginFunc struct {
	PluginName string
	Fn         func(pctx *PluginContext) error
}

// Name returns the plugin identifier.
func (p PluginFunc) Name() string { return p.PluginName }

// Execute invokes the wrapped function.
func (p PluginFunc) Execute(pctx *PluginContext) error { return p.Fn(pctx) }

// NewPluginFunc wraps fn as a named Plugin.
func NewPluginFunc(name string, fn func(pctx *PluginContext) error) PluginFunc {
	return PluginFunc{PluginName: name, Fn: fn}
}
