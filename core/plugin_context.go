package core

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/stagemesh/logging"
)

// PluginContext is the per-execution object handed to every plugin. It
// mediates all reads/writes against one shared RunState, resource lookups
// through the container, and tool invocation. A fresh context is constructed
// for each plugin execution, bound to the stage that is currently running.
//
// The context enforces the engine's only authorization rule (responses may
// only be set from DELIVER, or from ERROR during recovery) and otherwise
// stays out of the way: errors returned by the plugin's Execute method
// propagate to the orchestrator untouched.
type PluginContext struct {
	// Context is the ambient cancellation context of the run.
	Context context.Context
	// Run is the shared state of the current pipeline execution.
	Run *RunState
	// Descriptor describes the plugin this context was built for.
	Descriptor PluginDescriptor

	resources ResourceProvider
	tools     ToolProvider
	queue     *ToolQueue
	sink      Sink

	*loggerAdapter
}

// NewPluginContext constructs a context for one plugin execution. The queue
// is shared by all plugins of the current stage so their deferred tool calls
// flush together at the stage boundary.
func NewPluginContext(
	ctx context.Context,
	run *RunState,
	desc PluginDescriptor,
	resources ResourceProvider,
	tools ToolProvider,
	queue *ToolQueue,
	sink Sink,
	logger logging.Logger,
) *PluginContext {
	if sink == nil {
		sink = NoopSink{}
	}
	return &PluginContext{
		Context:       ctx,
		Run:           run,
		Descriptor:    desc,
		resources:     resources,
		tools:         tools,
		queue:         queue,
		sink:          sink,
		loggerAdapter: newLoggerAdapter(logger),
	}
}

// Done returns a channel closed when the run's context is cancelled.
func (pc *PluginContext) Done() <-chan struct{} { return pc.Context.Done() }

// Err returns the cancellation error (if any) from the run's context.
func (pc *PluginContext) Err() error { return pc.Context.Err() }

// Stage returns the stage the run is presently executing.
func (pc *PluginContext) Stage() Stage { return pc.Run.CurrentStage() }

// Iteration returns the zero-based iteration counter of the run.
func (pc *PluginContext) Iteration() int { return pc.Run.Iteration() }

// Message returns the inbound user message that started the run.
func (pc *PluginContext) Message() string { return pc.Run.Message }

// Store writes a stageData key. Unrestricted from any stage; last-write-wins
// within the shared run state.
func (pc *PluginContext) Store(key string, value any) { pc.Run.Store(key, value) }

// Load returns the stageData value and existence flag for a key.
func (pc *PluginContext) Load(key string) (any, bool) { return pc.Run.Load(key) }

// LoadOr returns the stageData value for a key, or def when unset.
func (pc *PluginContext) LoadOr(key string, def any) any {
	if v, ok := pc.Run.Load(key); ok {
		return v
	}
	return def
}

// Has reports whether a stageData key has been stored during this run.
func (pc *PluginContext) Has(key string) bool { return pc.Run.Has(key) }

// SetResponse records the terminal response. Only callable while the current
// stage is DELIVER (or ERROR, for recovery plugins); any other stage gets a
// StagePermissionError naming the offending stage.
func (pc *PluginContext) SetResponse(value any) error { return pc.Run.SetResponse(value) }

// HasResponse reports whether a terminal response has been produced.
func (pc *PluginContext) HasResponse() bool { return pc.Run.HasResponse() }

// AddConversationEntry appends an entry to the run's conversation history.
func (pc *PluginContext) AddConversationEntry(role, content string) {
	pc.Run.AppendConversation(role, content)
}

// GetResource returns an initialized resource by name. The lookup fails fast
// with a CircuitOpenError while the breaker for the resource's kind is open,
// but it is accounting-neutral: failures of operations performed on the
// returned handle do not feed the breaker counters. Operations that cross a
// network/database/filesystem boundary go through UseResource, which records
// outcomes and drives the open/half-open/closed transitions.
func (pc *PluginContext) GetResource(name string) (Resource, error) {
	if pc.resources == nil {
		return nil, fmt.Errorf("get resource %q: %w", name, ErrResourceNotFound)
	}
	return pc.resources.Acquire(name)
}

// UseResource runs op against the named resource under breaker accounting and
// emits a resource observation. Prefer it over GetResource for operations
// that cross a network/database/filesystem boundary, so failures feed the
// breaker counters.
func (pc *PluginContext) UseResource(name string, op func(Resource) error) error {
	if pc.resources == nil {
		return fmt.Errorf("use resource %q: %w", name, ErrResourceNotFound)
	}
	start := time.Now()
	err := pc.resources.Invoke(name, op)
	pc.sink.Emit(Observation{
		Stage:     pc.Stage().String(),
		Name:      name,
		Kind:      ObservationResource,
		Duration:  time.Since(start),
		Success:   err == nil,
		ErrorType: errorType(err),
	})
	return err
}

// ToolUse synchronously invokes a registered tool and waits for its result.
func (pc *PluginContext) ToolUse(name string, params map[string]any) (any, error) {
	tool, ok := pc.lookupTool(name)
	if !ok {
		return nil, fmt.Errorf("tool use %q: %w", name, ErrToolNotFound)
	}
	start := time.Now()
	result, err := callTool(tool, pc, params)
	pc.sink.Emit(Observation{
		Stage:     pc.Stage().String(),
		Name:      name,
		Kind:      ObservationTool,
		Duration:  time.Since(start),
		Success:   err == nil,
		ErrorType: errorType(err),
	})
	if err != nil {
		pc.LogWarn("Tool execution failed", "tool", name, "error", err)
	}
	return result, err
}

// QueueToolUse defers a tool invocation to the current stage's boundary. All
// calls queued during the stage execute concurrently and are awaited together
// before the next stage begins; results land in stageData under deterministic
// keys derived from call order (see ToolResultKey).
func (pc *PluginContext) QueueToolUse(name string, params map[string]any) error {
	if pc.queue == nil {
		return fmt.Errorf("queue tool use %q: no stage queue bound", name)
	}
	tool, ok := pc.lookupTool(name)
	if !ok {
		return fmt.Errorf("queue tool use %q: %w", name, ErrToolNotFound)
	}
	pc.queue.enqueue(tool, pc, params)
	return nil
}

func (pc *PluginContext) lookupTool(name string) (Tool, bool) {
	if pc.tools == nil {
		return nil, false
	}
	return pc.tools.Tool(name)
}

// callTool invokes a tool with panic recovery so a misbehaving tool surfaces
// as an error instead of tearing down the run goroutine.
func callTool(tool Tool, pctx *PluginContext, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Call(pctx, params)
}

// errorType returns the Go type name of err for observation records.
func errorType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
