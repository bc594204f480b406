package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/stagemesh/container"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/logging"
	"github.com/hupe1980/stagemesh/memory"
	"github.com/hupe1980/stagemesh/registry"
)

// DefaultMaxIterations bounds the stage loop when the caller does not
// override it.
const DefaultMaxIterations = 5

// Termination is the first-class reason a run ended. Looping control flow is
// an explicit bounded state machine, never an implicit "loop until truthy".
type Termination int

const (
	// TerminatedSuccess means a DELIVER plugin produced the response.
	TerminatedSuccess Termination = iota
	// TerminatedMaxIterations means the loop hit its iteration ceiling
	// without a response.
	TerminatedMaxIterations
	// TerminatedError means a plugin failure routed the run to the ERROR stage.
	TerminatedError
)

// String returns the canonical termination name.
func (t Termination) String() string {
	switch t {
	case TerminatedSuccess:
		return "success"
	case TerminatedMaxIterations:
		return "max-iterations"
	case TerminatedError:
		return "error"
	default:
		return fmt.Sprintf("termination(%d)", int(t))
	}
}

// Result is the outcome of one pipeline execution. Response is always
// non-nil for non-success terminations: either an ERROR-stage recovery value
// or the static fallback.
type Result struct {
	// RunID uniquely identifies the execution.
	RunID string
	// Response is the terminal value returned to the caller.
	Response any
	// Termination is the reason the run ended.
	Termination Termination
	// Iterations is the number of completed full stage passes.
	Iterations int
	// Failure carries the failure record for error terminations.
	Failure *core.FailureInfo
}

// FallbackResponse is the fixed static response returned when the ERROR
// stage cannot produce one. It guarantees the caller always receives some
// structured response, never an unhandled crash.
type FallbackResponse struct {
	Error      string    `json:"error"`
	Message    string    `json:"message"`
	PipelineID string    `json:"pipelineId"`
	Timestamp  time.Time `json:"timestamp"`
	Type       string    `json:"type"`
}

// StaticFallback builds the fixed fallback response for a pipeline.
func StaticFallback(pipelineID string) FallbackResponse {
	return FallbackResponse{
		Error:      "System error occurred",
		Message:    "An unexpected error prevented processing your request.",
		PipelineID: pipelineID,
		Timestamp:  time.Now(),
		Type:       "static_fallback",
	}
}

// Options configures an Engine instance using the functional options pattern.
type Options struct {
	// MaxIterations bounds the stage loop. Defaults to DefaultMaxIterations.
	MaxIterations int
	// MemoryStore persists conversation history across runs.
	// Defaults to an in-memory implementation.
	MemoryStore core.MemoryStore
	// Sink receives a structured observation per plugin execution and per
	// tool / resource operation. Defaults to NoOp.
	Sink core.Sink
	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// WithMaxIterations overrides the iteration ceiling.
func WithMaxIterations(n int) func(o *Options) {
	return func(o *Options) { o.MaxIterations = n }
}

// WithMemoryStore sets the conversation persistence collaborator.
func WithMemoryStore(m core.MemoryStore) func(o *Options) {
	return func(o *Options) { o.MemoryStore = m }
}

// WithSink sets the observability sink.
func WithSink(s core.Sink) func(o *Options) {
	return func(o *Options) { o.Sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Engine drives pipeline executions against a resolved resource container
// and an immutable stage registry. Multiple runs proceed fully in parallel;
// the container is the only structure shared across them and is read-only
// between reconfiguration events.
type Engine struct {
	// mu guards the container/registry pair against reconfiguration swaps.
	mu        sync.RWMutex
	container *container.Container
	registry  *registry.Registry

	// runs tracks in-flight executions for graceful drain.
	runs sync.WaitGroup

	toolsMu sync.RWMutex
	tools   core.ToolMap

	maxIterations int
	memory        core.MemoryStore
	sink          core.Sink
	logger        logging.Logger
}

// New constructs an engine around a resolved container and a built registry.
func New(c *container.Container, r *registry.Registry, optFns ...func(o *Options)) *Engine {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		MemoryStore:   memory.NewInMemoryStore(),
		Sink:          core.NoopSink{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}

	return &Engine{
		container:     c,
		registry:      r,
		tools:         core.ToolMap{},
		maxIterations: opts.MaxIterations,
		memory:        opts.MemoryStore,
		sink:          opts.Sink,
		logger:        opts.Logger,
	}
}

// RegisterTool makes a tool available to plugins via ToolUse / QueueToolUse.
// Register tools before executing runs; a tool registered mid-run becomes
// visible at the next stage boundary.
func (e *Engine) RegisterTool(t core.Tool) {
	e.toolsMu.Lock()
	defer e.toolsMu.Unlock()
	e.tools[t.Name()] = t
}

func (e *Engine) toolSnapshot() core.ToolMap {
	e.toolsMu.RLock()
	defer e.toolsMu.RUnlock()
	snap := make(core.ToolMap, len(e.tools))
	for name, t := range e.tools {
		snap[name] = t
	}
	return snap
}

// Execute runs one pipeline for an inbound message. It is synchronous from
// the caller's perspective: internally a bounded loop of stage executions.
// The returned Result always carries a response; the error is non-nil for
// error and max-iterations terminations and mirrors Result.Termination.
func (e *Engine) Execute(ctx context.Context, message, userID, pipelineID string) (*Result, error) {
	e.mu.RLock()
	c, reg := e.container, e.registry
	e.runs.Add(1)
	e.mu.RUnlock()
	defer e.runs.Done()

	rs := core.NewRunState(message, userID, pipelineID)
	e.logger.Info("Pipeline run started", "run_id", rs.RunID, "pipeline_id", pipelineID, "user_id", userID)

	e.loadConversation(rs)
	rs.AppendConversation("user", message)

	result, err := e.runLoop(ctx, c, reg, rs)

	e.saveConversation(rs)
	e.logger.Info("Pipeline run finished",
		"run_id", rs.RunID,
		"termination", result.Termination.String(),
		"iterations", result.Iterations,
	)

	return result, err
}

// runLoop drives the bounded state machine: fixed stage order, response
// check after DELIVER, iteration ceiling, ERROR dispatch on failure.
func (e *Engine) runLoop(ctx context.Context, c *container.Container, reg *registry.Registry, rs *core.RunState) (*Result, error) {
	for {
		for _, stage := range core.MainStages {
			if err := e.runStage(ctx, c, reg, rs, stage); err != nil {
				return e.terminateWithError(ctx, c, reg, rs, err)
			}
		}
		rs.AdvanceIteration()

		if resp, ok := rs.Response(); ok {
			if s, isString := resp.(string); isString {
				rs.AppendConversation("assistant", s)
			}
			return &Result{
				RunID:       rs.RunID,
				Response:    resp,
				Termination: TerminatedSuccess,
				Iterations:  rs.Iteration(),
			}, nil
		}

		if rs.Iteration() >= e.maxIterations {
			loopErr := &core.MaxIterationsExceededError{Iterations: e.maxIterations}
			rs.SetFailure(core.StageDeliver, "", loopErr)
			resp := e.recoverViaErrorStage(ctx, c, reg, rs)
			return &Result{
				RunID:       rs.RunID,
				Response:    resp,
				Termination: TerminatedMaxIterations,
				Iterations:  rs.Iteration(),
				Failure:     rs.Failure(),
			}, loopErr
		}
	}
}

// runStage executes one stage: plugins sequentially in registration order,
// then the stage's queued tool calls concurrently. A plugin failure skips
// the remaining plugins of the stage and populates the run's failure record.
func (e *Engine) runStage(ctx context.Context, c *container.Container, reg *registry.Registry, rs *core.RunState, stage core.Stage) error {
	if err := ctx.Err(); err != nil {
		return &core.PluginExecutionError{Stage: stage, Plugin: "", Err: err}
	}

	rs.SetCurrentStage(stage)

	plugins := reg.PluginsFor(stage)
	queue := core.NewToolQueue(stage)
	tools := e.toolSnapshot()
	stageStart := time.Now()

	for _, rp := range plugins {
		pctx := core.NewPluginContext(ctx, rs, rp.Descriptor, c, tools, queue, e.sink, e.logger)

		start := time.Now()
		err := executePlugin(rp.Plugin, pctx)
		e.sink.Emit(core.Observation{
			Stage:     stage.String(),
			Name:      rp.Descriptor.Name,
			Kind:      core.ObservationPlugin,
			Duration:  time.Since(start),
			Success:   err == nil,
			ErrorType: errType(err),
		})

		if err != nil {
			rs.SetFailure(stage, rp.Descriptor.Name, err)
			e.logger.Error("Plugin failed, aborting stage", "stage", stage.String(), "plugin", rp.Descriptor.Name, "error", err)
			return &core.PluginExecutionError{Stage: stage, Plugin: rp.Descriptor.Name, Err: err}
		}
	}

	if err := queue.Flush(ctx); err != nil {
		rs.SetFailure(stage, "tool_queue", err)
		e.logger.Error("Queued tool execution failed", "stage", stage.String(), "error", err)
		return &core.PluginExecutionError{Stage: stage, Plugin: "tool_queue", Err: err}
	}

	e.logger.Debug("Stage completed",
		"stage", stage.String(),
		"plugins", len(plugins),
		"iteration", rs.Iteration(),
		"duration", time.Since(stageStart),
	)

	return nil
}

// terminateWithError is the failure path: run ERROR once, never resume the
// main loop.
func (e *Engine) terminateWithError(ctx context.Context, c *container.Container, reg *registry.Registry, rs *core.RunState, cause error) (*Result, error) {
	resp := e.recoverViaErrorStage(ctx, c, reg, rs)
	return &Result{
		RunID:       rs.RunID,
		Response:    resp,
		Termination: TerminatedError,
		Iterations:  rs.Iteration(),
		Failure:     rs.Failure(),
	}, cause
}

// recoverViaErrorStage runs the ERROR stage once and returns its response.
// When the ERROR plugins produce nothing or themselves fail, the static
// fallback is returned instead; there is no retry.
func (e *Engine) recoverViaErrorStage(ctx context.Context, c *container.Container, reg *registry.Registry, rs *core.RunState) any {
	rs.SetCurrentStage(core.StageError)

	queue := core.NewToolQueue(core.StageError)
	tools := e.toolSnapshot()

	for _, rp := range reg.PluginsFor(core.StageError) {
		pctx := core.NewPluginContext(ctx, rs, rp.Descriptor, c, tools, queue, e.sink, e.logger)

		start := time.Now()
		err := executePlugin(rp.Plugin, pctx)
		e.sink.Emit(core.Observation{
			Stage:     core.StageError.String(),
			Name:      rp.Descriptor.Name,
			Kind:      core.ObservationPlugin,
			Duration:  time.Since(start),
			Success:   err == nil,
			ErrorType: errType(err),
		})

		if err != nil {
			e.logger.Error("ERROR-stage plugin failed, falling back to static response", "plugin", rp.Descriptor.Name, "error", err)
			rs.SetFailure(core.StageError, rp.Descriptor.Name, err)
			return StaticFallback(rs.PipelineID)
		}
	}

	if err := queue.Flush(ctx); err != nil {
		e.logger.Error("ERROR-stage queued tools failed, falling back to static response", "error", err)
		return StaticFallback(rs.PipelineID)
	}

	if resp, ok := rs.Response(); ok {
		return resp
	}
	return StaticFallback(rs.PipelineID)
}

// Reconfigure swaps in a freshly validated and resolved container/registry
// pair. The swap is serialized against all in-flight runs completing
// (graceful drain, not interruption); the previous container is shut down
// afterwards.
func (e *Engine) Reconfigure(ctx context.Context, c *container.Container, r *registry.Registry) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runs.Wait()

	old := e.container
	e.container = c
	e.registry = r

	if old != nil && old != c {
		if err := old.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown previous container: %w", err)
		}
	}

	e.logger.Info("Engine reconfigured")

	return nil
}

// Shutdown drains in-flight runs and tears down the container.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runs.Wait()

	if e.container == nil {
		return nil
	}
	return e.container.Shutdown(ctx)
}

func (e *Engine) loadConversation(rs *core.RunState) {
	if e.memory == nil {
		return
	}
	entries, err := e.memory.LoadConversation(rs.ConversationKey())
	if err != nil {
		e.logger.Warn("Failed to load conversation, starting empty", "key", rs.ConversationKey(), "error", err)
		return
	}
	rs.SetConversation(entries)
}

func (e *Engine) saveConversation(rs *core.RunState) {
	if e.memory == nil {
		return
	}
	if err := e.memory.SaveConversation(rs.ConversationKey(), rs.Conversation()); err != nil {
		e.logger.Warn("Failed to save conversation", "key", rs.ConversationKey(), "error", err)
	}
}

// executePlugin invokes a plugin with panic recovery so a misbehaving plugin
// surfaces as a failure record instead of tearing down the run goroutine.
func executePlugin(p core.Plugin, pctx *core.PluginContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return p.Execute(pctx)
}

func errType(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T", err)
}
