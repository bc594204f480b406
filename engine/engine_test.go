package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/stagemesh/container"
	"github.com/hupe1980/stagemesh/core"
	"github.com/hupe1980/stagemesh/internal/testutil"
	"github.com/hupe1980/stagemesh/memory"
	"github.com/hupe1980/stagemesh/observability"
	"github.com/hupe1980/stagemesh/registry"
)

// plugin is a shorthand for registering a PluginFunc on explicit stages.
type plugin struct {
	name   string
	stages []core.Stage
	fn     func(pctx *core.PluginContext) error
}

func buildRegistry(t *testing.T, plugins ...plugin) *registry.Registry {
	t.Helper()
	b := registry.NewBuilder()
	for _, p := range plugins {
		desc := core.PluginDescriptor{Name: p.name, Type: core.PluginTypeTool, Stages: p.stages}
		require.NoError(t, b.Register(desc, core.NewPluginFunc(p.name, p.fn)))
	}
	return b.Build()
}

func emptyContainer(t *testing.T) *container.Container {
	t.Helper()
	c := container.New()
	_, err := c.Resolve(context.Background())
	require.NoError(t, err)
	return c
}

func deliverPlugin(response any) plugin {
	return plugin{
		name:   "responder",
		stages: []core.Stage{core.StageDeliver},
		fn: func(pctx *core.PluginContext) error {
			return pctx.SetResponse(response)
		},
	}
}

func errorHandler(response any) plugin {
	return plugin{
		name:   "error_handler",
		stages: []core.Stage{core.StageError},
		fn: func(pctx *core.PluginContext) error {
			return pctx.SetResponse(response)
		},
	}
}

func TestEngine_HappyPath(t *testing.T) {
	var visited []core.Stage
	var mu sync.Mutex
	record := func(name string, stage core.Stage) plugin {
		return plugin{name: name, stages: []core.Stage{stage}, fn: func(pctx *core.PluginContext) error {
			mu.Lock()
			visited = append(visited, pctx.Stage())
			mu.Unlock()
			return nil
		}}
	}

	reg := buildRegistry(t,
		record("p1", core.StageParse),
		record("p2", core.StageThink),
		record("p3", core.StageDo),
		record("p4", core.StageReview),
		deliverPlugin("all done"),
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "hi", "u1", "pipe")
	require.NoError(t, err)

	assert.Equal(t, TerminatedSuccess, result.Termination)
	assert.Equal(t, "all done", result.Response)
	assert.Equal(t, 1, result.Iterations)
	assert.Nil(t, result.Failure)
	assert.NotEmpty(t, result.RunID)

	// Stages ran in the fixed order.
	assert.Equal(t, []core.Stage{core.StageParse, core.StageThink, core.StageDo, core.StageReview}, visited)
}

func TestEngine_StageDataFlowsAcrossStages(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "writer", stages: []core.Stage{core.StageParse}, fn: func(pctx *core.PluginContext) error {
			pctx.Store("parse.value", pctx.Message()+"!")
			return nil
		}},
		plugin{name: "responder", stages: []core.Stage{core.StageDeliver}, fn: func(pctx *core.PluginContext) error {
			v, _ := pctx.Load("parse.value")
			return pctx.SetResponse(v)
		}},
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "hello", "u1", "pipe")
	require.NoError(t, err)
	assert.Equal(t, "hello!", result.Response)
}

func TestEngine_QueuedToolsFlushAtStageBoundary(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "enqueuer", stages: []core.Stage{core.StageDo}, fn: func(pctx *core.PluginContext) error {
			return pctx.QueueToolUse("doubler", map[string]any{"n": 21})
		}},
		plugin{name: "responder", stages: []core.Stage{core.StageDeliver}, fn: func(pctx *core.PluginContext) error {
			v, ok := pctx.Load(core.ToolResultKey(core.StageDo, 0, "doubler"))
			if !ok {
				return errors.New("tool result missing")
			}
			return pctx.SetResponse(v)
		}},
	)
	e := New(emptyContainer(t), reg)
	e.RegisterTool(&testutil.StubTool{ToolName: "doubler", CallFn: func(_ *core.PluginContext, args map[string]any) (any, error) {
		return args["n"].(int) * 2, nil
	}})

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.NoError(t, err)
	assert.Equal(t, 42, result.Response)
}

func TestEngine_PluginFailureRoutesToErrorStage(t *testing.T) {
	boom := errors.New("boom")
	var reviewRan bool

	reg := buildRegistry(t,
		plugin{name: "faulty", stages: []core.Stage{core.StageDo}, fn: func(*core.PluginContext) error {
			return boom
		}},
		plugin{name: "reviewer", stages: []core.Stage{core.StageReview}, fn: func(*core.PluginContext) error {
			reviewRan = true
			return nil
		}},
		errorHandler("recovered response"),
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)

	var execErr *core.PluginExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, core.StageDo, execErr.Stage)
	assert.Equal(t, "faulty", execErr.Plugin)
	assert.ErrorIs(t, err, boom)

	// The failing stage aborted the pass; REVIEW never ran.
	assert.False(t, reviewRan)

	assert.Equal(t, TerminatedError, result.Termination)
	assert.Equal(t, "recovered response", result.Response)
	require.NotNil(t, result.Failure)
	assert.Equal(t, core.StageDo, result.Failure.Stage)
	assert.Equal(t, "faulty", result.Failure.PluginName)
}

func TestEngine_ErrorStageFailureYieldsStaticFallback(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "faulty", stages: []core.Stage{core.StageParse}, fn: func(*core.PluginContext) error {
			return errors.New("primary failure")
		}},
		plugin{name: "broken_handler", stages: []core.Stage{core.StageError}, fn: func(*core.PluginContext) error {
			return errors.New("handler also failed")
		}},
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)
	assert.Equal(t, TerminatedError, result.Termination)

	fallback, ok := result.Response.(FallbackResponse)
	require.True(t, ok)
	assert.Equal(t, "System error occurred", fallback.Error)
	assert.Equal(t, "pipe", fallback.PipelineID)
	assert.Equal(t, "static_fallback", fallback.Type)
	assert.False(t, fallback.Timestamp.IsZero())
}

func TestEngine_NoErrorPluginsYieldsStaticFallback(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "faulty", stages: []core.Stage{core.StageParse}, fn: func(*core.PluginContext) error {
			return errors.New("nope")
		}},
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)

	_, ok := result.Response.(FallbackResponse)
	assert.True(t, ok)
}

func TestEngine_PanickingPluginIsAFailure(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "bomb", stages: []core.Stage{core.StageThink}, fn: func(*core.PluginContext) error {
			panic("kaboom")
		}},
		errorHandler("caught"),
	)
	e := New(emptyContainer(t), reg)

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, TerminatedError, result.Termination)
	assert.Equal(t, "caught", result.Response)
}

func TestEngine_MaxIterationsTermination(t *testing.T) {
	var passes int
	reg := buildRegistry(t,
		plugin{name: "counter", stages: []core.Stage{core.StageDo}, fn: func(*core.PluginContext) error {
			passes++
			return nil
		}},
		errorHandler("gave up"),
	)
	e := New(emptyContainer(t), reg, WithMaxIterations(3))

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)

	var loopErr *core.MaxIterationsExceededError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, 3, loopErr.Iterations)

	assert.Equal(t, TerminatedMaxIterations, result.Termination)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, 3, passes)
	assert.Equal(t, "gave up", result.Response)
}

func TestEngine_RespondsOnExactFinalIteration(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "late_responder", stages: []core.Stage{core.StageDeliver}, fn: func(pctx *core.PluginContext) error {
			// Zero-based counter: iteration 2 is the third and final pass.
			if pctx.Iteration() < 2 {
				return nil
			}
			return pctx.SetResponse("just in time")
		}},
	)
	e := New(emptyContainer(t), reg, WithMaxIterations(3))

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.NoError(t, err)
	assert.Equal(t, TerminatedSuccess, result.Termination)
	assert.Equal(t, "just in time", result.Response)
	assert.Equal(t, 3, result.Iterations)
}

func TestEngine_ConversationPersistence(t *testing.T) {
	store := memory.NewInMemoryStore()
	require.NoError(t, store.SaveConversation("u1_pipe", []core.ConversationEntry{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}))

	reg := buildRegistry(t,
		plugin{name: "historian", stages: []core.Stage{core.StageDeliver}, fn: func(pctx *core.PluginContext) error {
			return pctx.SetResponse(fmt.Sprintf("seen %d entries", len(pctx.Run.Conversation())))
		}},
	)
	e := New(emptyContainer(t), reg, WithMemoryStore(store))

	result, err := e.Execute(context.Background(), "new question", "u1", "pipe")
	require.NoError(t, err)

	// Two loaded entries plus the new user message.
	assert.Equal(t, "seen 3 entries", result.Response)

	saved, err := store.LoadConversation("u1_pipe")
	require.NoError(t, err)
	require.Len(t, saved, 4)
	assert.Equal(t, "new question", saved[2].Content)
	assert.Equal(t, "assistant", saved[3].Role)
	assert.Equal(t, "seen 3 entries", saved[3].Content)
}

func TestEngine_ConcurrentRunsAreIsolated(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "writer", stages: []core.Stage{core.StageParse}, fn: func(pctx *core.PluginContext) error {
			pctx.Store("msg", pctx.Message())
			return nil
		}},
		plugin{name: "responder", stages: []core.Stage{core.StageDeliver}, fn: func(pctx *core.PluginContext) error {
			v, _ := pctx.Load("msg")
			return pctx.SetResponse(v)
		}},
	)
	e := New(emptyContainer(t), reg)

	const runs = 16
	var wg sync.WaitGroup
	results := make([]string, runs)
	errs := make([]error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("message-%d", i)
			result, err := e.Execute(context.Background(), msg, fmt.Sprintf("user-%d", i), "pipe")
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = result.Response.(string)
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("message-%d", i), results[i])
	}
}

func TestEngine_ObservationsEmittedPerPlugin(t *testing.T) {
	sink := observability.NewCollectSink()
	reg := buildRegistry(t,
		plugin{name: "worker", stages: []core.Stage{core.StageDo}, fn: func(*core.PluginContext) error { return nil }},
		deliverPlugin("ok"),
	)
	e := New(emptyContainer(t), reg, WithSink(sink))

	_, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.NoError(t, err)

	obs := sink.Collected()
	require.Len(t, obs, 2)
	assert.Equal(t, "worker", obs[0].Name)
	assert.Equal(t, core.StageDo.String(), obs[0].Stage)
	assert.Equal(t, core.ObservationPlugin, obs[0].Kind)
	assert.True(t, obs[0].Success)
	assert.Equal(t, "responder", obs[1].Name)
}

func TestEngine_ToolQueueFailureAbortsStage(t *testing.T) {
	reg := buildRegistry(t,
		plugin{name: "enqueuer", stages: []core.Stage{core.StageDo}, fn: func(pctx *core.PluginContext) error {
			return pctx.QueueToolUse("flaky", nil)
		}},
		errorHandler("handled"),
	)
	e := New(emptyContainer(t), reg)
	e.RegisterTool(&testutil.StubTool{ToolName: "flaky", CallFn: func(*core.PluginContext, map[string]any) (any, error) {
		return nil, errors.New("tool exploded")
	}})

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.Error(t, err)

	var execErr *core.PluginExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "tool_queue", execErr.Plugin)
	assert.Equal(t, TerminatedError, result.Termination)
	assert.Equal(t, "handled", result.Response)
}

func TestEngine_ReconfigureSwapsPipeline(t *testing.T) {
	regV1 := buildRegistry(t, deliverPlugin("v1"))
	e := New(emptyContainer(t), regV1)

	result, err := e.Execute(context.Background(), "m", "u1", "pipe")
	require.NoError(t, err)
	assert.Equal(t, "v1", result.Response)

	rec := testutil.NewRecorder()
	oldContainer := container.New()
	res := testutil.NewStaticResource("db", rec)
	require.NoError(t, oldContainer.Register(core.ResourceDescriptor{Name: "db"}, res.Factory()))
	_, err = oldContainer.Resolve(context.Background())
	require.NoError(t, err)

	e2 := New(oldContainer, regV1)
	regV2 := buildRegistry(t, deliverPlugin("v2"))
	require.NoError(t, e2.Reconfigure(context.Background(), emptyContainer(t), regV2))

	// The previous container was shut down during the swap.
	assert.Contains(t, rec.Events(), "shutdown:db")

	result, err = e2.Execute(context.Background(), "m", "u1", "pipe")
	require.NoError(t, err)
	assert.Equal(t, "v2", result.Response)
}

func TestEngine_ShutdownTearsDownContainer(t *testing.T) {
	rec := testutil.NewRecorder()
	c := container.New()
	res := testutil.NewStaticResource("db", rec)
	require.NoError(t, c.Register(core.ResourceDescriptor{Name: "db"}, res.Factory()))
	_, err := c.Resolve(context.Background())
	require.NoError(t, err)

	e := New(c, buildRegistry(t, deliverPlugin("ok")))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Contains(t, rec.Events(), "shutdown:db")
}

func TestStaticFallbackShape(t *testing.T) {
	fb := StaticFallback("pipe-9")
	assert.Equal(t, "System error occurred", fb.Error)
	assert.Equal(t, "An unexpected error prevented processing your request.", fb.Message)
	assert.Equal(t, "pipe-9", fb.PipelineID)
	assert.Equal(t, "static_fallback", fb.Type)
}
