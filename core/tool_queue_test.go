package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolResultKey(t *testing.T) {
	assert.Equal(t, "tool.do.0.search", ToolResultKey(StageDo, 0, "search"))
	assert.Equal(t, "tool.review.3.lint", ToolResultKey(StageReview, 3, "lint"))
}

func TestToolQueue_FlushStoresResultsByCallOrder(t *testing.T) {
	tools := ToolMap{
		"first":  &fakeTool{name: "first", fn: func(_ *PluginContext, _ map[string]any) (any, error) { return "r1", nil }},
		"second": &fakeTool{name: "second", fn: func(_ *PluginContext, _ map[string]any) (any, error) { return "r2", nil }},
	}
	pctx, rs := newTestContext(StageDo, tools, nil, nil)

	require.NoError(t, pctx.QueueToolUse("first", nil))
	require.NoError(t, pctx.QueueToolUse("second", nil))
	assert.Equal(t, 2, pctx.queue.Len())

	require.NoError(t, pctx.queue.Flush(context.Background()))
	assert.Equal(t, 0, pctx.queue.Len())

	// Keys are derived from queueing order, not completion order.
	v, ok := rs.Load(ToolResultKey(StageDo, 0, "first"))
	require.True(t, ok)
	assert.Equal(t, "r1", v)
	v, ok = rs.Load(ToolResultKey(StageDo, 1, "second"))
	require.True(t, ok)
	assert.Equal(t, "r2", v)
}

func TestToolQueue_FlushRunsCallsConcurrently(t *testing.T) {
	// The two calls rendezvous over an unbuffered channel, which only
	// completes when both run at the same time.
	gate := make(chan struct{})
	tools := ToolMap{
		"a": &fakeTool{name: "a", fn: func(_ *PluginContext, _ map[string]any) (any, error) {
			gate <- struct{}{}
			return "done", nil
		}},
		"b": &fakeTool{name: "b", fn: func(_ *PluginContext, _ map[string]any) (any, error) {
			<-gate
			return "done", nil
		}},
	}
	pctx, _ := newTestContext(StageDo, tools, nil, nil)
	require.NoError(t, pctx.QueueToolUse("a", nil))
	require.NoError(t, pctx.QueueToolUse("b", nil))

	require.NoError(t, pctx.queue.Flush(context.Background()))
}

func TestToolQueue_FlushCollectsFailures(t *testing.T) {
	boom := errors.New("boom")
	tools := ToolMap{
		"good": &fakeTool{name: "good", fn: func(_ *PluginContext, _ map[string]any) (any, error) { return "ok", nil }},
		"bad":  &fakeTool{name: "bad", fn: func(_ *PluginContext, _ map[string]any) (any, error) { return nil, boom }},
	}
	pctx, rs := newTestContext(StageDo, tools, nil, nil)
	require.NoError(t, pctx.QueueToolUse("good", nil))
	require.NoError(t, pctx.QueueToolUse("bad", nil))

	err := pctx.queue.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")

	// The successful call's result still lands in stageData.
	_, ok := rs.Load(ToolResultKey(StageDo, 0, "good"))
	assert.True(t, ok)
	_, ok = rs.Load(ToolResultKey(StageDo, 1, "bad"))
	assert.False(t, ok)
}

func TestToolQueue_FlushRecoversPanics(t *testing.T) {
	tools := ToolMap{
		"bomb": &fakeTool{name: "bomb", fn: func(_ *PluginContext, _ map[string]any) (any, error) { panic("kaboom") }},
	}
	pctx, _ := newTestContext(StageDo, tools, nil, nil)
	require.NoError(t, pctx.QueueToolUse("bomb", nil))

	err := pctx.queue.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestToolQueue_FlushHonoursCancelledContext(t *testing.T) {
	var calls atomic.Int32
	tools := ToolMap{
		"t": &fakeTool{name: "t", fn: func(_ *PluginContext, _ map[string]any) (any, error) {
			calls.Add(1)
			return "ok", nil
		}},
	}
	pctx, _ := newTestContext(StageDo, tools, nil, nil)
	require.NoError(t, pctx.QueueToolUse("t", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pctx.queue.Flush(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestToolQueue_FlushEmptyIsNoop(t *testing.T) {
	q := NewToolQueue(StageDo)
	assert.NoError(t, q.Flush(context.Background()))
}
