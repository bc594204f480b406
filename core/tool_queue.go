package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// queuedToolCall captures one deferred tool invocation together with the
// context of the plugin that queued it.
type queuedToolCall struct {
	index  int
	tool   Tool
	pctx   *PluginContext
	params map[string]any
}

// ToolQueue collects tool calls deferred via QueueToolUse during one stage.
// The orchestrator flushes it at the stage boundary: all queued calls run
// concurrently, are awaited together, and their results are merged into
// stageData before the next stage begins. Plugin authors queue calls only
// when they are independent of each other, so this is the engine's one
// sanctioned intra-stage concurrency point.
type ToolQueue struct {
	stage Stage

	mu    sync.Mutex
	calls []queuedToolCall
}

// NewToolQueue creates an empty queue for the given stage.
func NewToolQueue(stage Stage) *ToolQueue {
	return &ToolQueue{stage: stage}
}

// enqueue appends a call; index is assigned from call order.
func (q *ToolQueue) enqueue(tool Tool, pctx *PluginContext, params map[string]any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, queuedToolCall{index: len(q.calls), tool: tool, pctx: pctx, params: params})
}

// Len returns the number of pending calls.
func (q *ToolQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// ToolResultKey derives the deterministic stageData key for the index-th tool
// call queued during stage. Keys depend only on call order, never on
// completion order, so re-running a stage in a later iteration overwrites the
// previous results last-write-wins.
func ToolResultKey(stage Stage, index int, tool string) string {
	return fmt.Sprintf("tool.%s.%d.%s", strings.ToLower(stage.String()), index, tool)
}

// Flush executes all queued calls concurrently and waits for every one of
// them. Each result is stored under its ToolResultKey; failures are collected
// and returned joined, attributed to the queuing plugin by the orchestrator.
// The queue is empty after Flush returns.
func (q *ToolQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	calls := q.calls
	q.calls = nil
	q.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}

	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for _, call := range calls {
		wg.Add(1)
		go func(c queuedToolCall) {
			defer wg.Done()

			if ctx.Err() != nil {
				errs[c.index] = ctx.Err()
				return
			}

			start := time.Now()
			result, err := callTool(c.tool, c.pctx, c.params)
			c.pctx.sink.Emit(Observation{
				Stage:     q.stage.String(),
				Name:      c.tool.Name(),
				Kind:      ObservationTool,
				Duration:  time.Since(start),
				Success:   err == nil,
				ErrorType: errorType(err),
			})
			if err != nil {
				errs[c.index] = fmt.Errorf("queued tool %s (call %d): %w", c.tool.Name(), c.index, err)
				return
			}
			c.pctx.Run.Store(ToolResultKey(q.stage, c.index, c.tool.Name()), result)
		}(call)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("stage %s tool queue: %w", q.stage, err)
	}
	return nil
}
