package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/node"
)

// referenceExecutor implements node.ReferenceInvoker on top of the
// engine: every sub-workflow invocation is a full recursive Execute
// with a fresh context seeded from the input mappings.
type referenceExecutor struct {
	engine *Engine
}

func (r *referenceExecutor) Invoke(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	if r.engine.workflows == nil {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeWorkflowNotFound,
			"no workflow registry is available")
	}

	// The dependency edges were recorded at build; a cycle reachable
	// from the caller means this invocation chain would never bottom
	// out.
	if r.engine.workflows.HasCircularDependency(caller.WorkflowID()) {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeCircularDependency,
			"circular workflow dependency")
	}

	switch spec.Mode {
	case node.RefSync:
		return r.invokeSync(ctx, spec, caller)
	case node.RefAsync:
		return r.invokeAsync(ctx, spec, caller)
	case node.RefConditional:
		return r.invokeConditional(ctx, spec, caller)
	case node.RefLoop:
		return r.invokeLoop(ctx, spec, caller)
	case node.RefParallel:
		return r.invokeParallel(ctx, spec, caller)
	}
	return execution.NewNodeFailure(spec.NodeID, execution.CodeInvalidConfig,
		fmt.Sprintf("unknown execution mode %q", spec.Mode))
}

// seedInputs builds the callee's initial data from the input mappings
// (caller key -> callee key), plus any extra fixed bindings.
func (r *referenceExecutor) seedInputs(spec *node.RefSpec, caller *execution.Context, extra map[string]any) map[string]any {
	initial := make(map[string]any, len(spec.InputMappings)+len(extra))
	for callerKey, calleeKey := range spec.InputMappings {
		if v, ok := caller.Get(callerKey); ok {
			initial[calleeKey] = v
		}
	}
	for k, v := range extra {
		initial[k] = v
	}
	return initial
}

// run executes the target workflow once with the given seed.
func (r *referenceExecutor) run(ctx context.Context, workflowID string, initial map[string]any) *execution.WorkflowResult {
	return r.engine.ExecuteByID(ctx, workflowID, initial)
}

func (r *referenceExecutor) invokeSync(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	if _, err := r.engine.workflows.Get(spec.WorkflowID); err != nil {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeWorkflowNotFound, err.Error())
	}

	sub := r.run(ctx, spec.WorkflowID, r.seedInputs(spec, caller, nil))

	if sub.Success {
		copyOutputs(spec.OutputMappings, sub.Context, caller)
		result := execution.NewNodeSuccess(spec.NodeID, sub)
		result.SetMeta("sub_execution_id", sub.ExecutionID)
		return result
	}

	result := execution.NewNodeFailure(spec.NodeID, "",
		fmt.Sprintf("sub-workflow %q failed: %s", spec.WorkflowID, sub.Message))
	result.Data = sub
	return result
}

// invokeAsync schedules the sub-workflow on the engine's bounded async
// pool. With waitForResult the node blocks up to the timeout and maps
// outputs back; without it the invocation is detached and its results
// are discarded.
func (r *referenceExecutor) invokeAsync(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	initial := r.seedInputs(spec, caller, nil)

	if !spec.WaitForResult {
		// Detached: the invocation outlives this node and is bounded by
		// the engine lifetime, not the caller's context.
		go func() {
			r.engine.asyncSem <- struct{}{}
			defer func() { <-r.engine.asyncSem }()
			r.run(context.Background(), spec.WorkflowID, initial)
		}()
		result := execution.NewNodeSuccess(spec.NodeID, nil)
		result.SetMeta("detached", true)
		return result
	}

	subCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	done := make(chan *execution.WorkflowResult, 1)
	go func() {
		r.engine.asyncSem <- struct{}{}
		defer func() { <-r.engine.asyncSem }()
		done <- r.run(subCtx, spec.WorkflowID, initial)
	}()

	select {
	case sub := <-done:
		if !sub.Success {
			result := execution.NewNodeFailure(spec.NodeID, "",
				fmt.Sprintf("sub-workflow %q failed: %s", spec.WorkflowID, sub.Message))
			result.Data = sub
			return result
		}
		copyOutputs(spec.OutputMappings, sub.Context, caller)
		result := execution.NewNodeSuccess(spec.NodeID, sub)
		result.SetMeta("sub_execution_id", sub.ExecutionID)
		return result

	case <-subCtx.Done():
		// The sub-execution is abandoned; its workers stop at the next
		// cooperative cancellation point.
		return execution.NewNodeFailure(spec.NodeID, execution.CodeTimeout,
			fmt.Sprintf("sub-workflow %q did not finish within %s", spec.WorkflowID, spec.Timeout))
	}
}

func (r *referenceExecutor) invokeConditional(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	ok, err := node.EvalCondition(spec.Condition, caller)
	if err != nil {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeScriptError, err.Error())
	}
	if !ok {
		return execution.NewNodeSkipped(spec.NodeID,
			fmt.Sprintf("condition %q is false", spec.Condition))
	}
	return r.invokeSync(ctx, spec, caller)
}

// invokeLoop runs the target once per element of the configured
// collection, binding each element under loopItem. Output mappings
// become per-iteration arrays in the caller context.
func (r *referenceExecutor) invokeLoop(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	raw, present := caller.Get(spec.LoopDataKey)
	if !present {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeInputResolution,
			fmt.Sprintf("no collection at context key %q", spec.LoopDataKey))
	}
	items, ok := asCollection(raw)
	if !ok {
		return execution.NewNodeFailure(spec.NodeID, execution.CodeInputResolution,
			fmt.Sprintf("context key %q holds %T, not a collection", spec.LoopDataKey, raw))
	}

	if spec.MaxIterations > 0 && len(items) > spec.MaxIterations {
		items = items[:spec.MaxIterations]
	}

	collected := make(map[string][]any, len(spec.OutputMappings))
	for calleeKey := range spec.OutputMappings {
		collected[calleeKey] = make([]any, 0, len(items))
	}

	failures := 0
	var firstFailure string
	for i, item := range items {
		sub := r.run(ctx, spec.WorkflowID, r.seedInputs(spec, caller, map[string]any{node.LoopItemKey: item}))
		if !sub.Success {
			failures++
			if firstFailure == "" {
				firstFailure = fmt.Sprintf("iteration %d: %s", i, sub.Message)
			}
		}
		for calleeKey := range spec.OutputMappings {
			collected[calleeKey] = append(collected[calleeKey], sub.Context[calleeKey])
		}
	}

	for calleeKey, callerKey := range spec.OutputMappings {
		caller.Set(callerKey, collected[calleeKey])
	}

	if failures > 0 {
		result := execution.NewNodeFailure(spec.NodeID, "",
			fmt.Sprintf("%d of %d iterations failed; first: %s", failures, len(items), firstFailure))
		result.SetMeta("iterations", len(items))
		return result
	}
	result := execution.NewNodeSuccess(spec.NodeID, nil)
	result.SetMeta("iterations", len(items))
	return result
}

// invokeParallel fans out across the target workflows concurrently and
// joins on all of them, bounded by the parallel timeout.
func (r *referenceExecutor) invokeParallel(ctx context.Context, spec *node.RefSpec, caller *execution.Context) *execution.NodeResult {
	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	type outcome struct {
		workflowID string
		result     *execution.WorkflowResult
	}
	outcomes := make(chan outcome, len(spec.WorkflowIDs))

	var wg sync.WaitGroup
	for _, id := range spec.WorkflowIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			outcomes <- outcome{workflowID: id, result: r.run(runCtx, id, r.seedInputs(spec, caller, nil))}
		}(id)
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
	case <-runCtx.Done():
		return execution.NewNodeFailure(spec.NodeID, execution.CodeTimeout,
			fmt.Sprintf("parallel fan-out did not finish within %s", spec.Timeout))
	}
	close(outcomes)

	failures := 0
	var firstFailure string
	elapsed := 0
	for o := range outcomes {
		elapsed++
		if !o.result.Success {
			failures++
			if firstFailure == "" {
				firstFailure = fmt.Sprintf("workflow %q: %s", o.workflowID, o.result.Message)
			}
		}
	}

	if failures > 0 {
		return execution.NewNodeFailure(spec.NodeID, "",
			fmt.Sprintf("%d of %d parallel targets failed; first: %s", failures, elapsed, firstFailure))
	}
	result := execution.NewNodeSuccess(spec.NodeID, nil)
	result.SetMeta("targets", elapsed)
	return result
}

// asCollection normalizes a loop collection to []any. Typed slices from
// Go-side initial data count as collections; strings and maps do not.
func asCollection(raw any) ([]any, bool) {
	if items, ok := raw.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// copyOutputs maps callee-context keys back into the caller context.
func copyOutputs(mappings map[string]string, calleeSnapshot map[string]any, caller *execution.Context) {
	for calleeKey, callerKey := range mappings {
		if v, ok := calleeSnapshot[calleeKey]; ok {
			caller.Set(callerKey, v)
		}
	}
}
