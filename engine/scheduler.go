package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/node"
	"github.com/c360studio/dagflow/workflow"
)

// scheduler runs one execution of one workflow. The results map is
// owned by the coordinating goroutine in both modes; worker goroutines
// only return their result over a channel.
type scheduler struct {
	engine   *Engine
	workflow *workflow.Workflow
	nodes    map[string]node.Node
	ec       *execution.Context
}

// runSequential walks the topological order, gating each node on its
// predecessors before executing it inline.
func (s *scheduler) runSequential(ctx context.Context) map[string]*execution.NodeResult {
	order, err := s.workflow.TopologicalOrder()
	if err != nil {
		// Validate ran before scheduling; a cycle here is unreachable.
		return map[string]*execution.NodeResult{}
	}

	results := make(map[string]*execution.NodeResult, len(order))
	for _, id := range order {
		if result := s.gate(id, results); result != nil {
			results[id] = result
		} else {
			results[id] = s.executeNode(ctx, id)
		}
		s.emit(results[id])
	}
	return results
}

// runParallel keeps ready/inflight/done sets. Nodes become ready when
// every predecessor is done; gating happens at that point, so synthetic
// results (skip, predecessor failure) never occupy a worker.
func (s *scheduler) runParallel(ctx context.Context, maxConcurrent int) map[string]*execution.NodeResult {
	inDegree := make(map[string]int, len(s.workflow.Nodes))
	successors := make(map[string][]string, len(s.workflow.Nodes))
	for _, n := range s.workflow.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range s.workflow.Edges {
		if !e.Enabled {
			continue
		}
		successors[e.From] = append(successors[e.From], e.To)
		inDegree[e.To]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	type completion struct {
		id     string
		result *execution.NodeResult
	}
	completions := make(chan completion, len(s.workflow.Nodes))
	sem := make(chan struct{}, maxConcurrent)

	results := make(map[string]*execution.NodeResult, len(s.workflow.Nodes))
	inflight := 0

	finish := func(id string, result *execution.NodeResult) {
		results[id] = result
		s.emit(result)
		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Strings(ready)
	}

	for len(ready) > 0 || inflight > 0 {
		// Drain the ready set: synthetic outcomes complete inline,
		// real work is submitted to the pool.
		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]

			if result := s.gate(id, results); result != nil {
				finish(id, result)
				continue
			}

			inflight++
			go func(id string) {
				sem <- struct{}{}
				defer func() { <-sem }()
				completions <- completion{id: id, result: s.executeNode(ctx, id)}
			}(id)
		}

		if inflight == 0 {
			continue
		}
		c := <-completions
		inflight--
		finish(c.id, c.result)
	}

	return results
}

// gate decides whether a node runs at all. It returns a synthetic
// result for disabled nodes, failed predecessors and false edge
// conditions, or nil when the node should execute.
func (s *scheduler) gate(id string, results map[string]*execution.NodeResult) *execution.NodeResult {
	for _, pred := range s.workflow.Predecessors(id) {
		r, done := results[pred]
		if !done || !r.Success {
			return stamped(execution.NewPredecessorFailure(id, pred))
		}
	}

	decl := s.workflow.Node(id)
	if decl != nil && !decl.Enabled {
		return stamped(execution.NewNodeSkipped(id, "node is disabled"))
	}

	for _, edge := range s.workflow.IncomingEdges(id) {
		if edge.Condition == "" {
			continue
		}
		ok, err := node.EvalCondition(edge.Condition, s.ec)
		if err != nil {
			return stamped(execution.NewNodeFailure(id, execution.CodeScriptError,
				fmt.Sprintf("edge %s -> %s: %v", edge.From, edge.To, err)))
		}
		if !ok {
			return stamped(execution.NewNodeSkipped(id,
				fmt.Sprintf("edge condition %q is false", edge.Condition)))
		}
	}

	return nil
}

// executeNode runs one node with panic containment and duration
// stamping.
func (s *scheduler) executeNode(ctx context.Context, id string) (result *execution.NodeResult) {
	n := s.nodes[id]
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = execution.NewNodeFailure(id, "", fmt.Sprintf("node panicked: %v", r))
		}
		result.StartTime = start
		result.EndTime = time.Now()
		result.DurationMs = result.EndTime.Sub(start).Milliseconds()

		decl := s.workflow.Node(id)
		if decl != nil {
			s.engine.nodeDuration.WithLabelValues(string(decl.Kind)).
				Observe(result.EndTime.Sub(start).Seconds())
		}
	}()

	if err := ctx.Err(); err != nil {
		return execution.NewNodeFailure(id, execution.CodeTimeout, err.Error())
	}

	result = n.Execute(ctx, s.ec)
	if result == nil {
		result = execution.NewNodeFailure(id, "", "node returned no result")
	}
	return result
}

func (s *scheduler) emit(result *execution.NodeResult) {
	if s.engine.events != nil {
		s.engine.events.NodeCompleted(s.workflow.ID, s.ec.ExecutionID(), result)
	}
}

// stamped gives synthetic results zero-duration timestamps.
func stamped(r *execution.NodeResult) *execution.NodeResult {
	now := time.Now()
	r.StartTime = now
	r.EndTime = now
	return r
}
