package engine

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/notify"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/plugin/builtins"
	"github.com/c360studio/dagflow/workflow"
)

// testHarness wires an engine with a mock plugin source and a console
// notification provider writing into a buffer.
type testHarness struct {
	engine    *Engine
	workflows *workflow.Registry
	console   *bytes.Buffer
}

func newHarness(t *testing.T, config Config) *testHarness {
	t.Helper()

	plugins := plugin.NewRegistry(nil)
	if err := plugins.Register(builtins.MockFactory()); err != nil {
		t.Fatal(err)
	}

	dispatcher := notify.NewDispatcher(nil, prometheus.NewRegistry())
	var console bytes.Buffer
	if err := dispatcher.RegisterProvider(notify.NewConsoleProvider(&console), nil); err != nil {
		t.Fatal(err)
	}

	workflows := workflow.NewRegistry(nil)
	e := New(nil, workflows, config,
		WithPlugins(plugins),
		WithNotifier(dispatcher),
		WithMetrics(prometheus.NewRegistry()))

	return &testHarness{engine: e, workflows: workflows, console: &console}
}

func scriptNode(id, script string, extra map[string]any) *workflow.Node {
	config := map[string]any{"script": script}
	for k, v := range extra {
		config[k] = v
	}
	return &workflow.Node{ID: id, Name: id, Kind: workflow.KindScript, Enabled: true, Config: config}
}

func TestLinearWorkflowSuccess(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID: "linear",
		Nodes: []*workflow.Node{
			{ID: "a", Name: "seed", Kind: workflow.KindInput, Enabled: true, Config: map[string]any{
				"values": map[string]any{"x": 10},
			}},
			scriptNode("b", `context.set("y", context.get("x") * 2)`, nil),
			// No declared input: the bare ${y} resolves from the
			// execution context.
			{ID: "c", Name: "announce", Kind: workflow.KindOutput, Enabled: true, Config: map[string]any{
				"providerType":    "console",
				"title":           "done",
				"contentTemplate": "y=${y}",
			}},
		},
		Edges: []*workflow.Edge{
			{From: "a", To: "b", Enabled: true},
			{From: "b", To: "c", Enabled: true},
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if len(result.NodeResults) != 3 {
		t.Errorf("expected 3 node results, got %d", len(result.NodeResults))
	}
	if result.Context["y"] != 20 {
		t.Errorf("expected y=20 in the final context, got %v", result.Context["y"])
	}
	if out := h.console.String(); !strings.Contains(out, "y=20") {
		t.Errorf("expected notification output to carry y=20, got %q", out)
	}
	if result.Stats.SuccessfulNodes != 3 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
}

func TestPredecessorFailureCascade(t *testing.T) {
	h := newHarness(t, Config{})

	// a -> b -> c plus a -> d; b fails, c cascades, d is unaffected.
	wf := &workflow.Workflow{
		ID: "cascade",
		Nodes: []*workflow.Node{
			scriptNode("a", "1", nil),
			scriptNode("b", "input.missing.deeper", nil),
			scriptNode("c", "2", nil),
			scriptNode("d", "3", nil),
		},
		Edges: []*workflow.Edge{
			{From: "a", To: "b", Enabled: true},
			{From: "b", To: "c", Enabled: true},
			{From: "a", To: "d", Enabled: true},
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if result.Success {
		t.Fatal("expected workflow failure")
	}

	b := result.NodeResults["b"]
	if b.Success || !b.Executed || b.Code != execution.CodeScriptError {
		t.Errorf("unexpected b result: %+v", b)
	}

	c := result.NodeResults["c"]
	if c.Success || c.Executed {
		t.Errorf("cascaded node must be a non-executed failure: %+v", c)
	}
	if c.Code != execution.CodePredecessorFailed {
		t.Errorf("expected PREDECESSOR_FAILED, got %s", c.Code)
	}
	if c.Metadata["failed_predecessor"] != "b" {
		t.Errorf("expected the failed predecessor to be named: %v", c.Metadata)
	}

	if d := result.NodeResults["d"]; !d.Success || !d.Executed {
		t.Errorf("sibling branch must still run: %+v", d)
	}
	if result.Stats.FailedNodes != 2 || result.Stats.SuccessfulNodes != 2 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
}

func TestParallelFanIn(t *testing.T) {
	h := newHarness(t, Config{})

	slowSource := func(id string) *workflow.Node {
		return &workflow.Node{ID: id, Name: id, Kind: workflow.KindPlugin, Enabled: true, Config: map[string]any{
			"pluginType": "mock",
			"delayMs":    50,
			"data":       []any{id},
			"outputKey":  id + "_rows",
		}}
	}

	wf := &workflow.Workflow{
		ID:           "fanin",
		GlobalConfig: map[string]any{"maxConcurrentNodes": 2},
		Nodes: []*workflow.Node{
			scriptNode("s", "1", nil),
			slowSource("a"),
			slowSource("b"),
			scriptNode("j", "2", nil),
		},
		Edges: []*workflow.Edge{
			{From: "s", To: "a", Enabled: true},
			{From: "s", To: "b", Enabled: true},
			{From: "a", To: "j", Enabled: true},
			{From: "b", To: "j", Enabled: true},
		},
	}

	start := time.Now()
	result := h.engine.Execute(context.Background(), wf, nil)
	elapsed := time.Since(start)

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	// Two 50 ms sources overlap under a 2-worker bound: well under the
	// 100 ms a sequential walk would need.
	if elapsed >= 95*time.Millisecond {
		t.Errorf("expected overlapping execution, took %v", elapsed)
	}

	a, b, j := result.NodeResults["a"], result.NodeResults["b"], result.NodeResults["j"]
	if j.StartTime.Before(a.EndTime) || j.StartTime.Before(b.EndTime) {
		t.Errorf("join started before its predecessors finished: j=%v a=%v b=%v",
			j.StartTime, a.EndTime, b.EndTime)
	}
}

func TestParallelWiderThanBound(t *testing.T) {
	h := newHarness(t, Config{})

	// Fan-out wider than the worker bound still completes.
	nodes := []*workflow.Node{scriptNode("root", "1", nil)}
	edges := []*workflow.Edge{}
	for _, id := range []string{"w1", "w2", "w3"} {
		nodes = append(nodes, scriptNode(id, "2", nil))
		edges = append(edges, &workflow.Edge{From: "root", To: id, Enabled: true})
	}

	wf := &workflow.Workflow{
		ID:           "wide",
		GlobalConfig: map[string]any{"maxConcurrentNodes": 2},
		Nodes:        nodes,
		Edges:        edges,
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success || len(result.NodeResults) != 4 {
		t.Errorf("unexpected result: success=%v nodes=%d", result.Success, len(result.NodeResults))
	}
}

func TestEdgeConditionGating(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID: "gated",
		Nodes: []*workflow.Node{
			{ID: "seed", Name: "seed", Kind: workflow.KindInput, Enabled: true, Config: map[string]any{
				"values": map[string]any{"count": 1},
			}},
			scriptNode("taken", "1", nil),
			scriptNode("skipped", "2", nil),
		},
		Edges: []*workflow.Edge{
			{From: "seed", To: "taken", Enabled: true, Condition: "count > 0"},
			{From: "seed", To: "skipped", Enabled: true, Condition: "count > 10"},
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if !result.NodeResults["taken"].Executed {
		t.Error("true edge condition must let the node run")
	}
	skipped := result.NodeResults["skipped"]
	if skipped.Executed || !skipped.Skipped() {
		t.Errorf("false edge condition must skip: %+v", skipped)
	}
}

func TestDisabledNodeSkip(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID: "partial",
		Nodes: []*workflow.Node{
			scriptNode("a", "1", nil),
			{ID: "off", Name: "off", Kind: workflow.KindScript, Enabled: false, Config: map[string]any{"script": "1"}},
			scriptNode("after", "2", nil),
		},
		Edges: []*workflow.Edge{
			{From: "a", To: "off", Enabled: true},
			{From: "off", To: "after", Enabled: true},
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	off := result.NodeResults["off"]
	if off.Executed || !off.Skipped() {
		t.Errorf("disabled node must be skipped: %+v", off)
	}
	// A skip is a synthetic success, so the successor still runs.
	if !result.NodeResults["after"].Executed {
		t.Error("successor of a skipped node must run")
	}
}

func TestEmptyWorkflowRejected(t *testing.T) {
	h := newHarness(t, Config{})

	result := h.engine.Execute(context.Background(), &workflow.Workflow{ID: "empty"}, nil)
	if result.Success {
		t.Fatal("expected rejection")
	}
	if len(result.NodeResults) != 0 {
		t.Errorf("rejected workflows must execute nothing, got %d results", len(result.NodeResults))
	}
}

func TestSingleNodeWorkflow(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID:    "single",
		Nodes: []*workflow.Node{scriptNode("only", "40 + 2", map[string]any{"outputKey": "answer"})},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success || result.Context["answer"] != 42 {
		t.Errorf("unexpected result: success=%v context=%v", result.Success, result.Context)
	}
}

func TestExecuteByID(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID:    "registered",
		Nodes: []*workflow.Node{scriptNode("only", "1", nil)},
	}
	if err := h.workflows.Register(wf, workflow.StatusActive); err != nil {
		t.Fatal(err)
	}

	if result := h.engine.ExecuteByID(context.Background(), "registered", nil); !result.Success {
		t.Errorf("expected success, got %s", result.Message)
	}
	if result := h.engine.ExecuteByID(context.Background(), "ghost", nil); result.Success {
		t.Error("expected unknown workflow to fail")
	}
}

func registerSubWorkflow(t *testing.T, h *testHarness, id string, nodes []*workflow.Node, edges []*workflow.Edge) {
	t.Helper()
	err := h.workflows.Register(&workflow.Workflow{ID: id, Name: id, Nodes: nodes, Edges: edges}, workflow.StatusActive)
	if err != nil {
		t.Fatal(err)
	}
}

func referenceNode(id string, config map[string]any) *workflow.Node {
	return &workflow.Node{ID: id, Name: id, Kind: workflow.KindReference, Enabled: true, Config: config}
}

func TestSyncReference(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "doubler", []*workflow.Node{
		scriptNode("double", `context.set("result", context.get("value") * 2)`, nil),
	}, nil)

	wf := &workflow.Workflow{
		ID: "caller",
		Nodes: []*workflow.Node{
			{ID: "seed", Name: "seed", Kind: workflow.KindInput, Enabled: true, Config: map[string]any{
				"values": map[string]any{"x": 21},
			}},
			referenceNode("call", map[string]any{
				"executionMode":  "SYNC",
				"workflowId":     "doubler",
				"inputMappings":  map[string]any{"x": "value"},
				"outputMappings": map[string]any{"result": "y"},
			}),
		},
		Edges: []*workflow.Edge{{From: "seed", To: "call", Enabled: true}},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if result.Context["y"] != 42 {
		t.Errorf("expected mapped output y=42, got %v", result.Context["y"])
	}
	if result.NodeResults["call"].Metadata["sub_execution_id"] == "" {
		t.Error("expected the sub-execution id in metadata")
	}
}

func TestSyncReferenceUnknownTarget(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID: "caller",
		Nodes: []*workflow.Node{
			referenceNode("call", map[string]any{
				"executionMode": "SYNC",
				"workflowId":    "nowhere",
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.NodeResults["call"].Code != execution.CodeWorkflowNotFound {
		t.Errorf("expected WORKFLOW_NOT_FOUND, got %+v", result.NodeResults["call"])
	}
}

func TestConditionalReference(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "sub", []*workflow.Node{
		scriptNode("mark", `context.set("ran", true)`, nil),
	}, nil)

	run := func(condition string) *execution.WorkflowResult {
		wf := &workflow.Workflow{
			ID: "cond-caller-" + condition,
			Nodes: []*workflow.Node{
				{ID: "seed", Name: "seed", Kind: workflow.KindInput, Enabled: true, Config: map[string]any{
					"values": map[string]any{"threshold": 5},
				}},
				referenceNode("maybe", map[string]any{
					"executionMode":  "CONDITIONAL",
					"workflowId":     "sub",
					"condition":      condition,
					"outputMappings": map[string]any{"ran": "subRan"},
				}),
			},
			Edges: []*workflow.Edge{{From: "seed", To: "maybe", Enabled: true}},
		}
		return h.engine.Execute(context.Background(), wf, nil)
	}

	// False predicate: skip, and no output mapping happens.
	result := run("threshold > 100")
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	maybe := result.NodeResults["maybe"]
	if maybe.Executed || !maybe.Skipped() {
		t.Errorf("false condition must skip: %+v", maybe)
	}
	if _, mapped := result.Context["subRan"]; mapped {
		t.Error("skipped invocation must not map outputs")
	}

	// True predicate: the sub-workflow runs and maps back.
	result = run("threshold > 1")
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if result.Context["subRan"] != true {
		t.Errorf("expected mapped output, got %v", result.Context)
	}
}

func TestLoopReference(t *testing.T) {
	h := newHarness(t, Config{})

	// The sub-workflow sums the loop element it is handed.
	registerSubWorkflow(t, h, "summer", []*workflow.Node{
		scriptNode("sum", "sum(input)", map[string]any{
			"inputKey":  "loopItem",
			"outputKey": "batchSum",
		}),
	}, nil)

	wf := &workflow.Workflow{
		ID: "loop-caller",
		Nodes: []*workflow.Node{
			referenceNode("each", map[string]any{
				"executionMode":  "LOOP",
				"workflowId":     "summer",
				"loopDataKey":    "batches",
				"outputMappings": map[string]any{"batchSum": "sums"},
			}),
		},
	}

	initial := map[string]any{
		"batches": []any{
			[]any{1, 2},
			[]any{3, 4},
			[]any{5},
		},
	}
	result := h.engine.Execute(context.Background(), wf, initial)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}

	sums, ok := result.Context["sums"].([]any)
	if !ok || len(sums) != 3 {
		t.Fatalf("expected 3 per-iteration sums, got %v", result.Context["sums"])
	}
	for i, want := range []int{3, 7, 5} {
		if sums[i] != want {
			t.Errorf("sums[%d] = %v, want %d", i, sums[i], want)
		}
	}
	if result.NodeResults["each"].Metadata["iterations"] != 3 {
		t.Errorf("expected 3 iterations, got %v", result.NodeResults["each"].Metadata)
	}
}

func TestLoopReferenceTypedSlice(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "doubler-each", []*workflow.Node{
		scriptNode("double", "input * 2", map[string]any{
			"inputKey":  "loopItem",
			"outputKey": "twice",
		}),
	}, nil)

	wf := &workflow.Workflow{
		ID: "typed-loop",
		Nodes: []*workflow.Node{
			referenceNode("each", map[string]any{
				"executionMode":  "LOOP",
				"workflowId":     "doubler-each",
				"loopDataKey":    "items",
				"outputMappings": map[string]any{"twice": "doubled"},
			}),
		},
	}

	// A Go-side []int seeds the collection; the loop must accept it.
	result := h.engine.Execute(context.Background(), wf, map[string]any{
		"items": []int{2, 4},
	})
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}

	doubled, ok := result.Context["doubled"].([]any)
	if !ok || len(doubled) != 2 {
		t.Fatalf("expected 2 doubled values, got %v", result.Context["doubled"])
	}
	if doubled[0] != 4 || doubled[1] != 8 {
		t.Errorf("doubled = %v, want [4 8]", doubled)
	}
}

func TestLoopReferenceMaxIterations(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "noop", []*workflow.Node{
		scriptNode("n", "1", nil),
	}, nil)

	wf := &workflow.Workflow{
		ID: "capped",
		Nodes: []*workflow.Node{
			referenceNode("each", map[string]any{
				"executionMode": "LOOP",
				"workflowId":    "noop",
				"loopDataKey":   "items",
				"maxIterations": 2,
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, map[string]any{
		"items": []any{1, 2, 3, 4, 5},
	})
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if result.NodeResults["each"].Metadata["iterations"] != 2 {
		t.Errorf("expected the iteration cap to hold, got %v", result.NodeResults["each"].Metadata)
	}
}

func TestLoopReferenceBadCollection(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "noop2", []*workflow.Node{
		scriptNode("n", "1", nil),
	}, nil)

	wf := &workflow.Workflow{
		ID: "badloop",
		Nodes: []*workflow.Node{
			referenceNode("each", map[string]any{
				"executionMode": "LOOP",
				"workflowId":    "noop2",
				"loopDataKey":   "items",
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, map[string]any{"items": "not a list"})
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.NodeResults["each"].Code != execution.CodeInputResolution {
		t.Errorf("expected INPUT_RESOLUTION, got %+v", result.NodeResults["each"])
	}
}

func TestAsyncReferenceDetached(t *testing.T) {
	h := newHarness(t, Config{})

	var ran sync.WaitGroup
	ran.Add(1)
	h.engine.events = &funcSink{
		executionCompleted: func(wr *execution.WorkflowResult) {
			if wr.WorkflowID == "slow" {
				ran.Done()
			}
		},
	}

	registerSubWorkflow(t, h, "slow", []*workflow.Node{
		{ID: "src", Name: "src", Kind: workflow.KindPlugin, Enabled: true, Config: map[string]any{
			"pluginType": "mock",
			"delayMs":    80,
			"data":       []any{1},
		}},
	}, nil)

	wf := &workflow.Workflow{
		ID: "fire-and-forget",
		Nodes: []*workflow.Node{
			referenceNode("bg", map[string]any{
				"executionMode": "ASYNC",
				"workflowId":    "slow",
			}),
		},
	}

	start := time.Now()
	result := h.engine.Execute(context.Background(), wf, nil)
	elapsed := time.Since(start)

	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	// The caller returns before the 80 ms sub-workflow finishes.
	if elapsed >= 60*time.Millisecond {
		t.Errorf("detached invocation must not block the caller, took %v", elapsed)
	}
	if result.NodeResults["bg"].Metadata["detached"] != true {
		t.Errorf("expected detached metadata, got %v", result.NodeResults["bg"].Metadata)
	}

	// The detached execution still completes.
	ran.Wait()
}

func TestAsyncReferenceWaited(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "quick", []*workflow.Node{
		scriptNode("s", `context.set("out", 7)`, nil),
	}, nil)

	wf := &workflow.Workflow{
		ID: "waited",
		Nodes: []*workflow.Node{
			referenceNode("call", map[string]any{
				"executionMode":  "ASYNC",
				"workflowId":     "quick",
				"waitForResult":  true,
				"timeoutMs":      2000,
				"outputMappings": map[string]any{"out": "got"},
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if result.Context["got"] != 7 {
		t.Errorf("expected mapped output, got %v", result.Context)
	}
}

func TestAsyncReferenceTimeout(t *testing.T) {
	h := newHarness(t, Config{})

	registerSubWorkflow(t, h, "glacial", []*workflow.Node{
		{ID: "src", Name: "src", Kind: workflow.KindPlugin, Enabled: true, Config: map[string]any{
			"pluginType": "mock",
			"delayMs":    5000,
		}},
	}, nil)

	wf := &workflow.Workflow{
		ID: "impatient",
		Nodes: []*workflow.Node{
			referenceNode("call", map[string]any{
				"executionMode": "ASYNC",
				"workflowId":    "glacial",
				"waitForResult": true,
				"timeoutMs":     30,
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.NodeResults["call"].Code != execution.CodeTimeout {
		t.Errorf("expected TIMEOUT, got %+v", result.NodeResults["call"])
	}
}

func TestParallelReference(t *testing.T) {
	h := newHarness(t, Config{})

	for _, id := range []string{"p1", "p2", "p3"} {
		registerSubWorkflow(t, h, id, []*workflow.Node{
			scriptNode("n", "1", nil),
		}, nil)
	}

	wf := &workflow.Workflow{
		ID: "fanout",
		Nodes: []*workflow.Node{
			referenceNode("all", map[string]any{
				"executionMode":     "PARALLEL",
				"workflowIds":       []any{"p1", "p2", "p3"},
				"parallelTimeoutMs": 5000,
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}
	if result.NodeResults["all"].Metadata["targets"] != 3 {
		t.Errorf("expected 3 joined targets, got %v", result.NodeResults["all"].Metadata)
	}
}

func TestSelfReferenceRejected(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID: "ouroboros",
		Nodes: []*workflow.Node{
			referenceNode("self", map[string]any{
				"executionMode": "SYNC",
				"workflowId":    "ouroboros",
			}),
		},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if result.Success {
		t.Fatal("expected rejection")
	}
	if len(result.NodeResults) != 0 {
		t.Error("self-referencing workflows must be rejected before any node runs")
	}
}

func TestExecutionTimeout(t *testing.T) {
	h := newHarness(t, Config{})

	wf := &workflow.Workflow{
		ID:           "deadline",
		GlobalConfig: map[string]any{"timeout": 30},
		Nodes: []*workflow.Node{
			{ID: "slow", Name: "slow", Kind: workflow.KindPlugin, Enabled: true, Config: map[string]any{
				"pluginType": "mock",
				"delayMs":    5000,
			}},
			scriptNode("after", "1", nil),
		},
		Edges: []*workflow.Edge{{From: "slow", To: "after", Enabled: true}},
	}

	result := h.engine.Execute(context.Background(), wf, nil)
	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if result.NodeResults["slow"].Success {
		t.Errorf("expected the slow node to fail, got %+v", result.NodeResults["slow"])
	}
}

func TestEngineShutdown(t *testing.T) {
	h := newHarness(t, Config{})

	h.engine.Shutdown()
	h.engine.Shutdown() // idempotent

	result := h.engine.Execute(context.Background(), &workflow.Workflow{
		ID:    "late",
		Nodes: []*workflow.Node{scriptNode("n", "1", nil)},
	}, nil)
	if result.Success {
		t.Error("expected a closed engine to refuse executions")
	}
}

// funcSink adapts closures to the EventSink interface.
type funcSink struct {
	executionStarted   func(workflowID, executionID string)
	nodeCompleted      func(workflowID, executionID string, result *execution.NodeResult)
	executionCompleted func(result *execution.WorkflowResult)
}

func (s *funcSink) ExecutionStarted(workflowID, executionID string) {
	if s.executionStarted != nil {
		s.executionStarted(workflowID, executionID)
	}
}

func (s *funcSink) NodeCompleted(workflowID, executionID string, result *execution.NodeResult) {
	if s.nodeCompleted != nil {
		s.nodeCompleted(workflowID, executionID, result)
	}
}

func (s *funcSink) ExecutionCompleted(result *execution.WorkflowResult) {
	if s.executionCompleted != nil {
		s.executionCompleted(result)
	}
}

func TestEventSinkSequence(t *testing.T) {
	h := newHarness(t, Config{})

	var mu sync.Mutex
	var started, completedNodes, finished int
	h.engine.events = &funcSink{
		executionStarted: func(string, string) { mu.Lock(); started++; mu.Unlock() },
		nodeCompleted: func(_, _ string, _ *execution.NodeResult) {
			mu.Lock()
			completedNodes++
			mu.Unlock()
		},
		executionCompleted: func(*execution.WorkflowResult) { mu.Lock(); finished++; mu.Unlock() },
	}

	wf := &workflow.Workflow{
		ID: "observed",
		Nodes: []*workflow.Node{
			scriptNode("a", "1", nil),
			scriptNode("b", "2", nil),
		},
		Edges: []*workflow.Edge{{From: "a", To: "b", Enabled: true}},
	}

	if result := h.engine.Execute(context.Background(), wf, nil); !result.Success {
		t.Fatalf("execution failed: %s", result.Message)
	}

	mu.Lock()
	defer mu.Unlock()
	if started != 1 || completedNodes != 2 || finished != 1 {
		t.Errorf("unexpected event counts: started=%d nodes=%d finished=%d",
			started, completedNodes, finished)
	}
}
