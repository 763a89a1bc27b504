// Package engine schedules workflow executions: topological ordering,
// sequential and bounded-parallel node execution, predecessor-failure
// gating, and the reference executor behind sub-workflow nodes.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/node"
	"github.com/c360studio/dagflow/notify"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/workflow"
)

// drainTimeout is how long Shutdown waits for in-flight executions.
const drainTimeout = 60 * time.Second

// EventSink receives execution lifecycle events. Implementations must
// not block the scheduler; slow transports buffer internally.
type EventSink interface {
	ExecutionStarted(workflowID, executionID string)
	NodeCompleted(workflowID, executionID string, result *execution.NodeResult)
	ExecutionCompleted(result *execution.WorkflowResult)
}

// Config tunes the engine.
type Config struct {
	// MaxConcurrentNodes is the default worker bound for workflows that
	// do not set one in globalConfig. 1 means sequential.
	MaxConcurrentNodes int `yaml:"max_concurrent_nodes"`

	// AsyncWorkers bounds detached sub-workflow invocations.
	AsyncWorkers int `yaml:"async_workers"`

	// DefaultTimeout applies to executions whose workflow sets none.
	// Zero means no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentNodes: 1,
		AsyncWorkers:       8,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConcurrentNodes <= 0 {
		c.MaxConcurrentNodes = d.MaxConcurrentNodes
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = d.AsyncWorkers
	}
}

// Engine executes workflows. It owns no workflow state beyond in-flight
// executions; the registries and dispatcher are process-level services
// passed in at construction.
type Engine struct {
	logger    *slog.Logger
	config    Config
	workflows *workflow.Registry
	plugins   *plugin.Registry
	notifier  *notify.Dispatcher
	events    EventSink

	factory *node.Factory

	execCounter  *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	inflight     prometheus.Gauge

	asyncSem chan struct{}

	mu       sync.Mutex
	closed   bool
	inFlight sync.WaitGroup
}

// Option customizes an engine at creation.
type Option func(*Engine)

// WithPlugins attaches the plugin registry used by plugin nodes.
func WithPlugins(r *plugin.Registry) Option {
	return func(e *Engine) { e.plugins = r }
}

// WithNotifier attaches the dispatcher used by notification nodes.
func WithNotifier(d *notify.Dispatcher) Option {
	return func(e *Engine) { e.notifier = d }
}

// WithEventSink attaches an execution event sink.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.events = s }
}

// WithMetrics registers the engine metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		reg.MustRegister(e.execCounter, e.nodeDuration, e.inflight)
	}
}

// New creates an engine bound to a workflow registry.
func New(logger *slog.Logger, workflows *workflow.Registry, config Config, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	config.applyDefaults()

	e := &Engine{
		logger:    logger,
		config:    config,
		workflows: workflows,
		execCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dagflow_executions_total",
			Help: "Workflow executions by outcome.",
		}, []string{"status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dagflow_node_duration_seconds",
			Help:    "Node execution duration by node type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_type"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dagflow_executions_inflight",
			Help: "Workflow executions currently running.",
		}),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.asyncSem = make(chan struct{}, e.config.AsyncWorkers)
	e.factory = &node.Factory{
		Logger:   logger,
		Plugins:  e.plugins,
		Notifier: e.notifier,
		Invoker:  &referenceExecutor{engine: e},
	}
	return e
}

// ExecuteByID looks up an ACTIVE workflow in the registry and runs it.
func (e *Engine) ExecuteByID(ctx context.Context, id string, initialData map[string]any) *execution.WorkflowResult {
	wf, err := e.workflows.Get(id)
	if err != nil {
		return &execution.WorkflowResult{
			WorkflowID:  id,
			Success:     false,
			Message:     err.Error(),
			NodeResults: map[string]*execution.NodeResult{},
			StartTime:   time.Now(),
		}
	}
	return e.Execute(ctx, wf, initialData)
}

// Execute runs a workflow against initial data and returns the
// aggregated result. Validation failures produce a failure result with
// zero node results; no node executes.
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, initialData map[string]any) *execution.WorkflowResult {
	start := time.Now()

	fail := func(msg string) *execution.WorkflowResult {
		e.execCounter.WithLabelValues("rejected").Inc()
		return &execution.WorkflowResult{
			WorkflowID:  wf.ID,
			Success:     false,
			Message:     msg,
			NodeResults: map[string]*execution.NodeResult{},
			StartTime:   start,
			DurationMs:  time.Since(start).Milliseconds(),
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fail("engine is shut down")
	}
	e.inFlight.Add(1)
	e.mu.Unlock()
	defer e.inFlight.Done()

	e.inflight.Inc()
	defer e.inflight.Dec()

	if result := wf.Validate(); !result.Valid() {
		return fail(result.Error().Error())
	}

	nodes, err := e.buildNodes(wf)
	if err != nil {
		return fail(err.Error())
	}

	ec := execution.NewContext(wf.ID, initialData)
	if e.events != nil {
		e.events.ExecutionStarted(wf.ID, ec.ExecutionID())
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout := e.executionTimeout(wf); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s := &scheduler{
		engine:   e,
		workflow: wf,
		nodes:    nodes,
		ec:       ec,
	}

	var results map[string]*execution.NodeResult
	if e.maxConcurrent(wf) > 1 {
		results = s.runParallel(runCtx, e.maxConcurrent(wf))
	} else {
		results = s.runSequential(runCtx)
	}

	wr := &execution.WorkflowResult{
		ExecutionID: ec.ExecutionID(),
		WorkflowID:  wf.ID,
		NodeResults: results,
		Context:     ec.Snapshot(),
		StartTime:   start,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	wr.ComputeStats()

	status := "success"
	if !wr.Success {
		status = "failure"
	}
	e.execCounter.WithLabelValues(status).Inc()

	if e.events != nil {
		e.events.ExecutionCompleted(wr)
	}
	e.logger.Info("Workflow execution finished",
		"workflow_id", wf.ID,
		"execution_id", wr.ExecutionID,
		"success", wr.Success,
		"duration_ms", wr.DurationMs)
	return wr
}

// buildNodes constructs and validates every node, and records the
// dependency edges of reference nodes in the workflow registry.
func (e *Engine) buildNodes(wf *workflow.Workflow) (map[string]node.Node, error) {
	nodes := make(map[string]node.Node, len(wf.Nodes))
	combined := &workflow.ValidationResult{}

	for _, decl := range wf.Nodes {
		n, vr, err := e.factory.Build(decl)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", decl.ID, err)
		}
		combined.Merge(vr)
		nodes[decl.ID] = n

		if ref, ok := n.(*node.ReferenceNode); ok && e.workflows != nil {
			spec := ref.Spec()
			targets := spec.WorkflowIDs
			if spec.WorkflowID != "" {
				targets = []string{spec.WorkflowID}
			}
			for _, target := range targets {
				if err := e.workflows.AddDependency(wf.ID, target); err != nil {
					combined.AddError("nodes."+decl.ID, err.Error())
				}
			}
		}
	}

	if err := combined.Error(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func (e *Engine) maxConcurrent(wf *workflow.Workflow) int {
	if wf.GlobalConfig != nil {
		switch v := wf.GlobalConfig["maxConcurrentNodes"].(type) {
		case int:
			if v > 0 {
				return v
			}
		case int64:
			if v > 0 {
				return int(v)
			}
		case float64:
			if v > 0 {
				return int(v)
			}
		}
	}
	return e.config.MaxConcurrentNodes
}

func (e *Engine) executionTimeout(wf *workflow.Workflow) time.Duration {
	if wf.GlobalConfig != nil {
		switch v := wf.GlobalConfig["timeout"].(type) {
		case int:
			return time.Duration(v) * time.Millisecond
		case int64:
			return time.Duration(v) * time.Millisecond
		case float64:
			return time.Duration(v) * time.Millisecond
		}
	}
	return e.config.DefaultTimeout
}

// Shutdown refuses new executions and waits up to 60 s for in-flight
// work to drain.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("Engine drained")
	case <-time.After(drainTimeout):
		e.logger.Warn("Engine shutdown timed out with work in flight")
	}
}
