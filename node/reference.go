package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

// Reference execution modes.
const (
	RefSync        = "SYNC"
	RefAsync       = "ASYNC"
	RefConditional = "CONDITIONAL"
	RefLoop        = "LOOP"
	RefParallel    = "PARALLEL"
)

// LoopItemKey is the fixed callee-context slot each LOOP element is
// bound under.
const LoopItemKey = "loopItem"

// RefSpec is the parsed configuration of a reference node. The engine's
// reference executor consumes it.
type RefSpec struct {
	NodeID        string
	Mode          string
	WorkflowID    string
	WorkflowIDs   []string
	Condition     string
	WaitForResult bool
	Timeout       time.Duration
	LoopDataKey   string
	MaxIterations int
	// InputMappings: caller-context key -> callee-context key.
	InputMappings map[string]string
	// OutputMappings: callee-context key -> caller-context key.
	OutputMappings map[string]string
}

// ParseRefSpec reads the reference declaration out of a node config.
func ParseRefSpec(decl *workflow.Node) *RefSpec {
	config := decl.Config
	spec := &RefSpec{
		NodeID:         decl.ID,
		Mode:           configString(config, "executionMode"),
		WorkflowID:     configString(config, "workflowId"),
		WorkflowIDs:    configStringList(config, "workflowIds"),
		Condition:      configString(config, "condition"),
		WaitForResult:  configBool(config, "waitForResult", false),
		LoopDataKey:    configString(config, "loopDataKey"),
		MaxIterations:  configInt(config, "maxIterations", 0),
		InputMappings:  configStringMap(config, "inputMappings"),
		OutputMappings: configStringMap(config, "outputMappings"),
	}

	timeoutKey := "timeoutMs"
	if spec.Mode == RefParallel {
		timeoutKey = "parallelTimeoutMs"
	}
	if ms := configInt(config, timeoutKey, 0); ms > 0 {
		spec.Timeout = time.Duration(ms) * time.Millisecond
	}
	return spec
}

// Validate checks the mode-specific configuration rules. PARALLEL
// forbids output mappings outright: no merge policy across concurrent
// targets is defined, so a non-empty mapping is a configuration error
// rather than a silent drop.
func (s *RefSpec) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	switch s.Mode {
	case RefSync, RefAsync, RefConditional, RefLoop:
		if s.WorkflowID == "" {
			result.AddError("config.workflowId", s.Mode+" mode requires a workflowId")
		}
	case RefParallel:
		if len(s.WorkflowIDs) == 0 {
			result.AddError("config.workflowIds", "PARALLEL mode requires a non-empty workflowIds list")
		}
		if len(s.OutputMappings) > 0 {
			result.AddError("config.outputMappings", "PARALLEL mode does not support output mappings")
		}
	case "":
		result.AddError("config.executionMode", "reference node requires an executionMode")
	default:
		result.AddError("config.executionMode", fmt.Sprintf("unknown execution mode %q", s.Mode))
	}

	if s.Mode == RefConditional && s.Condition == "" {
		result.AddError("config.condition", "CONDITIONAL mode requires a condition")
	}
	if s.Mode == RefLoop && s.LoopDataKey == "" {
		result.AddError("config.loopDataKey", "LOOP mode requires a loopDataKey")
	}
	if s.Mode == RefAsync && s.WaitForResult && s.Timeout <= 0 {
		result.AddError("config.timeoutMs", "ASYNC with waitForResult requires a positive timeoutMs")
	}
	return result
}

// ReferenceNode invokes another workflow from the registry. The mode
// semantics live in the engine's reference executor; this node parses
// and validates the declaration and delegates.
type ReferenceNode struct {
	decl    *workflow.Node
	logger  *slog.Logger
	invoker ReferenceInvoker

	spec *RefSpec
}

func (n *ReferenceNode) ID() string { return n.decl.ID }

// Spec returns the parsed reference declaration, building it on first
// use. The workflow registry reads it to maintain dependency edges.
func (n *ReferenceNode) Spec() *RefSpec {
	if n.spec == nil {
		n.spec = ParseRefSpec(n.decl)
	}
	return n.spec
}

func (n *ReferenceNode) Validate() *workflow.ValidationResult {
	result := n.Spec().Validate()
	if n.invoker == nil {
		result.AddError("config", "no reference invoker is available")
	}
	return result
}

func (n *ReferenceNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	result := n.invoker.Invoke(ctx, n.Spec(), ec)
	if result == nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeWorkflowNotFound, "reference invocation produced no result")
	}
	result.NodeID = n.decl.ID
	return result
}

func (n *ReferenceNode) Destroy() error { return nil }
