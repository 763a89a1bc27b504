package node

import (
	"context"
	"log/slog"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

// InputNode seeds the execution context with literal values. Config:
//
//	values: { key: value, ... }   written verbatim into the context
//	outputKey + value             single-slot shorthand
type InputNode struct {
	decl   *workflow.Node
	logger *slog.Logger
}

func (n *InputNode) ID() string { return n.decl.ID }

func (n *InputNode) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	values := configMap(n.decl.Config, "values")
	outputKey := configString(n.decl.Config, "outputKey")
	if len(values) == 0 && outputKey == "" {
		result.AddWarning("config", "input node writes nothing: neither values nor outputKey is set")
	}
	if outputKey != "" {
		if _, present := n.decl.Config["value"]; !present {
			result.AddError("config.value", "outputKey is set but value is missing")
		}
	}
	return result
}

func (n *InputNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	written := make(map[string]any)

	for k, v := range configMap(n.decl.Config, "values") {
		ec.Set(k, v)
		written[k] = v
	}
	if outputKey := configString(n.decl.Config, "outputKey"); outputKey != "" {
		v := n.decl.Config["value"]
		ec.Set(outputKey, v)
		written[outputKey] = v
	}

	result := execution.NewNodeSuccess(n.decl.ID, written)
	result.SetMeta("keys_written", len(written))
	return result
}

func (n *InputNode) Destroy() error { return nil }
