// Package node implements the execution behavior behind each workflow
// node kind: data ingress, expression scripts, collection diagnosis,
// templated notifications, plugin-backed data sources, and sub-workflow
// references. Node construction is done by a Factory holding the
// process-level services the kinds depend on.
package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/notify"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/workflow"
)

// Node is the operation surface shared by every node kind. Validate is
// pure and runs once at workflow build; Execute runs at most once per
// execution and must not panic across the boundary (the scheduler
// converts panics it catches into failure results, but implementations
// return failures themselves). Duration stamping is the scheduler's
// job, not the node's.
type Node interface {
	// ID returns the node id within its workflow.
	ID() string

	// Validate inspects the node config, never the context.
	Validate() *workflow.ValidationResult

	// Execute performs the node's work against the shared context.
	Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult

	// Destroy releases long-lived handles. Most kinds hold none.
	Destroy() error
}

// ReferenceInvoker runs a sub-workflow invocation on behalf of a
// reference node. Implemented by the engine; injected here to keep the
// node kinds free of scheduler internals.
type ReferenceInvoker interface {
	Invoke(ctx context.Context, spec *RefSpec, caller *execution.Context) *execution.NodeResult
}

// Factory builds executable nodes from their declarative descriptions.
// All fields are optional; a kind whose service is missing fails
// validation instead of panicking at execute time.
type Factory struct {
	Logger   *slog.Logger
	Plugins  *plugin.Registry
	Notifier *notify.Dispatcher
	Invoker  ReferenceInvoker
}

// Build constructs the executable node for a declaration and validates
// it. The returned validation result carries kind-specific findings;
// callers reject the workflow when it is invalid.
func (f *Factory) Build(decl *workflow.Node) (Node, *workflow.ValidationResult, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node_id", decl.ID, "node_type", string(decl.Kind))

	var n Node
	switch decl.Kind {
	case workflow.KindInput:
		n = &InputNode{decl: decl, logger: logger}
	case workflow.KindScript:
		n = &ScriptNode{decl: decl, logger: logger}
	case workflow.KindDiagnosis:
		n = &DiagnosisNode{decl: decl, logger: logger}
	case workflow.KindOutput:
		n = &NotificationNode{decl: decl, logger: logger, dispatcher: f.Notifier}
	case workflow.KindPlugin:
		n = &PluginNode{decl: decl, logger: logger, registry: f.Plugins}
	case workflow.KindReference:
		n = &ReferenceNode{decl: decl, logger: logger, invoker: f.Invoker}
	default:
		return nil, nil, fmt.Errorf("unknown node type %q", decl.Kind)
	}

	return n, n.Validate(), nil
}

// Config accessors shared by the node kinds. Workflow documents decode
// through YAML or JSON, so the value shapes are the ones those decoders
// produce.

func configString(config map[string]any, key string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return ""
}

func configBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

func configInt(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func configMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return nil
}

func configStringMap(config map[string]any, key string) map[string]string {
	raw := configMap(config, key)
	if raw == nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func configStringList(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
