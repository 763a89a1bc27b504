package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/workflow"
)

// PluginNode delegates data acquisition to a registered plugin. Config:
//
//	pluginType   registered plugin id (alias: sourceType)
//	outputKey    context slot for the payload
//	...          the parameters declared by the plugin
//
// The connection opened for a read is exclusively owned by this node
// and closed on every exit path.
type PluginNode struct {
	decl     *workflow.Node
	logger   *slog.Logger
	registry *plugin.Registry
}

func (n *PluginNode) ID() string { return n.decl.ID }

func (n *PluginNode) pluginType() string {
	if t := configString(n.decl.Config, "pluginType"); t != "" {
		return t
	}
	return configString(n.decl.Config, "sourceType")
}

func (n *PluginNode) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	if n.registry == nil {
		result.AddError("config", "no plugin registry is available")
	}
	if n.pluginType() == "" {
		result.AddError("config.pluginType", "plugin node requires a pluginType")
	}
	if configString(n.decl.Config, "outputKey") == "" {
		result.AddWarning("config.outputKey", "no outputKey: the payload is only available in the node result")
	}
	return result
}

func (n *PluginNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	id := n.pluginType()

	p, err := n.registry.Get(id)
	if err != nil {
		if errors.Is(err, plugin.ErrNotFound) {
			return execution.NewNodeFailure(n.decl.ID, execution.CodePluginNotFound,
				fmt.Sprintf("plugin %q is not registered", id))
		}
		return execution.NewNodeFailure(n.decl.ID, execution.CodePluginNotFound, err.Error())
	}

	config := n.pluginConfig()
	coerced, err := plugin.CoerceConfig(p.SupportedParameters(), config)
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeInvalidConfig, err.Error())
	}
	if vr := p.ValidateConfig(coerced); !vr.Valid() {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeInvalidConfig,
			fmt.Sprintf("plugin %q rejected config: %v", id, vr.Errors))
	}

	conn, err := p.CreateConnection(ctx, coerced)
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeConnectionFailed,
			fmt.Sprintf("plugin %q: %v", id, err))
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			n.logger.Warn("Connection close failed", "plugin_id", id, "error", cerr)
		}
	}()

	data, err := conn.ReadData(ctx)
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeReadFailed,
			fmt.Sprintf("plugin %q read: %v", id, err))
	}

	if outputKey := configString(n.decl.Config, "outputKey"); outputKey != "" {
		ec.Set(outputKey, data)
	}

	result := execution.NewNodeSuccess(n.decl.ID, data)
	result.SetMeta("plugin_id", id)
	return result
}

// TestConnection probes the configured plugin out of band, for config
// tooling rather than normal execution.
func (n *PluginNode) TestConnection(ctx context.Context) *plugin.TestResult {
	p, err := n.registry.Get(n.pluginType())
	if err != nil {
		return &plugin.TestResult{Success: false, Message: err.Error()}
	}
	return p.TestConnection(ctx, n.pluginConfig())
}

func (n *PluginNode) Destroy() error { return nil }

// pluginConfig strips the node-level keys so only plugin parameters are
// handed to the plugin.
func (n *PluginNode) pluginConfig() map[string]any {
	out := make(map[string]any, len(n.decl.Config))
	for k, v := range n.decl.Config {
		switch k {
		case "pluginType", "sourceType", "outputKey", "inputKey", "inputs":
			continue
		}
		out[k] = v
	}
	return out
}
