package node

import (
	"context"
	"log/slog"
	"reflect"
	"testing"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/plugin/builtins"
	"github.com/c360studio/dagflow/workflow"
)

func newPluginFixture(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry(nil)
	if err := r.Register(builtins.MockFactory()); err != nil {
		t.Fatal(err)
	}
	return r
}

func newPluginNode(r *plugin.Registry, config map[string]any) *PluginNode {
	return &PluginNode{
		decl:     &workflow.Node{ID: "source", Kind: workflow.KindPlugin, Enabled: true, Config: config},
		logger:   slog.Default(),
		registry: r,
	}
}

func TestPluginNodeExecute(t *testing.T) {
	r := newPluginFixture(t)
	n := newPluginNode(r, map[string]any{
		"pluginType": "mock",
		"outputKey":  "rows",
		"data":       []any{map[string]any{"id": 1}},
	})

	ec := execution.NewContext("wf", nil)
	result := n.Execute(context.Background(), ec)
	if !result.Success {
		t.Fatalf("Execute() failed: %s (%s)", result.Message, result.Code)
	}

	want := []any{map[string]any{"id": 1}}
	if !reflect.DeepEqual(result.Data, want) {
		t.Errorf("unexpected payload: %v", result.Data)
	}
	if v, _ := ec.Get("rows"); !reflect.DeepEqual(v, want) {
		t.Errorf("expected payload at outputKey, got %v", v)
	}
	if result.Metadata["plugin_id"] != "mock" {
		t.Errorf("expected plugin metadata, got %v", result.Metadata)
	}
}

func TestPluginNodeSourceTypeAlias(t *testing.T) {
	r := newPluginFixture(t)
	n := newPluginNode(r, map[string]any{
		"sourceType": "mock",
		"records":    2,
	})

	result := n.Execute(context.Background(), execution.NewContext("wf", nil))
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Message)
	}
	if rows, ok := result.Data.([]any); !ok || len(rows) != 2 {
		t.Errorf("expected 2 generated records, got %v", result.Data)
	}
}

func TestPluginNodeFailureCodes(t *testing.T) {
	r := newPluginFixture(t)

	tests := []struct {
		name   string
		config map[string]any
		code   string
	}{
		{
			name:   "unknown plugin",
			config: map[string]any{"pluginType": "ghost"},
			code:   execution.CodePluginNotFound,
		},
		{
			name:   "bad config shape",
			config: map[string]any{"pluginType": "mock", "delayMs": "soon"},
			code:   execution.CodeInvalidConfig,
		},
		{
			name:   "read failure",
			config: map[string]any{"pluginType": "mock", "failRead": true},
			code:   execution.CodeReadFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newPluginNode(r, tt.config)
			result := n.Execute(context.Background(), execution.NewContext("wf", nil))
			if result.Success || result.Code != tt.code {
				t.Errorf("expected code %s, got %+v", tt.code, result)
			}
		})
	}
}

func TestPluginNodeValidate(t *testing.T) {
	r := newPluginFixture(t)

	if result := newPluginNode(r, map[string]any{"pluginType": "mock"}).Validate(); !result.Valid() {
		t.Errorf("expected valid node: %v", result.Errors)
	}
	if result := newPluginNode(r, map[string]any{}).Validate(); result.Valid() {
		t.Error("expected missing pluginType to fail validation")
	}
	if result := newPluginNode(nil, map[string]any{"pluginType": "mock"}).Validate(); result.Valid() {
		t.Error("expected missing registry to fail validation")
	}
}

func TestInputNodeExecute(t *testing.T) {
	n := &InputNode{
		decl: &workflow.Node{ID: "seed", Kind: workflow.KindInput, Enabled: true, Config: map[string]any{
			"values":    map[string]any{"a": 1, "b": "two"},
			"outputKey": "c",
			"value":     true,
		}},
		logger: slog.Default(),
	}

	ec := execution.NewContext("wf", nil)
	result := n.Execute(context.Background(), ec)
	if !result.Success {
		t.Fatalf("Execute() failed: %s", result.Message)
	}

	for key, want := range map[string]any{"a": 1, "b": "two", "c": true} {
		if v, _ := ec.Get(key); v != want {
			t.Errorf("expected %s=%v, got %v", key, want, v)
		}
	}
	if result.Metadata["keys_written"] != 3 {
		t.Errorf("expected 3 keys written, got %v", result.Metadata)
	}
}

func TestInputNodeValidate(t *testing.T) {
	bad := &InputNode{
		decl: &workflow.Node{ID: "seed", Kind: workflow.KindInput, Config: map[string]any{
			"outputKey": "c", // value missing
		}},
		logger: slog.Default(),
	}
	if result := bad.Validate(); result.Valid() {
		t.Error("expected outputKey without value to fail validation")
	}
}

func TestFactoryBuild(t *testing.T) {
	f := &Factory{Plugins: newPluginFixture(t)}

	kinds := map[workflow.NodeKind]map[string]any{
		workflow.KindInput:     {"values": map[string]any{"x": 1}},
		workflow.KindScript:    {"script": "1"},
		workflow.KindDiagnosis: {"diagnosisType": DiagnosisErrorDetection, "inputKey": "r", "outputKey": "f"},
		workflow.KindPlugin:    {"pluginType": "mock"},
	}

	for kind, config := range kinds {
		n, result, err := f.Build(&workflow.Node{ID: "n", Kind: kind, Enabled: true, Config: config})
		if err != nil {
			t.Fatalf("Build(%s) error = %v", kind, err)
		}
		if n == nil || !result.Valid() {
			t.Errorf("Build(%s) invalid: %v", kind, result.Errors)
		}
	}

	// Kinds whose backing service is missing fail validation, not Build.
	_, result, err := f.Build(&workflow.Node{ID: "n", Kind: workflow.KindOutput, Enabled: true,
		Config: map[string]any{"providerType": "console"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Valid() {
		t.Error("expected missing dispatcher to fail validation")
	}

	if _, _, err := f.Build(&workflow.Node{ID: "n", Kind: "teleport"}); err == nil {
		t.Error("expected unknown kind to error")
	}
}
