package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

// ScriptNode evaluates a user expression against context-derived
// bindings. Config:
//
//	script      the expression source (alias: expression)
//	outputKey   context slot for the returned value, optional
//	inputKey / inputs   see ParseInputSpec
//
// The expression sees four bindings: input (the resolved payload),
// context (get/set/getWorkflowId/getExecutionId), logger
// (debug/info/warn/error) and utils (now). That surface is complete;
// nothing else is injected.
type ScriptNode struct {
	decl   *workflow.Node
	logger *slog.Logger

	program *vm.Program
	inputs  *InputSpec
}

func (n *ScriptNode) ID() string { return n.decl.ID }

func (n *ScriptNode) source() string {
	if s := configString(n.decl.Config, "script"); s != "" {
		return s
	}
	return configString(n.decl.Config, "expression")
}

func (n *ScriptNode) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	src := n.source()
	if src == "" {
		result.AddError("config.script", "script node requires a script")
	} else {
		program, err := expr.Compile(src)
		if err != nil {
			result.AddError("config.script", fmt.Sprintf("script does not compile: %v", err))
		} else {
			n.program = program
		}
	}

	n.inputs = ParseInputSpec(n.decl.Config)
	result.Merge(n.inputs.Validate())
	return result
}

func (n *ScriptNode) Execute(ctx context.Context, ec *execution.Context) *execution.NodeResult {
	if n.program == nil {
		// Validate not run or failed; compile once here so direct use
		// outside the factory still works.
		program, err := expr.Compile(n.source())
		if err != nil {
			return execution.NewNodeFailure(n.decl.ID, execution.CodeScriptError, err.Error())
		}
		n.program = program
	}
	if n.inputs == nil {
		n.inputs = ParseInputSpec(n.decl.Config)
	}

	input, err := n.inputs.Resolve(ec)
	if err != nil {
		r := execution.NewNodeFailure(n.decl.ID, execution.CodeInputResolution, err.Error())
		r.SetMeta("phase", "input-resolution")
		return r
	}

	value, err := expr.Run(n.program, n.bindings(input, ec))
	if err != nil {
		return execution.NewNodeFailure(n.decl.ID, execution.CodeScriptError, err.Error())
	}

	if outputKey := configString(n.decl.Config, "outputKey"); outputKey != "" {
		ec.Set(outputKey, value)
	}
	return execution.NewNodeSuccess(n.decl.ID, value)
}

func (n *ScriptNode) Destroy() error { return nil }

// bindings builds the expression environment. context.set returns true
// so it composes inside boolean expressions.
func (n *ScriptNode) bindings(input any, ec *execution.Context) map[string]any {
	return map[string]any{
		"input": input,
		"context": map[string]any{
			"get": func(key string) any {
				v, _ := ec.Get(key)
				return v
			},
			"set": func(key string, value any) bool {
				ec.Set(key, value)
				return true
			},
			"getWorkflowId":  func() string { return ec.WorkflowID() },
			"getExecutionId": func() string { return ec.ExecutionID() },
		},
		"logger": map[string]any{
			"debug": n.logFn(slog.LevelDebug),
			"info":  n.logFn(slog.LevelInfo),
			"warn":  n.logFn(slog.LevelWarn),
			"error": n.logFn(slog.LevelError),
		},
		"utils": map[string]any{
			"now": func() string { return time.Now().Format(time.RFC3339) },
		},
	}
}

func (n *ScriptNode) logFn(level slog.Level) func(msg string, fields ...any) bool {
	return func(msg string, fields ...any) bool {
		n.logger.Log(context.Background(), level, msg, "fields", fields)
		return true
	}
}

// EvalCondition evaluates a boolean expression against the execution
// context, with the same context binding scripts see plus the bare
// context snapshot as identifiers. Used for edge conditions and
// CONDITIONAL reference predicates.
func EvalCondition(condition string, ec *execution.Context) (bool, error) {
	env := ec.Snapshot()
	env["context"] = map[string]any{
		"get": func(key string) any {
			v, _ := ec.Get(key)
			return v
		},
		"getWorkflowId":  func() string { return ec.WorkflowID() },
		"getExecutionId": func() string { return ec.ExecutionID() },
	}

	value, err := expr.Eval(condition, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition %q: %w", condition, err)
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q evaluated to %T, not bool", condition, value)
	}
	return b, nil
}
