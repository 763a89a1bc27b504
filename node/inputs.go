package node

import (
	"fmt"

	"github.com/c360studio/dagflow/execution"
	"github.com/c360studio/dagflow/workflow"
)

// Input resolution modes. SINGLE is the legacy single-slot read;
// MULTIPLE builds an aliased object from several slots; MERGED
// collapses that object under one key.
const (
	InputModeSingle   = "SINGLE"
	InputModeMultiple = "MULTIPLE"
	InputModeMerged   = "MERGED"
)

// InputParam declares one slot of a multi-input block.
type InputParam struct {
	Key          string
	Alias        string
	Required     bool
	DataType     string
	DefaultValue any
	Description  string
}

// InputSpec is a node's declared input surface, parsed from its config.
// A node with neither inputKey nor an inputs block resolves to nil
// input.
type InputSpec struct {
	Mode     string
	InputKey string
	MergeKey string
	Params   []InputParam
}

// ParseInputSpec reads the input declaration out of a node config.
// Layout:
//
//	inputKey: x                      # legacy SINGLE
//	inputs:
//	  mode: MULTIPLE | MERGED
//	  mergeKey: payload              # MERGED only
//	  parameters:
//	    - key: a
//	      alias: left
//	      required: true
//	      dataType: int
//	      defaultValue: 0
func ParseInputSpec(config map[string]any) *InputSpec {
	spec := &InputSpec{Mode: InputModeSingle, InputKey: configString(config, "inputKey")}

	block := configMap(config, "inputs")
	if block == nil {
		return spec
	}

	if mode := configString(block, "mode"); mode != "" {
		spec.Mode = mode
	}
	spec.MergeKey = configString(block, "mergeKey")

	params, _ := block["parameters"].([]any)
	for _, raw := range params {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		spec.Params = append(spec.Params, InputParam{
			Key:          configString(p, "key"),
			Alias:        configString(p, "alias"),
			Required:     configBool(p, "required", false),
			DataType:     configString(p, "dataType"),
			DefaultValue: p["defaultValue"],
			Description:  configString(p, "description"),
		})
	}
	return spec
}

// Validate checks the structural rules of the declaration.
func (s *InputSpec) Validate() *workflow.ValidationResult {
	result := &workflow.ValidationResult{}

	switch s.Mode {
	case InputModeSingle:
	case InputModeMultiple, InputModeMerged:
		if len(s.Params) == 0 {
			result.AddError("inputs.parameters", s.Mode+" mode requires at least one parameter")
		}
		if s.Mode == InputModeMerged && s.MergeKey == "" {
			result.AddError("inputs.mergeKey", "MERGED mode requires a mergeKey")
		}
	default:
		result.AddError("inputs.mode", fmt.Sprintf("unknown input mode %q", s.Mode))
	}

	seen := make(map[string]bool, len(s.Params))
	for i, p := range s.Params {
		field := fmt.Sprintf("inputs.parameters[%d]", i)
		if p.Key == "" {
			result.AddError(field+".key", "parameter key is required")
		}
		alias := p.Alias
		if alias == "" {
			alias = p.Key
		}
		if seen[alias] {
			result.AddError(field+".alias", fmt.Sprintf("duplicate alias %q", alias))
		}
		seen[alias] = true
		if p.DataType != "" && !validDataType(p.DataType) {
			result.AddError(field+".dataType", fmt.Sprintf("unknown data type %q", p.DataType))
		}
	}
	return result
}

// Resolve reads the declared slots from the context and builds the
// node's input payload. Errors carry the INPUT_RESOLUTION code; the
// scheduler records them as a pre-execution failure.
func (s *InputSpec) Resolve(ec *execution.Context) (any, error) {
	switch s.Mode {
	case InputModeSingle:
		if s.InputKey == "" {
			return nil, nil
		}
		v, _ := ec.Get(s.InputKey)
		return v, nil

	case InputModeMultiple, InputModeMerged:
		payload := make(map[string]any, len(s.Params))
		for _, p := range s.Params {
			v, present := ec.Get(p.Key)
			if !present {
				if p.Required {
					return nil, fmt.Errorf("required input %q is missing", p.Key)
				}
				v = p.DefaultValue
			}
			if v != nil && p.DataType != "" {
				if err := checkDataType(v, p.DataType); err != nil {
					return nil, fmt.Errorf("input %q: %w", p.Key, err)
				}
			}
			alias := p.Alias
			if alias == "" {
				alias = p.Key
			}
			payload[alias] = v
		}
		if s.Mode == InputModeMerged {
			return map[string]any{s.MergeKey: payload}, nil
		}
		return payload, nil
	}

	return nil, fmt.Errorf("unknown input mode %q", s.Mode)
}

func validDataType(t string) bool {
	switch t {
	case "string", "int", "long", "double", "bool", "array", "object":
		return true
	}
	return false
}

// checkDataType verifies the decoded shape of a context value against
// the declared type. Numeric slots accept the shapes YAML and JSON
// decoding produce.
func checkDataType(v any, t string) error {
	ok := false
	switch t {
	case "string":
		_, ok = v.(string)
	case "int", "long":
		switch n := v.(type) {
		case int, int64:
			ok = true
		case float64:
			ok = n == float64(int64(n))
		}
	case "double":
		switch v.(type) {
		case float64, int, int64:
			ok = true
		}
	case "bool":
		_, ok = v.(bool)
	case "array":
		_, ok = v.([]any)
	case "object":
		_, ok = v.(map[string]any)
	}
	if !ok {
		return fmt.Errorf("value of type %T is not a %s", v, t)
	}
	return nil
}
