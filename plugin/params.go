package plugin

import (
	"fmt"
	"regexp"
	"strconv"
)

// ParamType is the closed set of parameter value types. Config coercion
// handles the bounded (source shape x type) matrix; there is no
// reflection-driven coercion.
type ParamType string

const (
	TypeString   ParamType = "string"
	TypeInt      ParamType = "int"
	TypeLong     ParamType = "long"
	TypeDouble   ParamType = "double"
	TypeBool     ParamType = "bool"
	TypePassword ParamType = "password"
	TypeFilePath ParamType = "file-path"
	TypeURL      ParamType = "url"
	TypeJSON     ParamType = "json"
	TypeEnum     ParamType = "enum"
	TypeList     ParamType = "list"
)

// ParameterSpec declares one config parameter of a plugin.
type ParameterSpec struct {
	Name         string    `yaml:"name" json:"name"`
	DisplayName  string    `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Description  string    `yaml:"description,omitempty" json:"description,omitempty"`
	Type         ParamType `yaml:"type" json:"type"`
	Required     bool      `yaml:"required,omitempty" json:"required,omitempty"`
	DefaultValue any       `yaml:"defaultValue,omitempty" json:"defaultValue,omitempty"`
	Options      []string  `yaml:"options,omitempty" json:"options,omitempty"`
	Category     string    `yaml:"category,omitempty" json:"category,omitempty"`
	Sensitive    bool      `yaml:"sensitive,omitempty" json:"sensitive,omitempty"`
	Pattern      string    `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// ValidateParams checks config against the declared specs: required
// presence, type coercibility, enum membership and pattern matching.
// Defaults are not applied here; use CoerceConfig for that.
func ValidateParams(specs []ParameterSpec, config map[string]any) *ValidationResult {
	result := &ValidationResult{}

	for _, spec := range specs {
		raw, present := config[spec.Name]
		if !present || raw == nil {
			if spec.Required && spec.DefaultValue == nil {
				result.AddError("parameter %q is required", spec.Name)
			}
			continue
		}

		value, err := CoerceValue(raw, spec.Type)
		if err != nil {
			result.AddError("parameter %q: %v", spec.Name, err)
			continue
		}

		if spec.Type == TypeEnum && len(spec.Options) > 0 {
			s := value.(string)
			found := false
			for _, opt := range spec.Options {
				if opt == s {
					found = true
					break
				}
			}
			if !found {
				result.AddError("parameter %q: %q is not one of %v", spec.Name, s, spec.Options)
			}
		}

		if spec.Pattern != "" {
			if s, ok := value.(string); ok {
				re, err := regexp.Compile(spec.Pattern)
				if err != nil {
					result.AddWarning("parameter %q has an invalid pattern: %v", spec.Name, err)
				} else if !re.MatchString(s) {
					result.AddError("parameter %q: %q does not match %q", spec.Name, s, spec.Pattern)
				}
			}
		}
	}

	return result
}

// CoerceConfig applies defaults and coerces every declared parameter to
// its spec type. Unknown keys pass through untouched.
func CoerceConfig(specs []ParameterSpec, config map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}

	for _, spec := range specs {
		raw, present := out[spec.Name]
		if !present || raw == nil {
			if spec.DefaultValue != nil {
				out[spec.Name] = spec.DefaultValue
			} else if spec.Required {
				return nil, fmt.Errorf("parameter %q is required", spec.Name)
			}
			continue
		}
		value, err := CoerceValue(raw, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", spec.Name, err)
		}
		out[spec.Name] = value
	}
	return out, nil
}

// CoerceValue converts a raw config value to the target type. The
// accepted source shapes are the ones YAML and JSON decoding produce:
// string, bool, int, int64, float64, []any, map[string]any.
func CoerceValue(raw any, t ParamType) (any, error) {
	switch t {
	case TypeString, TypePassword, TypeFilePath, TypeURL, TypeEnum:
		switch v := raw.(type) {
		case string:
			return v, nil
		case int, int64, float64, bool:
			return fmt.Sprintf("%v", v), nil
		}
		return nil, fmt.Errorf("cannot coerce %T to %s", raw, t)

	case TypeInt:
		n, err := coerceInt64(raw)
		if err != nil {
			return nil, err
		}
		return int(n), nil

	case TypeLong:
		return coerceInt64(raw)

	case TypeDouble:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as double", v)
			}
			return f, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to double", raw)

	case TypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot parse %q as bool", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to bool", raw)

	case TypeJSON:
		switch raw.(type) {
		case map[string]any, []any, string:
			return raw, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to json", raw)

	case TypeList:
		if v, ok := raw.([]any); ok {
			return v, nil
		}
		return nil, fmt.Errorf("cannot coerce %T to list", raw)
	}

	return nil, fmt.Errorf("unknown parameter type %q", t)
}

func coerceInt64(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as integer", v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("cannot coerce %T to integer", raw)
}
