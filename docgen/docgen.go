// Package docgen emits operator-facing artifacts for registered
// plugins: a commented YAML configuration skeleton, a JSON-Schema
// document for editors, and a Markdown reference page. The engine never
// consumes these.
package docgen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/dagflow/plugin"
)

// YAMLSkeleton renders a commented configuration skeleton for a plugin.
func YAMLSkeleton(info plugin.Info, specs []plugin.ParameterSpec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s", info.Name)
	if info.Version != "" {
		fmt.Fprintf(&b, " (v%s)", info.Version)
	}
	b.WriteString("\n")
	if info.Description != "" {
		fmt.Fprintf(&b, "# %s\n", info.Description)
	}
	fmt.Fprintf(&b, "pluginType: %s\n", info.PluginID)

	for _, spec := range sorted(specs) {
		b.WriteString("\n")
		if spec.Description != "" {
			fmt.Fprintf(&b, "# %s\n", spec.Description)
		}
		var notes []string
		notes = append(notes, "type: "+string(spec.Type))
		if spec.Required {
			notes = append(notes, "required")
		}
		if len(spec.Options) > 0 {
			notes = append(notes, "one of: "+strings.Join(spec.Options, ", "))
		}
		if spec.Sensitive {
			notes = append(notes, "sensitive")
		}
		fmt.Fprintf(&b, "# %s\n", strings.Join(notes, "; "))

		fmt.Fprintf(&b, "%s: %s\n", spec.Name, yamlValue(spec))
	}
	return b.String()
}

// JSONSchema builds a draft-07 schema describing a plugin's config.
// The result marshals directly with encoding/json.
func JSONSchema(info plugin.Info, specs []plugin.ParameterSpec) map[string]any {
	properties := map[string]any{
		"pluginType": map[string]any{"const": info.PluginID},
	}
	required := []string{"pluginType"}

	for _, spec := range specs {
		prop := map[string]any{}
		if spec.Description != "" {
			prop["description"] = spec.Description
		}
		switch spec.Type {
		case plugin.TypeInt, plugin.TypeLong:
			prop["type"] = "integer"
		case plugin.TypeDouble:
			prop["type"] = "number"
		case plugin.TypeBool:
			prop["type"] = "boolean"
		case plugin.TypeList:
			prop["type"] = "array"
		case plugin.TypeJSON:
			// Any shape.
		case plugin.TypeEnum:
			prop["type"] = "string"
			if len(spec.Options) > 0 {
				prop["enum"] = spec.Options
			}
		default:
			prop["type"] = "string"
			if spec.Pattern != "" {
				prop["pattern"] = spec.Pattern
			}
		}
		if spec.DefaultValue != nil {
			prop["default"] = spec.DefaultValue
		}
		properties[spec.Name] = prop
		if spec.Required && spec.DefaultValue == nil {
			required = append(required, spec.Name)
		}
	}
	sort.Strings(required)

	return map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       info.Name,
		"description": info.Description,
		"type":        "object",
		"properties":  properties,
		"required":    required,
	}
}

// Markdown renders the reference page for a plugin.
func Markdown(info plugin.Info, specs []plugin.ParameterSpec) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", info.Name)
	if info.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", info.Description)
	}
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Plugin ID | `%s` |\n", info.PluginID)
	if info.Version != "" {
		fmt.Fprintf(&b, "| Version | %s |\n", info.Version)
	}
	if info.Author != "" {
		fmt.Fprintf(&b, "| Author | %s |\n", info.Author)
	}
	b.WriteString("\n## Parameters\n\n")

	if len(specs) == 0 {
		b.WriteString("This plugin takes no parameters.\n")
		return b.String()
	}

	b.WriteString("| Name | Type | Required | Default | Description |\n")
	b.WriteString("|------|------|----------|---------|-------------|\n")
	for _, spec := range sorted(specs) {
		def := ""
		if spec.DefaultValue != nil {
			def = fmt.Sprintf("`%v`", spec.DefaultValue)
		}
		required := ""
		if spec.Required {
			required = "yes"
		}
		desc := spec.Description
		if len(spec.Options) > 0 {
			desc = strings.TrimSuffix(desc, ".") + ". One of: " + strings.Join(spec.Options, ", ")
		}
		fmt.Fprintf(&b, "| `%s` | %s | %s | %s | %s |\n",
			spec.Name, spec.Type, required, def, desc)
	}
	return b.String()
}

func sorted(specs []plugin.ParameterSpec) []plugin.ParameterSpec {
	out := make([]plugin.ParameterSpec, len(specs))
	copy(out, specs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Required != out[j].Required {
			return out[i].Required
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func yamlValue(spec plugin.ParameterSpec) string {
	if spec.DefaultValue != nil {
		return fmt.Sprintf("%v", spec.DefaultValue)
	}
	switch spec.Type {
	case plugin.TypeInt, plugin.TypeLong:
		return "0"
	case plugin.TypeDouble:
		return "0.0"
	case plugin.TypeBool:
		return "false"
	case plugin.TypeList:
		return "[]"
	case plugin.TypeJSON:
		return "{}"
	default:
		return `""`
	}
}
