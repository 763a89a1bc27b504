package notify

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Interpolate resolves ${key} and ${ctx.key} placeholders in a content
// template. Bare keys resolve against the node's input payload first
// and fall back to the execution context snapshot; ctx-prefixed keys
// address the context directly. Unresolved placeholders are left
// verbatim so broken templates stay visible.
func Interpolate(template string, payload map[string]any, ctxData map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")

		if ctxKey, ok := strings.CutPrefix(key, "ctx."); ok {
			if v, exists := ctxData[ctxKey]; exists {
				return formatValue(v)
			}
			return match
		}
		if v, exists := payload[key]; exists {
			return formatValue(v)
		}
		if v, exists := ctxData[key]; exists {
			return formatValue(v)
		}
		return match
	})
}

func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
