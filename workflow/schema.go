package workflow

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// documentSchema is the JSON-Schema for the workflow document shape.
// Structural invariants that a schema cannot express (unique ids,
// existing edge endpoints, acyclicity) are checked by Workflow.Validate.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["workflow", "nodes"],
  "properties": {
    "workflow": {
      "type": "object",
      "required": ["id", "name"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "description": {"type": "string"},
        "version": {"type": "string"},
        "author": {"type": "string"},
        "metadata": {"type": "object"}
      }
    },
    "globalConfig": {
      "type": "object",
      "properties": {
        "timeout": {"type": "integer", "minimum": 0},
        "logLevel": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "maxConcurrentNodes": {"type": "integer", "minimum": 1}
      }
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "type": {"type": "string", "enum": ["input", "output", "plugin", "script", "diagnosis", "reference"]},
          "enabled": {"type": "boolean"},
          "position": {
            "type": "object",
            "properties": {
              "x": {"type": "number"},
              "y": {"type": "number"}
            }
          },
          "config": {"type": "object"}
        }
      }
    },
    "connections": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "condition": {"type": "string"}
        }
      }
    }
  }
}`

// ValidateDocumentSchema checks a YAML workflow document against the
// document schema. It parses the YAML generically first so that schema
// findings refer to the document as written.
func ValidateDocumentSchema(data []byte) error {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("parse workflow document: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewGoLoader(generic),
	)
	if err != nil {
		return fmt.Errorf("validate workflow document: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("workflow document schema violation: %v", msgs)
	}
	return nil
}
