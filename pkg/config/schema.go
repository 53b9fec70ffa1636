package config

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaJSON describes the accepted config shape. Unknown keys are rejected
// so typos surface as errors instead of silently falling back to defaults.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "analysis": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "workers": {"type": "integer", "minimum": 0},
        "max_file_size": {"type": "integer", "minimum": 0},
        "include_verdicts": {"type": "boolean"}
      }
    },
    "rules": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "entry_point_decorators": {"type": "array", "items": {"type": "string"}},
        "lifecycle_method_names": {"type": "array", "items": {"type": "string"}},
        "known_base_classes": {"type": "array", "items": {"type": "string"}},
        "protocol_method_pattern": {"type": "string"},
        "min_suffix_segments": {"type": "integer", "minimum": 1},
        "string_references": {"type": "boolean"}
      }
    },
    "exclude": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "patterns": {"type": "array", "items": {"type": "string"}},
        "use_gitignore": {"type": "boolean"}
      }
    },
    "cache": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "dir": {"type": "string"},
        "ttl": {"type": "integer", "minimum": 0}
      }
    },
    "output": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "format": {"type": "string", "enum": ["text", "json", "toon", "markdown"]},
        "color": {"type": "boolean"},
        "verbose": {"type": "boolean"}
      }
    }
  }
}`

var schema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("vestige.schema.json", doc); err != nil {
		panic(err)
	}
	sch, err := c.Compile("vestige.schema.json")
	if err != nil {
		panic(err)
	}
	return sch
}

// validateRaw checks the raw config map against the schema. The map is
// round-tripped through JSON so every parser's value types line up with
// what the validator expects.
func validateRaw(raw map[string]interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
