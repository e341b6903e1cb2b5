package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns a JSON Schema describing the persisted config.json
// document, for editor validation of hand-edited files.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true}
	sch := r.Reflect(&Config{})
	sch.Title = "toolvm configuration"
	sch.Description = "Tool templates plus per-tool installation state."
	return sch
}

// MarshalSchema indents a schema to JSON bytes.
func MarshalSchema(sch *jsonschema.Schema) ([]byte, error) {
	return json.MarshalIndent(sch, "", "  ")
}
