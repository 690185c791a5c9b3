package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema generates the JSON Schema for foresight configuration files.
// Extension sections (logging and friends) are not described and are allowed
// through as additional properties.
func GenerateSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		// Only fields tagged `jsonschema:"required"` are required.
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		// Property names follow the yaml keys users write.
		FieldNameTag: "yaml",
	}

	s := r.Reflect(&Config{})
	s.Title = "foresight configuration"
	s.Description = "Connection and timing settings for the SAGE3 app router and kernel proxy."

	return json.MarshalIndent(s, "", "  ")
}
