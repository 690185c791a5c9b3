// Command schema-generator writes the JSON schemas for foresight.yml and
// its logging section into schema/.
package main

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/sage3/foresight/config"
	"github.com/sage3/foresight/logging"
)

func main() {
	outputDir := "schema"
	if len(os.Args) > 1 {
		outputDir = os.Args[1]
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}

	base, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}
	write(filepath.Join(outputDir, "foresight.schema.json"), base)

	r := &jsonschema.Reflector{
		AllowAdditionalProperties: true,
		ExpandedStruct:            true,
		FieldNameTag:              "yaml",
	}
	logSchema := r.Reflect(&logging.Config{})
	logSchema.Title = "Foresight Logging Configuration"
	logSchema.Description = "Schema for the 'logging' section of foresight.yml."
	logSchema.Required = nil

	data, err := json.MarshalIndent(logSchema, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling logging schema: %v", err)
	}
	write(filepath.Join(outputDir, "logging.schema.json"), data)
}

func write(path string, data []byte) {
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}
	log.Printf("Generated %s", path)
}
