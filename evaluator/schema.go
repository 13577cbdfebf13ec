package evaluator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: true,
	Anonymous:                 true,
}

func reflectSchema(v any) *jsonschema.Schema {
	s := reflector.Reflect(v)
	s.Version = ""
	return s
}

var (
	critiqueSchema     = reflectSchema(&Critique{})
	stopDecisionSchema = reflectSchema(&StopDecision{})
	extractionSchema   = reflectSchema(&Extraction{})
)

// CritiqueSchema returns the schema teacher critiques are constrained to.
// The returned value is shared and must not be modified.
func CritiqueSchema() *jsonschema.Schema { return critiqueSchema }

// StopDecisionSchema returns the schema of the meta-evaluation verdict.
// The returned value is shared and must not be modified.
func StopDecisionSchema() *jsonschema.Schema { return stopDecisionSchema }

// DefaultExtractionSchema returns a fresh copy of the built-in event
// extraction schema, used as the starting schema of a run.
func DefaultExtractionSchema() *jsonschema.Schema {
	return reflectSchema(&Extraction{})
}

// SchemaJSON renders schema as indented JSON.
func SchemaJSON(schema *jsonschema.Schema) (string, error) {
	if schema == nil {
		return "", fmt.Errorf("schema is nil")
	}
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(b), nil
}

// CloneSchema returns a deep copy of schema.
func CloneSchema(schema *jsonschema.Schema) *jsonschema.Schema {
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return schema
	}
	clone := new(jsonschema.Schema)
	if err := json.Unmarshal(b, clone); err != nil {
		return schema
	}
	return clone
}

// ParseSchema parses a schema document authored by a model. Code fences and
// surrounding prose are removed first. The result must describe an object.
func ParseSchema(raw string) (*jsonschema.Schema, error) {
	cleaned := CleanJSON(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty schema", ErrMalformed)
	}
	schema := new(jsonschema.Schema)
	if err := json.Unmarshal([]byte(cleaned), schema); err != nil {
		return nil, fmt.Errorf("%w: schema: %v", ErrMalformed, err)
	}
	if schema.Type != "object" {
		return nil, fmt.Errorf("%w: schema type is %q, want \"object\"", ErrMalformed, schema.Type)
	}
	if schema.Properties == nil || schema.Properties.Len() == 0 {
		return nil, fmt.Errorf("%w: schema has no properties", ErrMalformed)
	}
	return schema, nil
}

// LoadSchemaFile reads a starting schema from disk.
func LoadSchemaFile(path string) (*jsonschema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	schema, err := ParseSchema(string(data))
	if err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return schema, nil
}

// requiredFields lists the top-level keys schema marks as required.
func requiredFields(schema *jsonschema.Schema) []string {
	if schema == nil {
		return nil
	}
	return schema.Required
}
