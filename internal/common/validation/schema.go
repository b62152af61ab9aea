package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// MaxCoachingFlags bounds the per-user flag collection.
const MaxCoachingFlags = 10

// coachingFlagsSchema validates the flag list a user submits through the
// settings modal before it is persisted.
var coachingFlagsSchema = map[string]interface{}{
	"type":     "array",
	"minItems": 1,
	"maxItems": MaxCoachingFlags,
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
				"maxLength": 48,
				"pattern":   "^[a-z0-9][a-z0-9 _-]*$",
			},
			"description": map[string]interface{}{
				"type":      "string",
				"minLength": 1,
				"maxLength": 200,
			},
			"enabled": map[string]interface{}{
				"type": "boolean",
			},
		},
		"required":             []interface{}{"name", "description", "enabled"},
		"additionalProperties": false,
	},
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidateCoachingFlags checks a submitted flag list against the schema.
// Schema-level checks only; the at-least-one-enabled invariant is
// enforced by the model because it depends on the resulting set, not on
// any single element.
func ValidateCoachingFlags(flags []map[string]interface{}) (*ValidationResult, error) {
	docs := make([]interface{}, 0, len(flags))
	for _, f := range flags {
		docs = append(docs, f)
	}

	schemaLoader := gojsonschema.NewGoLoader(coachingFlagsSchema)
	documentLoader := gojsonschema.NewGoLoader(docs)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return out, nil
}
