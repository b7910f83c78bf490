package canvas

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-type payload schemas for structured view-objects. Stored payloads that
// fail validation fall back to the type's default instead of failing the
// whole view.
var objectSchemas = map[string]string{
	"map_marker": `{
		"type": "object",
		"required": ["lat", "lng"],
		"properties": {
			"lat":   {"type": "number", "minimum": -90, "maximum": 90},
			"lng":   {"type": "number", "minimum": -180, "maximum": 180},
			"label": {"type": "string"}
		}
	}`,
	"calendar_slot": `{
		"type": "object",
		"required": ["start", "end"],
		"properties": {
			"start": {"type": "string"},
			"end":   {"type": "string"},
			"allDay": {"type": "boolean"}
		}
	}`,
	"kanban_column": `{
		"type": "object",
		"required": ["order"],
		"properties": {
			"order":   {"type": "integer", "minimum": 0},
			"cardIds": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"flow_node": `{
		"type": "object",
		"required": ["x", "y"],
		"properties": {
			"x":     {"type": "number"},
			"y":     {"type": "number"},
			"edges": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"whiteboard_note": `{
		"type": "object",
		"required": ["x", "y"],
		"properties": {
			"x":      {"type": "number"},
			"y":      {"type": "number"},
			"noteId": {"type": "string"}
		}
	}`,
}

var objectDefaults = map[string]string{
	"map_marker":      `{"lat": 0, "lng": 0, "label": ""}`,
	"calendar_slot":   `{"start": "", "end": "", "allDay": false}`,
	"kanban_column":   `{"order": 0, "cardIds": []}`,
	"flow_node":       `{"x": 0, "y": 0, "edges": []}`,
	"whiteboard_note": `{"x": 0, "y": 0, "noteId": ""}`,
}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiled = make(map[string]*jsonschema.Schema, len(objectSchemas))
		for objectType, raw := range objectSchemas {
			doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
			if err != nil {
				compileErr = fmt.Errorf("parse schema %s: %w", objectType, err)
				return
			}
			name := objectType + ".json"
			if err := compiler.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("add schema %s: %w", objectType, err)
				return
			}
			schema, err := compiler.Compile(name)
			if err != nil {
				compileErr = fmt.Errorf("compile schema %s: %w", objectType, err)
				return
			}
			compiled[objectType] = schema
		}
	})
	return compiled, compileErr
}

// ValidatePayload checks a view-object data payload against its type's
// schema. Unknown types pass: the set of view types grows faster than this
// registry, and an unknown payload is opaque, not invalid.
func ValidatePayload(objectType, data string) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[objectType]
	if !ok {
		return nil
	}
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid %s payload: %w", objectType, err)
	}
	return nil
}

// DefaultPayload is the fallback interpretation for a stored payload that no
// longer parses against its type (legacy format). Rendering continues with
// the default rather than aborting the view.
func DefaultPayload(objectType string) string {
	if d, ok := objectDefaults[objectType]; ok {
		return d
	}
	return "{}"
}

// SanitizePayload returns data when it validates, else the type default.
func SanitizePayload(objectType, data string) string {
	if err := ValidatePayload(objectType, data); err != nil {
		return DefaultPayload(objectType)
	}
	return data
}
