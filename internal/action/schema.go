package action

import (
	"encoding/json"
	"fmt"
)

// Param declares one argument in an action's schema.
type Param struct {
	Name        string
	Type        string // "string", "number", "integer", "boolean", "object", "array"
	Description string
	Required    bool
}

// paramsSchema builds a JSON Schema object for the model's tool declaration.
func paramsSchema(params []Param) json.RawMessage {
	props := make(map[string]any, len(params))
	required := make([]string, 0)

	for _, p := range params {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

// validateParams structurally checks arguments against the declared params:
// required keys present, no unknown keys, values of the declared JSON type.
func validateParams(params []Param, args map[string]any) error {
	declared := make(map[string]Param, len(params))
	for _, p := range params {
		declared[p.Name] = p
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Errorf("missing required argument %q", p.Name)
			}
		}
	}

	for name, value := range args {
		p, ok := declared[name]
		if !ok {
			return fmt.Errorf("unknown argument %q", name)
		}
		if value == nil {
			continue
		}
		if !matchesType(p.Type, value) {
			return fmt.Errorf("argument %q must be a %s", name, p.Type)
		}
	}

	return nil
}

// matchesType checks a decoded JSON value against a JSON Schema type name.
// Numbers decode as float64, so integer accepts whole floats.
func matchesType(typ string, value any) bool {
	switch typ {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	default:
		return true
	}
}
