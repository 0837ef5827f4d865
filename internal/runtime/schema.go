package runtime

import (
	"encoding/json"
	"fmt"
)

// ValidateAgainstSchema checks a model's raw JSON response text against a
// schema (the `map[string]any` JSON Schema document ir.Schema carries)
// and returns the decoded object on success. The validator only covers
// the closed subset of JSON Schema concerto's own schema declarations can
// produce (object/array/string/number/integer/boolean, properties,
// required, items, enum) — no external JSON Schema library in the
// example pack targets this narrow a subset cheaply, so a small hand
// rolled checker is the right call here.
func ValidateAgainstSchema(raw string, schema map[string]any) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, &RuntimeError{Kind: ErrSchema, Message: "response is not valid JSON: " + err.Error()}
	}
	if err := validateNode(decoded, schema, "$"); err != nil {
		return nil, &RuntimeError{Kind: ErrSchema, Message: err.Error()}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, &RuntimeError{Kind: ErrSchema, Message: "response is not a JSON object"}
	}
	return obj, nil
}

func validateNode(v any, schema map[string]any, path string) error {
	wantType, _ := schema["type"].(string)
	switch wantType {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, v)
		}
		props, _ := schema["properties"].(map[string]any)
		for _, r := range stringList(schema["required"]) {
			if _, present := obj[r]; !present {
				return fmt.Errorf("%s: missing required field %q", path, r)
			}
		}
		for name, sub := range props {
			subSchema, _ := sub.(map[string]any)
			if val, present := obj[name]; present {
				if err := validateNode(val, subSchema, path+"."+name); err != nil {
					return err
				}
			}
		}
		return nil
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, v)
		}
		items, _ := schema["items"].(map[string]any)
		for i, el := range arr {
			if err := validateNode(el, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case "string":
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, v)
		}
		if enum := stringList(schema["enum"]); len(enum) > 0 {
			s := v.(string)
			for _, e := range enum {
				if e == s {
					return nil
				}
			}
			return fmt.Errorf("%s: %q is not one of the allowed values", path, s)
		}
		return nil
	case "integer":
		n, ok := v.(float64)
		if !ok || n != float64(int64(n)) {
			return fmt.Errorf("%s: expected integer, got %v", path, v)
		}
		return nil
	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, v)
		}
		return nil
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, v)
		}
		return nil
	default:
		return nil
	}
}

// stringList normalises a schema list field that is []string when built
// in-process and []any after a JSON round-trip.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, el := range list {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RewriteRetryPrompt builds the next attempt's prompt after a schema
// validation failure: the original prompt plus the invalid response and
// the validation error, so the model can self-correct instead of
// repeating the same mistake verbatim.
func RewriteRetryPrompt(original, invalidResponse string, validationErr error) string {
	return fmt.Sprintf(
		"%s\n\nYour previous response did not match the required schema.\nPrevious response:\n%s\n\nValidation error: %s\nPlease respond again with JSON that satisfies the schema.",
		original, invalidResponse, validationErr,
	)
}
