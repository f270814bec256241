package chat

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// generateSchema reflects T into a JSON Schema object suitable for strict
// structured output: no references, no additional properties, every declared
// property required.
func generateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := reflector.Reflect(v).MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("chat: reflect schema: %v", err))
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("chat: decode schema: %v", err))
	}
	tightenSchema(schema)
	return schema
}

// tightenSchema walks the schema and enforces the strict-mode rules the API
// requires on every nested object.
func tightenSchema(schema map[string]any) {
	if t, ok := schema["type"].(string); ok && t == "object" {
		schema["additionalProperties"] = false
		if props, ok := schema["properties"].(map[string]any); ok {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			if len(required) > 0 {
				schema["required"] = required
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for _, p := range props {
			if m, ok := p.(map[string]any); ok {
				tightenSchema(m)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		tightenSchema(items)
	}
}
