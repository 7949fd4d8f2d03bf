package llm

import (
	"encoding/json"
	"strings"
)

// Message is one turn of prior conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	Content string
}

// Schema is the subset of JSON Schema used for structured output: objects,
// arrays and scalar leaves with descriptions and required keys.
type Schema struct {
	// Type is one of "object", "array", "string", "integer", "number",
	// "boolean".
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Map returns s as a generic JSON Schema document.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = v.Map()
		}
		m["properties"] = props
	}
	if s.Items != nil {
		m["items"] = s.Items.Map()
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

// String renders s as indented JSON.
func (s *Schema) String() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// SchemaInstruction is the fallback text providers without native structured
// output append to the system prompt.
func SchemaInstruction(s *Schema) string {
	return "Responda somente com um objeto JSON válido, sem texto adicional, que siga este JSON Schema:\n" + s.String()
}

// WithSchemaInstruction returns system with the schema instruction appended.
func WithSchemaInstruction(system string, s *Schema) string {
	if s == nil {
		return system
	}
	return strings.TrimSpace(system + "\n\n" + SchemaInstruction(s))
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input plus output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens one completion may produce.
	MaxOutputTokens int

	// SupportsStructuredOutput reports native JSON Schema constrained output.
	SupportsStructuredOutput bool

	// SupportsThinking reports a configurable reasoning budget.
	SupportsThinking bool
}
