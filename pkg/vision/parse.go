package vision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchema is the structural contract every parse must satisfy
// before the pipeline touches it. Field contents stay loose; the shape
// does not.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["header", "items"],
	"properties": {
		"header": {"type": "object"},
		"items": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

var compiledSchema = jsonschema.MustCompileString("document.json", documentSchema)

// ParseDocument strips optional ```json fences, decodes the model text
// and validates the document shape.
func ParseDocument(text string) (*Document, error) {
	cleaned := stripFences(text)

	var generic any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("vision: response is not JSON: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("vision: response shape invalid: %w", err)
	}

	var doc Document
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("vision: decoding document: %w", err)
	}
	if doc.Header == nil {
		doc.Header = map[string]any{}
	}
	return &doc, nil
}

// stripFences removes a leading ```json (or bare ```) fence and its
// closing fence. Models in JSON mode usually skip the fences, but not
// always.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
