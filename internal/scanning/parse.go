package scanning

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const documentSchemaJSON = `{
  "type": "object",
  "properties": {
    "merchant":     {"type": ["string", "null"]},
    "date":         {"type": ["string", "null"]},
    "currency":     {"type": ["string", "null"]},
    "subtotal":     {"type": ["string", "number", "null"]},
    "tax":          {"type": ["string", "number", "null"]},
    "total_amount": {"type": ["string", "number"]},
    "items": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "name":     {"type": "string"},
          "quantity": {"type": ["string", "number", "null"]},
          "price":    {"type": ["string", "number", "null"]}
        },
        "required": ["name"]
      }
    }
  },
  "required": ["total_amount"]
}`

var documentSchema = jsonschema.MustCompileString("document.json", documentSchemaJSON)

// ExtractJSONObject trims code fences and chatter around the first JSON object in text
func ExtractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseDocumentJSON validates a model response against the document schema
// and decodes it. Numbers are accepted wherever text is expected.
func parseDocumentJSON(text string) (*Document, error) {
	text, err := ExtractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if err := documentSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("document does not match schema: %w", err)
	}

	doc := &Document{
		Merchant:    stringField(raw, "merchant"),
		Date:        stringField(raw, "date"),
		Currency:    strings.ToUpper(stringField(raw, "currency")),
		Subtotal:    stringField(raw, "subtotal"),
		Tax:         stringField(raw, "tax"),
		TotalAmount: stringField(raw, "total_amount"),
	}
	if items, ok := raw["items"].([]any); ok {
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			doc.Items = append(doc.Items, Item{
				Name:     stringField(m, "name"),
				Quantity: stringField(m, "quantity"),
				Price:    stringField(m, "price"),
			})
		}
	}

	if doc.TotalAmount == "" {
		return nil, fmt.Errorf("document has no total amount")
	}
	return doc, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
