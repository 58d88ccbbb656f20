package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// itemSchemaJSON describes one entry of the reply: either a label with
// content, or an explicit error.
const itemSchemaJSON = `{
  "type": "object",
  "anyOf": [
    {
      "required": ["label", "content"],
      "properties": {
        "label": {"type": "string", "minLength": 1, "pattern": "\\S"},
        "content": {"not": {"type": "null"}}
      }
    },
    {
      "required": ["error"],
      "properties": {
        "error": {"type": "string", "minLength": 1}
      }
    }
  ]
}`

func compileItemSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("item.json", strings.NewReader(itemSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add item schema: %w", err)
	}
	schema, err := compiler.Compile("item.json")
	if err != nil {
		return nil, fmt.Errorf("compile item schema: %w", err)
	}
	return schema, nil
}

// replyEntry is the decoded form of a schema-valid entry.
type replyEntry struct {
	Label   string          `json:"label"`
	Content json.RawMessage `json:"content"`
	Error   string          `json:"error"`
}

var errEnvelope = errors.New("malformed envelope")

// parseEnvelope extracts exactly want entries from a raw reply. A bare JSON
// array is accepted in place of the {"items": [...]} object.
func parseEnvelope(raw string, want int) ([]json.RawMessage, error) {
	text := stripCodeFence(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reply", errEnvelope)
	}

	var items []json.RawMessage
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("%w: reply is not valid JSON: %v", errEnvelope, err)
		}
	} else {
		var envelope struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal([]byte(text), &envelope); err != nil {
			return nil, fmt.Errorf("%w: reply is not valid JSON: %v", errEnvelope, err)
		}
		if envelope.Items == nil {
			return nil, fmt.Errorf(`%w: reply has no "items" array`, errEnvelope)
		}
		items = envelope.Items
	}

	if len(items) != want {
		return nil, fmt.Errorf("%w: expected %d items, got %d", errEnvelope, want, len(items))
	}
	return items, nil
}

// decodeEntry validates one entry against schema and decodes it.
func decodeEntry(schema *jsonschema.Schema, raw json.RawMessage) (*replyEntry, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("entry is not valid JSON: %v", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("entry does not match the expected shape: %s", summarizeValidation(err))
	}

	var entry replyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("entry could not be decoded: %v", err)
	}
	entry.Label = strings.TrimSpace(entry.Label)
	entry.Error = strings.TrimSpace(entry.Error)
	return &entry, nil
}

// summarizeValidation flattens a schema validation error into one line.
func summarizeValidation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaves := collectLeaves(ve)
	msgs := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		msgs = append(msgs, loc+": "+leaf.Message)
	}
	return strings.Join(msgs, "; ")
}

func collectLeaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, collectLeaves(c)...)
	}
	return out
}

// stripCodeFence removes a surrounding markdown code fence, which models add
// despite being asked for bare JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
