// Package llm defines the structured-output contract shared by the model backends.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
)

var ErrNoJSON = errors.New("model output contained no JSON object")

// Request asks a model for a single JSON object matching Schema.
type Request struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	System      string             `json:"system"`
	User        string             `json:"user"`
	Schema      *jsonschema.Schema `json:"schema"`
}

// Completer is implemented by every model backend.
type Completer interface {
	Complete(ctx context.Context, req Request) (json.RawMessage, error)
}

// SchemaMap renders a schema as a plain map, the shape most provider SDKs expect.
func SchemaMap(s *jsonschema.Schema) (map[string]any, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return m, nil
}

// ExtractJSON returns the last balanced top-level JSON object embedded in text.
// Models without native structured output often wrap the object in prose or code fences.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	var found string

	i := 0
	for i < len(s) {
		start := strings.IndexByte(s[i:], '{')
		if start == -1 {
			break
		}
		start += i

		depth := 0
		end := start
		inString := false
		escaped := false
		for end < len(s) {
			ch := s[end]
			if escaped {
				escaped = false
				end++
				continue
			}
			if ch == '\\' && inString {
				escaped = true
				end++
				continue
			}
			if ch == '"' {
				inString = !inString
			} else if !inString {
				if ch == '{' {
					depth++
				} else if ch == '}' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			end++
		}

		if depth != 0 || end >= len(s) {
			break
		}

		candidate := s[start : end+1]
		if json.Valid([]byte(candidate)) {
			found = candidate
		}
		i = end + 1
	}

	if found == "" {
		return nil, ErrNoJSON
	}
	return json.RawMessage(found), nil
}
