package coolfhir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const referenceProperty = "reference"

// LiteralReferences returns the values of all "reference" properties in the given resource, in document order.
// Malformed JSON yields the references found up to the point of the error.
func LiteralReferences(resource json.RawMessage) []string {
	type frame struct {
		object    bool
		expectKey bool
		key       string
	}
	var result []string
	var stack []*frame
	decoder := json.NewDecoder(bytes.NewReader(resource))
	decoder.UseNumber()
	for {
		token, err := decoder.Token()
		if err != nil {
			// io.EOF or syntax error
			return result
		}
		var parent *frame
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		if delim, ok := token.(json.Delim); ok {
			switch delim {
			case '{', '[':
				if parent != nil && parent.object {
					// the container is the value of the current key; afterwards, a key follows
					parent.expectKey = true
				}
				stack = append(stack, &frame{object: delim == '{', expectKey: delim == '{'})
			case '}', ']':
				stack = stack[:len(stack)-1]
			}
			continue
		}
		if parent == nil || !parent.object {
			continue
		}
		if parent.expectKey {
			parent.key, _ = token.(string)
			parent.expectKey = false
			continue
		}
		if value, ok := token.(string); ok && parent.key == referenceProperty {
			result = append(result, value)
		}
		parent.expectKey = true
	}
}

// ReplaceReferences replaces the values of "reference" properties that are a key in the given map with the mapped value.
// It returns whether any reference was replaced; if not, the resource is returned unaltered.
// Numbers are retained as-is, but the resulting JSON has its properties in sorted order.
func ReplaceReferences(resource json.RawMessage, replacements map[string]string) (json.RawMessage, bool, error) {
	if len(replacements) == 0 || !containsAny(resource, replacements) {
		return resource, false, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(resource))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, false, fmt.Errorf("unmarshal resource: %w", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, false, fmt.Errorf("unmarshal resource: trailing data")
	}
	if !replaceReferencesIn(document, replacements) {
		return resource, false, nil
	}
	data, err := json.Marshal(document)
	if err != nil {
		return nil, false, fmt.Errorf("marshal resource: %w", err)
	}
	return data, true, nil
}

func replaceReferencesIn(node any, replacements map[string]string) bool {
	changed := false
	switch value := node.(type) {
	case map[string]any:
		for key, child := range value {
			if reference, ok := child.(string); ok && key == referenceProperty {
				if replacement, ok := replacements[reference]; ok {
					value[key] = replacement
					changed = true
				}
				continue
			}
			if replaceReferencesIn(child, replacements) {
				changed = true
			}
		}
	case []any:
		for _, child := range value {
			if replaceReferencesIn(child, replacements) {
				changed = true
			}
		}
	}
	return changed
}

// containsAny compares decoded reference values, so escaped forms (e.g. "Patient\/9") match too.
func containsAny(resource json.RawMessage, replacements map[string]string) bool {
	for _, reference := range LiteralReferences(resource) {
		if _, ok := replacements[reference]; ok {
			return true
		}
	}
	return false
}

// IsLocalReference returns true if the reference is a relative reference of the given resource type (e.g. Patient/123).
// The ID is returned if so.
func IsLocalReference(reference string, resourceType string) (string, bool) {
	id, found := strings.CutPrefix(reference, resourceType+"/")
	if !found || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
