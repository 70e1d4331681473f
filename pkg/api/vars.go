package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Vars holds dbt project variables in insertion order.
// Values are stored as compact JSON.
type Vars struct {
	keys   []string
	values map[string]json.RawMessage
}

// Set stores value under key. A key that already exists keeps its position.
func (v *Vars) Set(key string, value any) error {
	raw, err := encodeJSON(value)
	if err != nil {
		return fmt.Errorf("encoding var %q: %w", key, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("compacting var %q: %w", key, err)
	}
	v.set(key, buf.Bytes())
	return nil
}

func (v *Vars) set(key string, raw json.RawMessage) {
	if v.values == nil {
		v.values = make(map[string]json.RawMessage)
	}
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = raw
}

// Len returns the number of variables.
func (v Vars) Len() int { return len(v.keys) }

// Keys returns the variable names in insertion order.
func (v Vars) Keys() []string { return slices.Clone(v.keys) }

// Raw returns the compact JSON encoding of a variable.
func (v Vars) Raw(key string) (json.RawMessage, bool) {
	raw, ok := v.values[key]
	return raw, ok
}

// String returns the variables as one compact JSON object.
func (v Vars) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, k)
		buf.WriteByte(':')
		buf.Write(v.values[k])
	}
	buf.WriteByte('}')
	return buf.String()
}

// MarshalJSON implements json.Marshaler, keeping insertion order.
func (v Vars) MarshalJSON() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler. Mapping order is preserved,
// including inside nested mappings.
func (v *Vars) UnmarshalYAML(node *yaml.Node) error {
	node = resolveAlias(node)
	if isNull(node) {
		*v = Vars{}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: vars must be a mapping", node.Line)
	}

	var out Vars
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var buf bytes.Buffer
		if err := writeNodeJSON(&buf, node.Content[i+1]); err != nil {
			return fmt.Errorf("var %q: %w", key, err)
		}
		out.set(key, buf.Bytes())
	}
	*v = out
	return nil
}

func writeNodeJSON(buf *bytes.Buffer, node *yaml.Node) error {
	node = resolveAlias(node)

	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNodeJSON(buf, node.Content[0])
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(node.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, node.Content[i].Value)
			buf.WriteByte(':')
			if err := writeNodeJSON(buf, node.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range node.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNodeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case yaml.ScalarNode:
		return writeScalarJSON(buf, node)
	default:
		return fmt.Errorf("line %d: unsupported yaml node kind %d", node.Line, node.Kind)
	}
}

func writeScalarJSON(buf *bytes.Buffer, node *yaml.Node) error {
	switch node.ShortTag() {
	case "!!null":
		buf.WriteString("null")
		return nil
	case "!!bool", "!!int", "!!float":
		// JSON literals are passed through so 1.0 stays a float.
		if json.Valid([]byte(node.Value)) {
			buf.WriteString(node.Value)
			return nil
		}
		var value any
		if err := node.Decode(&value); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		raw, err := encodeJSON(value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		buf.Write(raw)
		return nil
	default:
		writeJSONString(buf, node.Value)
		return nil
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	// encoding a string cannot fail.
	raw, _ := encodeJSON(s)
	buf.Write(raw)
}

// encodeJSON is json.Marshal without HTML escaping.
func encodeJSON(value any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func resolveAlias(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	return node
}

func isNull(node *yaml.Node) bool {
	return node == nil || node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}
