package api

import (
	"fmt"
	"log/slog"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML implements yaml.Unmarshaler. Unknown keys are recorded in
// Ignored instead of failing the decode.
func (o *Overlay) UnmarshalYAML(node *yaml.Node) error {
	node = resolveAlias(node)
	if isNull(node) {
		*o = Overlay{}
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: overlay must be a mapping", node.Line)
	}

	var out Overlay
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, resolveAlias(node.Content[i+1])

		var err error
		switch key {
		case OverlaySelect:
			out.Select, err = scalarString(value)
		case OverlayExclude:
			out.Exclude, err = scalarString(value)
		case OverlayFullRefresh, OverlayFullRefreshAlias:
			out.FullRefresh = isTrue(value)
		case OverlayVars:
			err = value.Decode(&out.Vars)
		default:
			out.Ignored = append(out.Ignored, key)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	*o = out
	return nil
}

// scalarString returns the literal text of a scalar. Null yields "".
func scalarString(node *yaml.Node) (string, error) {
	if isNull(node) {
		return "", nil
	}
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("line %d: expected a string", node.Line)
	}
	return node.Value, nil
}

// isTrue reports whether node is the boolean true. Strings and numbers never are.
func isTrue(node *yaml.Node) bool {
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!bool" {
		return false
	}
	var b bool
	if err := node.Decode(&b); err != nil {
		return false
	}
	return b
}

// UnmarshalYAML implements yaml.Unmarshaler. Entries that are not mappings
// are skipped so unrelated keys in a scheduler conf do not break the run.
func (c *RunConf) UnmarshalYAML(node *yaml.Node) error {
	node = resolveAlias(node)
	conf := make(RunConf)
	if isNull(node) {
		*c = conf
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: run conf must be a mapping", node.Line)
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, resolveAlias(node.Content[i+1])
		if !isNull(value) && value.Kind != yaml.MappingNode {
			slog.Warn("ignoring run conf entry that is not a mapping", "key", key, "line", value.Line)
			continue
		}

		var o Overlay
		if err := value.Decode(&o); err != nil {
			return fmt.Errorf("run conf %q: %w", key, err)
		}
		conf[key] = o
	}

	*c = conf
	return nil
}
