package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SettableKeys are the scalar keys `psync config set` may write. Lists and maps
// (projects, fields, transitions) are edited in the file directly.
var SettableKeys = map[string]bool{
	KeyHost:                  true,
	KeyJiraURL:               true,
	KeyJiraUsername:          true,
	KeyJiraTimeout:           true,
	KeyServerAddr:            true,
	KeyServerShutdownTimeout: true,
	KeyStorageBackend:        true,
	KeyStoragePath:           true,
	KeyDoltDatabase:          true,
	KeyDoltServerMode:        true,
	KeyDoltHost:              true,
	KeyDoltPort:              true,
	KeyDoltUser:              true,
	KeyDoltDSN:               true,
	KeyLogLevel:              true,
	KeyLogFormat:             true,
	KeyRolesPortalOwner:      true,
	KeyRolesClient:           true,
	KeyRolesInternal:         true,
	KeyAsAClientYes:          true,
	KeyCustomEventThreshold:  true,
	KeySupportUser:           true,
	KeyPriorityTable:         true,
	KeyPriorityWatch:         true,
	KeyWebhookMode:           true,
}

// IsSettableKey reports whether key can be written with SetYamlConfig. Field
// roles are settable individually as fields.<role>.
func IsSettableKey(key string) bool {
	if SettableKeys[key] {
		return true
	}
	return strings.HasPrefix(key, "fields.") && len(key) > len("fields.")
}

// SetYamlConfig sets a dotted key in the config file at path, creating the file
// and intermediate mappings as needed. Comments and key order are preserved.
func SetYamlConfig(path, key, value string) error {
	if !IsSettableKey(key) {
		return fmt.Errorf("%q cannot be set from the command line; edit %s instead", key, path)
	}
	data, err := os.ReadFile(path) // #nosec G304 - config file path from caller
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var root yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &root); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	// Empty or comment-only files get a fresh document.
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("%s: top level is not a mapping", path)
	}

	if err := setNode(root.Content[0], strings.Split(key, "."), scalarNode(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// setNode walks mapping along path and stores value at the leaf.
func setNode(mapping *yaml.Node, path []string, value *yaml.Node) error {
	name := path[0]
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value != name {
			continue
		}
		if len(path) == 1 {
			value.HeadComment = mapping.Content[i+1].HeadComment
			value.LineComment = mapping.Content[i+1].LineComment
			mapping.Content[i+1] = value
			return nil
		}
		child := mapping.Content[i+1]
		if child.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a mapping", name)
		}
		return setNode(child, path[1:], value)
	}

	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: name}
	if len(path) == 1 {
		mapping.Content = append(mapping.Content, keyNode, value)
		return nil
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	mapping.Content = append(mapping.Content, keyNode, child)
	return setNode(child, path[1:], value)
}

// scalarNode formats value the way a person would write it in YAML.
func scalarNode(value string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	lower := strings.ToLower(value)
	switch {
	case lower == "true" || lower == "false":
		n.Value = lower
		n.Tag = "!!bool"
	case isNumeric(value):
		n.Tag = "!!int"
		if strings.Contains(value, ".") {
			n.Tag = "!!float"
		}
	case isDuration(value):
		n.Tag = "!!str"
	case needsQuoting(value):
		n.Tag = "!!str"
		n.Style = yaml.DoubleQuotedStyle
	default:
		n.Tag = "!!str"
	}
	return n
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c == '.' {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isDuration(s string) bool {
	if len(s) < 2 {
		return false
	}
	suffix := s[len(s)-1]
	if suffix != 's' && suffix != 'm' && suffix != 'h' {
		return false
	}
	return isNumeric(s[:len(s)-1])
}

func needsQuoting(s string) bool {
	special := []string{":", "#", "[", "]", "{", "}", ",", "&", "*", "!", "|", ">", "'", "\"", "%", "@", "`"}
	for _, c := range special {
		if strings.Contains(s, c) {
			return true
		}
	}
	if strings.TrimSpace(s) != s {
		return true
	}
	return false
}
