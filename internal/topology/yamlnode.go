package topology

import "gopkg.in/yaml.v3"

// Helpers for manipulating yaml.v3 mapping nodes in place. All mutation in
// this package goes through these so unrelated formatting and comments
// survive round-trips.

func strScalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// mapKeyIndex returns the index of the key node for key, or -1.
func mapKeyIndex(m *yaml.Node, key string) int {
	if m == nil || m.Kind != yaml.MappingNode {
		return -1
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// mapValue returns the value node for key, or nil.
func mapValue(m *yaml.Node, key string) *yaml.Node {
	if i := mapKeyIndex(m, key); i >= 0 {
		return m.Content[i+1]
	}
	return nil
}

// mapSet replaces the value for key, appending the pair when absent.
func mapSet(m *yaml.Node, key string, value *yaml.Node) {
	if i := mapKeyIndex(m, key); i >= 0 {
		m.Content[i+1] = value
		return
	}
	m.Content = append(m.Content, strScalar(key), value)
}

// mapDelete removes the key/value pair and reports whether it was present.
func mapDelete(m *yaml.Node, key string) bool {
	i := mapKeyIndex(m, key)
	if i < 0 {
		return false
	}
	m.Content = append(m.Content[:i], m.Content[i+2:]...)
	return true
}

// mapInsertAfter sets key to value, placing the pair immediately after the
// last key in after that is present. When none is present the pair goes
// first. An existing pair is moved to the canonical slot so generated text
// stays diff-friendly.
func mapInsertAfter(m *yaml.Node, key string, value *yaml.Node, after ...string) {
	if i := mapKeyIndex(m, key); i >= 0 {
		m.Content = append(m.Content[:i], m.Content[i+2:]...)
	}

	insertAt := 0
	for _, a := range after {
		if i := mapKeyIndex(m, a); i >= 0 && i+2 > insertAt {
			insertAt = i + 2
		}
	}

	pair := []*yaml.Node{strScalar(key), value}
	rest := append([]*yaml.Node{}, m.Content[insertAt:]...)
	m.Content = append(m.Content[:insertAt], append(pair, rest...)...)
}

// mapRenameKey renames a key in place, keeping its position and value.
func mapRenameKey(m *yaml.Node, oldKey, newKey string) bool {
	i := mapKeyIndex(m, oldKey)
	if i < 0 {
		return false
	}
	m.Content[i].Value = newKey
	return true
}
