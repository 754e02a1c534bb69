package pipeline

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// uuidKey is the marker key under which the plan-creation subsystem records a
// synthetic node identifier in processed pipeline YAML. At parse time the
// marker is lifted into Node.UUID so the rest of the engine never has to know
// about the magic key; it is re-injected on serialization.
const uuidKey = "__uuid"

// NodeKind discriminates the document tree variants.
type NodeKind int

const (
	// KindScalar is a leaf value.
	KindScalar NodeKind = iota
	// KindMapping is an ordered key/value mapping.
	KindMapping
	// KindSequence is an ordered list.
	KindSequence
)

// Node is one node of a processed-YAML document tree. Mapping nodes carry the
// synthetic identifier assigned at pipeline-start as a first-class field.
type Node struct {
	Kind NodeKind

	// UUID is the synthetic node identifier, empty when the node carried no
	// marker. Only mapping nodes carry identifiers.
	UUID string

	// Value and Tag describe a scalar leaf. Tag preserves the YAML type so
	// numbers and booleans survive a parse/serialize round trip.
	Value string
	Tag   string

	// Items holds sequence children in document order.
	Items []*Node

	keys   []string
	fields map[string]*Node
}

// ParseDocument parses processed pipeline YAML into a document tree.
func ParseDocument(src string) (*Node, error) {
	if src == "" {
		return nil, fmt.Errorf("empty document")
	}
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	return fromYAMLNode(root.Content[0])
}

func fromYAMLNode(y *yaml.Node) (*Node, error) {
	switch y.Kind {
	case yaml.ScalarNode:
		return &Node{Kind: KindScalar, Value: y.Value, Tag: y.Tag}, nil
	case yaml.SequenceNode:
		n := &Node{Kind: KindSequence, Items: make([]*Node, 0, len(y.Content))}
		for _, c := range y.Content {
			child, err := fromYAMLNode(c)
			if err != nil {
				return nil, err
			}
			n.Items = append(n.Items, child)
		}
		return n, nil
	case yaml.MappingNode:
		n := &Node{Kind: KindMapping, fields: make(map[string]*Node, len(y.Content)/2)}
		for i := 0; i+1 < len(y.Content); i += 2 {
			key := y.Content[i].Value
			if key == uuidKey {
				n.UUID = y.Content[i+1].Value
				continue
			}
			child, err := fromYAMLNode(y.Content[i+1])
			if err != nil {
				return nil, err
			}
			n.keys = append(n.keys, key)
			n.fields[key] = child
		}
		return n, nil
	case yaml.AliasNode:
		return fromYAMLNode(y.Alias)
	default:
		return nil, fmt.Errorf("unsupported YAML node kind %d", y.Kind)
	}
}

// Serialize renders the tree back to YAML with node identifiers re-injected
// as marker keys. The rendering is deterministic: equal trees serialize to
// equal strings.
func (n *Node) Serialize() (string, error) {
	out, err := yaml.Marshal(n.toYAMLNode())
	if err != nil {
		return "", fmt.Errorf("serializing document: %w", err)
	}
	return string(out), nil
}

func (n *Node) toYAMLNode() *yaml.Node {
	switch n.Kind {
	case KindScalar:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: n.Value, Tag: n.Tag}
	case KindSequence:
		y := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range n.Items {
			y.Content = append(y.Content, item.toYAMLNode())
		}
		return y
	default: // KindMapping
		y := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		if n.UUID != "" {
			y.Content = append(y.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: uuidKey, Tag: "!!str"},
				&yaml.Node{Kind: yaml.ScalarNode, Value: n.UUID, Tag: "!!str"})
		}
		for _, key := range n.keys {
			y.Content = append(y.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key, Tag: "!!str"},
				n.fields[key].toYAMLNode())
		}
		return y
	}
}

// Field returns the child under key, or nil for missing keys and non-mapping
// nodes.
func (n *Node) Field(key string) *Node {
	if n == nil || n.Kind != KindMapping {
		return nil
	}
	return n.fields[key]
}

// HasField reports whether a mapping node carries the given key.
func (n *Node) HasField(key string) bool {
	return n.Field(key) != nil
}

// Keys returns the mapping keys in document order.
func (n *Node) Keys() []string {
	if n == nil || n.Kind != KindMapping {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// StringField returns the scalar value of a direct child, or empty.
func (n *Node) StringField(key string) string {
	child := n.Field(key)
	if child == nil || child.Kind != KindScalar {
		return ""
	}
	return child.Value
}

// DeepCopy returns an independent copy of the subtree.
func (n *Node) DeepCopy() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, UUID: n.UUID, Value: n.Value, Tag: n.Tag}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.DeepCopy()
		}
	}
	if n.fields != nil {
		out.fields = make(map[string]*Node, len(n.fields))
		out.keys = make([]string, len(n.keys))
		copy(out.keys, n.keys)
		for key, child := range n.fields {
			out.fields[key] = child.DeepCopy()
		}
	}
	return out
}

// CollectUUIDs gathers every node identifier in the subtree, depth-first in
// document order.
func (n *Node) CollectUUIDs() []string {
	var out []string
	n.walkUUIDs(&out)
	return out
}

func (n *Node) walkUUIDs(out *[]string) {
	if n == nil {
		return
	}
	if n.UUID != "" {
		*out = append(*out, n.UUID)
	}
	for _, key := range n.keys {
		n.fields[key].walkUUIDs(out)
	}
	for _, item := range n.Items {
		item.walkUUIDs(out)
	}
}

// Flatten produces the ordered field-path -> value pairs of the subtree.
// Paths use the pipeline FQN convention: mapping keys joined by '/' with
// sequence positions as "[i]".
func (n *Node) Flatten() []FieldPath {
	var out []FieldPath
	n.flatten("", &out)
	return out
}

// FieldPath is one flattened leaf of a document.
type FieldPath struct {
	Path  string
	Value string
}

func (n *Node) flatten(prefix string, out *[]FieldPath) {
	switch n.Kind {
	case KindScalar:
		*out = append(*out, FieldPath{Path: prefix, Value: n.Value})
	case KindMapping:
		for _, key := range n.keys {
			n.fields[key].flatten(joinPath(prefix, key), out)
		}
	case KindSequence:
		for i, item := range n.Items {
			item.flatten(joinPath(prefix, fmt.Sprintf("[%d]", i)), out)
		}
	}
}

func joinPath(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "/" + seg
}

// SortedUUIDs is a convenience for deterministic set comparisons in tests.
func SortedUUIDs(uuids []string) []string {
	out := make([]string, len(uuids))
	copy(out, uuids)
	sort.Strings(out)
	return out
}
