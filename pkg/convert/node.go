package convert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/buger/jsonparser"
)

// Node is one element of a FHIR instance. A complex value has Children; a
// primitive value has Value (string, bool, json.Number or nil). Repeating
// elements are sibling nodes of the same name with Array set.
type Node struct {
	Name     string
	Value    any
	Children []*Node
	Array    bool
}

// NewValue returns a primitive node.
func NewValue(name string, value any) *Node {
	return &Node{Name: name, Value: value}
}

// NewObject returns a complex node.
func NewObject(name string, children ...*Node) *Node {
	return &Node{Name: name, Children: children}
}

// IsComplex reports whether the node holds members rather than a value.
func (n *Node) IsComplex() bool {
	return n.Children != nil
}

// Child returns the first child named name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// All returns every child named name, in order.
func (n *Node) All(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ResourceType returns the value of the resourceType member, if any.
func (n *Node) ResourceType() string {
	if c, ok := n.Child("resourceType"); ok {
		if s, ok := c.Value.(string); ok {
			return s
		}
	}
	return ""
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	out := &Node{Name: n.Name, Value: n.Value, Array: n.Array}
	if n.Children != nil {
		out.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			out.Children[i] = c.Clone()
		}
	}
	return out
}

// Rename returns a copy of n under a new name.
func (n *Node) Rename(name string) *Node {
	out := n.Clone()
	out.Name = name
	return out
}

// ParseNode decodes a JSON document into a node tree, keeping member order.
func ParseNode(data []byte) (*Node, error) {
	root := &Node{Children: []*Node{}}
	if err := parseObject(data, root); err != nil {
		return nil, fmt.Errorf("parse instance: %w", err)
	}
	return root, nil
}

func parseObject(data []byte, parent *Node) error {
	return jsonparser.ObjectEach(data, func(key, value []byte, vt jsonparser.ValueType, _ int) error {
		name, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		if vt != jsonparser.Array {
			child, err := parseValue(name, value, vt)
			if err != nil {
				return err
			}
			parent.Children = append(parent.Children, child)
			return nil
		}
		var inner error
		_, err = jsonparser.ArrayEach(value, func(item []byte, it jsonparser.ValueType, _ int, _ error) {
			if inner != nil {
				return
			}
			child, err := parseValue(name, item, it)
			if err != nil {
				inner = err
				return
			}
			child.Array = true
			parent.Children = append(parent.Children, child)
		})
		if err != nil {
			return err
		}
		return inner
	})
}

func parseValue(name string, data []byte, vt jsonparser.ValueType) (*Node, error) {
	n := &Node{Name: name}
	switch vt {
	case jsonparser.Object:
		n.Children = []*Node{}
		if err := parseObject(data, n); err != nil {
			return nil, err
		}
	case jsonparser.String:
		s, err := jsonparser.ParseString(data)
		if err != nil {
			return nil, err
		}
		n.Value = s
	case jsonparser.Number:
		n.Value = json.Number(string(data))
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(data)
		if err != nil {
			return nil, err
		}
		n.Value = b
	case jsonparser.Null:
	default:
		return nil, fmt.Errorf("member %q: unsupported JSON value %v", name, vt)
	}
	return n, nil
}

// MarshalJSON writes the node as a JSON value. Siblings sharing a name are
// grouped at the position of the first one; Array members always become a
// JSON array.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) write(buf *bytes.Buffer) error {
	if !n.IsComplex() {
		b, err := json.Marshal(n.Value)
		if err != nil {
			return fmt.Errorf("member %q: %w", n.Name, err)
		}
		buf.Write(b)
		return nil
	}

	var names []string
	groups := make(map[string][]*Node)
	for _, c := range n.Children {
		if _, ok := groups[c.Name]; !ok {
			names = append(names, c.Name)
		}
		groups[c.Name] = append(groups[c.Name], c)
	}

	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(name)
		buf.Write(key)
		buf.WriteByte(':')

		members := groups[name]
		if len(members) == 1 && !members[0].Array {
			if err := members[0].write(buf); err != nil {
				return err
			}
			continue
		}
		buf.WriteByte('[')
		for j, m := range members {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := m.write(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return nil
}

// String renders the node as compact JSON, for logs and test failures.
func (n *Node) String() string {
	b, err := n.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", n.Name, err)
	}
	return strings.TrimSpace(string(b))
}
