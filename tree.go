package soap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	// KindInvalid is the zero Value.
	KindInvalid Kind = iota
	// KindScalar is a single text value.
	KindScalar
	// KindNode is a nested ordered mapping.
	KindNode
	// KindList is a sequence of values sharing one key, rendered as repeated siblings.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindNode:
		return "node"
	case KindList:
		return "list"
	}
	return "invalid"
}

// Value is one entry of a Tree: a scalar, a nested Tree or a list of values.
type Value struct {
	kind   Kind
	scalar string
	node   *Tree
	list   []Value
}

// Scalar returns a text value.
func Scalar(s string) Value {
	return Value{kind: KindScalar, scalar: s}
}

// Int returns a scalar holding the decimal rendering of n.
func Int(n int64) Value {
	return Scalar(strconv.FormatInt(n, 10))
}

// Float returns a scalar holding the shortest decimal rendering of f.
func Float(f float64) Value {
	return Scalar(strconv.FormatFloat(f, 'f', -1, 64))
}

// Node returns a value holding a nested tree. A nil tree is treated as empty.
func Node(t *Tree) Value {
	if t == nil {
		t = NewTree()
	}
	return Value{kind: KindNode, node: t}
}

// List returns a value holding repeated entries.
func List(vs ...Value) Value {
	return Value{kind: KindList, list: vs}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// Text returns the scalar text, or "" for non-scalar values.
func (v Value) Text() string { return v.scalar }

// Tree returns the nested tree, or nil for non-node values.
func (v Value) Tree() *Tree { return v.node }

// Items returns the list entries, or nil for non-list values.
func (v Value) Items() []Value { return v.list }

// Equal reports whether v and o hold the same data, including key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindScalar:
		return v.scalar == o.scalar
	case KindNode:
		return v.node.Equal(o.node)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
	}
	return true
}

// Tree is an insertion-ordered mapping from string keys to values. It is the
// shape of both call parameters and normalized responses.
type Tree struct {
	keys []string
	vals map[string]Value
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{vals: make(map[string]Value)}
}

// Set stores v under key. An existing key keeps its position.
func (t *Tree) Set(key string, v Value) *Tree {
	if t.vals == nil {
		t.vals = make(map[string]Value)
	}
	if _, ok := t.vals[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[key] = v
	return t
}

// SetText is shorthand for Set(key, Scalar(s)).
func (t *Tree) SetText(key, s string) *Tree {
	return t.Set(key, Scalar(s))
}

// Add appends v under key. A second value for the same key turns the entry
// into a list, further values extend it.
func (t *Tree) Add(key string, v Value) *Tree {
	cur, ok := t.Get(key)
	switch {
	case !ok:
		return t.Set(key, v)
	case cur.kind == KindList:
		items := make([]Value, 0, len(cur.list)+1)
		return t.Set(key, List(append(append(items, cur.list...), v)...))
	default:
		return t.Set(key, List(cur, v))
	}
}

// Get returns the value stored under key.
func (t *Tree) Get(key string) (Value, bool) {
	if t == nil {
		return Value{}, false
	}
	v, ok := t.vals[key]
	return v, ok
}

// Lookup follows a path of keys through nested nodes.
func (t *Tree) Lookup(path ...string) (Value, bool) {
	cur := Node(t)
	for _, k := range path {
		if cur.kind != KindNode {
			return Value{}, false
		}
		next, ok := cur.node.Get(k)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Keys returns the keys in insertion order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len returns the number of keys.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Range calls fn for each entry in order until fn returns false.
func (t *Tree) Range(fn func(key string, v Value) bool) {
	if t == nil {
		return
	}
	for _, k := range t.keys {
		if !fn(k, t.vals[k]) {
			return
		}
	}
}

// Equal reports whether both trees hold the same entries in the same order.
func (t *Tree) Equal(o *Tree) bool {
	if t.Len() != o.Len() {
		return false
	}
	if t.Len() == 0 {
		return true
	}
	for i, k := range t.keys {
		if o.keys[i] != k || !t.vals[k].Equal(o.vals[k]) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the tree as a JSON object in key order.
func (t *Tree) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (t *Tree) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, k := range t.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		if err := t.vals[k].writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// MarshalJSON renders scalars as strings, nodes as objects and lists as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindScalar:
		b, err := json.Marshal(v.scalar)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindNode:
		return v.node.writeJSON(buf)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		buf.WriteString("null")
	}
	return nil
}

var errNotObject = errors.New("tree: JSON document is not an object")

// UnmarshalJSON reads a JSON object keeping its key order. Numbers and booleans
// become scalars holding their literal text, null becomes an empty scalar.
func (t *Tree) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	if v.kind != KindNode {
		return errNotObject
	}
	*t = *v.node
	return nil
}

// UnmarshalJSON reads any JSON value into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	out, err := decodeJSONValue(dec)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// ReadTree decodes a JSON object from r into a Tree.
func ReadTree(r io.Reader) (*Tree, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := decodeJSONValue(dec)
	if err != nil {
		return nil, err
	}
	if v.kind != KindNode {
		return nil, errNotObject
	}
	return v.node, nil
}

func decodeJSONValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch tok := tok.(type) {
	case json.Delim:
		switch tok {
		case '{':
			t := NewTree()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("tree: unexpected key token %v", kt)
				}
				v, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				t.Set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Node(t), nil
		case '[':
			items := []Value{}
			for dec.More() {
				v, err := decodeJSONValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, v)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return List(items...), nil
		}
		return Value{}, fmt.Errorf("tree: unexpected delimiter %v", tok)
	case string:
		return Scalar(tok), nil
	case json.Number:
		return Scalar(tok.String()), nil
	case bool:
		return Scalar(strconv.FormatBool(tok)), nil
	case nil:
		return Scalar(""), nil
	}
	return Value{}, fmt.Errorf("tree: unexpected token %v", tok)
}
