// Package document models a rendered stream document: a YAML document
// decoded into a closed value variant that preserves mapping key order
// and native scalar types.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindAbsent marks a value that does not exist at all, as opposed to an
	// explicit null. The zero Value is absent.
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one node of a structured document. Exactly one of the payload
// fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Seq   []Value
	Map   Mapping
}

// Pair is one key/value entry of a Mapping. Keys are literal strings;
// a dotted key like "key.patterns" is a single key, not a path.
type Pair struct {
	Key   string
	Value Value
}

// Mapping is an insertion-ordered string-keyed mapping.
type Mapping []Pair

func NullValue() Value           { return Value{Kind: KindNull} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// SequenceValue builds a sequence value from its elements.
func SequenceValue(elems ...Value) Value {
	return Value{Kind: KindSequence, Seq: elems}
}

// MappingValue builds a mapping value from ordered pairs.
func MappingValue(pairs ...Pair) Value {
	return Value{Kind: KindMapping, Map: Mapping(pairs)}
}

// Truthy reports whether v counts as true in a conditional: null and
// absent values, false, zero numbers, and empty strings, sequences, and
// mappings are all false; everything else is true.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindSequence:
		return len(v.Seq) > 0
	case KindMapping:
		return len(v.Map) > 0
	default:
		return false
	}
}

// Get returns the value stored under key.
func (m Mapping) Get(key string) (Value, bool) {
	for _, p := range m {
		if p.Key == key {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value under key in place, or appends a new pair if the
// key is not present yet.
func (m Mapping) Set(key string, v Value) Mapping {
	for i, p := range m {
		if p.Key == key {
			m[i].Value = v
			return m
		}
	}
	return append(m, Pair{Key: key, Value: v})
}

// Keys returns the mapping keys in insertion order.
func (m Mapping) Keys() []string {
	keys := make([]string, len(m))
	for i, p := range m {
		keys[i] = p.Key
	}
	return keys
}

// MarshalYAML serializes the value with its native scalar type.
func (v Value) MarshalYAML() (any, error) {
	switch v.Kind {
	case KindAbsent, KindNull:
		return nil, nil
	case KindBool:
		return v.Bool, nil
	case KindInt:
		return v.Int, nil
	case KindFloat:
		return v.Float, nil
	case KindString:
		return v.Str, nil
	case KindSequence:
		return v.Seq, nil
	case KindMapping:
		return v.Map, nil
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %v", v.Kind)
	}
}

// MarshalYAML serializes the mapping as a YAML mapping node so the key
// order survives encoding.
func (m Mapping) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, p := range m {
		var key, val yaml.Node
		if err := key.Encode(p.Key); err != nil {
			return nil, fmt.Errorf("marshal mapping key %q: %w", p.Key, err)
		}
		if err := val.Encode(p.Value); err != nil {
			return nil, fmt.Errorf("marshal mapping value for %q: %w", p.Key, err)
		}
		node.Content = append(node.Content, &key, &val)
	}
	return node, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindAbsent, KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	case KindString:
		return json.Marshal(v.Str)
	case KindSequence:
		if len(v.Seq) == 0 {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Seq)
	case KindMapping:
		return v.Map.MarshalJSON()
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %v", v.Kind)
	}
}

func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Key)
		if err != nil {
			return nil, fmt.Errorf("marshal mapping key %q: %w", p.Key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(p.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal mapping value for %q: %w", p.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
