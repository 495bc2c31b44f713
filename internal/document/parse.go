package document

import (
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseError reports input that is not a valid document, including an
// embedded fragment carried by a yaml-typed variable. It wraps the
// underlying decoder error.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse document: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes data as a YAML document into a Value. Mapping keys keep
// their source order and scalars resolve to their native types. Empty
// input yields a null value. All failures are *ParseError.
func Parse(data []byte) (Value, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Value{}, &ParseError{Err: err}
	}
	if root.Kind == 0 {
		// No content at all (empty or comment-only input).
		return NullValue(), nil
	}
	v, err := fromNode(&root, make(map[*yaml.Node]bool))
	if err != nil {
		return Value{}, &ParseError{Err: err}
	}
	return v, nil
}

// fromNode converts a decoded node tree. The aliases set holds the alias
// nodes currently being expanded so a self-referential anchor errors
// instead of recursing forever.
func fromNode(n *yaml.Node, aliases map[*yaml.Node]bool) (Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return NullValue(), nil
		}
		return fromNode(n.Content[0], aliases)

	case yaml.MappingNode:
		m := make(Mapping, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return Value{}, fmt.Errorf("mapping key at line %d: %w", n.Content[i].Line, err)
			}
			val, err := fromNode(n.Content[i+1], aliases)
			if err != nil {
				return Value{}, err
			}
			// Duplicate keys: the later entry wins, in the original position.
			m = m.Set(key, val)
		}
		return Value{Kind: KindMapping, Map: m}, nil

	case yaml.SequenceNode:
		seq := make([]Value, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := fromNode(c, aliases)
			if err != nil {
				return Value{}, err
			}
			seq = append(seq, val)
		}
		return Value{Kind: KindSequence, Seq: seq}, nil

	case yaml.AliasNode:
		if aliases[n] {
			return Value{}, fmt.Errorf("anchor %q at line %d contains itself", n.Value, n.Line)
		}
		aliases[n] = true
		v, err := fromNode(n.Alias, aliases)
		delete(aliases, n)
		return v, err

	case yaml.ScalarNode:
		return fromScalar(n)

	default:
		return Value{}, fmt.Errorf("unsupported node kind %d at line %d", n.Kind, n.Line)
	}
}

// fromScalar lets the decoder resolve the scalar so coercion matches the
// document language exactly: ~ and empty become null, true/false become
// bools, and bare numbers keep their integer or float nature.
func fromScalar(n *yaml.Node) (Value, error) {
	var v any
	if err := n.Decode(&v); err != nil {
		return Value{}, fmt.Errorf("scalar at line %d: %w", n.Line, err)
	}
	switch t := v.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint64:
		if t <= math.MaxInt64 {
			return IntValue(int64(t)), nil
		}
		return FloatValue(float64(t)), nil
	case float64:
		return FloatValue(t), nil
	case string:
		return StringValue(t), nil
	case []byte:
		return StringValue(string(t)), nil
	case time.Time:
		// The document language has no timestamp type; keep the text.
		return StringValue(n.Value), nil
	default:
		return Value{}, fmt.Errorf("unsupported scalar %q at line %d (%T)", n.Value, n.Line, v)
	}
}
