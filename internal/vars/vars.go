// Package vars models the typed variables a stream template is rendered
// against: kind, value, serialization into template text, and truthiness.
// A Mapping satisfies the template engine's Context so it can be passed
// to expansion directly.
package vars

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/streamtpl/streamtpl/internal/document"
)

// Kind classifies a variable's value.
type Kind int

const (
	// KindString is a single-line scalar.
	KindString Kind = iota
	// KindText is a free-form, possibly multiline scalar.
	KindText
	// KindPassword is a secret scalar. It renders like a string; prompts
	// mask it.
	KindPassword
	KindBool
	KindInteger
	// KindYAML holds a document fragment that is parsed and spliced into
	// the output as structured data.
	KindYAML
	// KindList holds a sequence of scalar strings, iterable by {{#each}}.
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindText:
		return "text"
	case KindPassword:
		return "password"
	case KindBool:
		return "bool"
	case KindInteger:
		return "integer"
	case KindYAML:
		return "yaml"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a manifest or variables-file type name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "string", "keyword":
		return KindString, nil
	case "text":
		return KindText, nil
	case "password":
		return KindPassword, nil
	case "bool":
		return KindBool, nil
	case "integer":
		return KindInteger, nil
	case "yaml":
		return KindYAML, nil
	case "list":
		return KindList, nil
	default:
		return 0, fmt.Errorf("unknown variable type %q", s)
	}
}

// Variable is a tagged union. The payload field matching Kind is the live
// one: Str for string, text, password, and the raw yaml source; Bool, Int,
// and List for theirs.
type Variable struct {
	Kind Kind
	Str  string
	Bool bool
	Int  int64
	List []string
}

func StringVar(s string) Variable   { return Variable{Kind: KindString, Str: s} }
func TextVar(s string) Variable     { return Variable{Kind: KindText, Str: s} }
func PasswordVar(s string) Variable { return Variable{Kind: KindPassword, Str: s} }
func BoolVar(b bool) Variable       { return Variable{Kind: KindBool, Bool: b} }
func IntegerVar(i int64) Variable   { return Variable{Kind: KindInteger, Int: i} }
func YAMLVar(src string) Variable   { return Variable{Kind: KindYAML, Str: src} }
func ListVar(items ...string) Variable {
	return Variable{Kind: KindList, List: items}
}

// Mapping holds the variables for one render, keyed by their literal
// (possibly dotted) names.
type Mapping map[string]Variable

// UnmarshalYAML accepts either the explicit form, a mapping with a value
// key and an optional type, or any other node as shorthand with the kind
// inferred from its shape.
func (v *Variable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode && (hasScalarKey(node, "value") || hasScalarKey(node, "type")) {
		var raw struct {
			Type  string    `yaml:"type"`
			Value yaml.Node `yaml:"value"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		value := &raw.Value
		if value.Kind == 0 {
			// type declared without a value: treat the value as null.
			value = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null"}
		}
		if raw.Type == "" {
			return v.infer(value)
		}
		kind, err := ParseKind(raw.Type)
		if err != nil {
			return err
		}
		return v.decodeAs(kind, value)
	}
	return v.infer(node)
}

// Decode builds a Variable of an explicitly declared kind from a raw
// value node. Manifests use this to realize defaults and option values.
func Decode(kind Kind, node *yaml.Node) (Variable, error) {
	var v Variable
	if err := v.decodeAs(kind, node); err != nil {
		return Variable{}, err
	}
	return v, nil
}

func hasScalarKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k := node.Content[i]
		if k.Kind == yaml.ScalarNode && k.Value == key {
			return true
		}
	}
	return false
}

// decodeAs fills v from node according to an explicitly declared kind.
func (v *Variable) decodeAs(kind Kind, node *yaml.Node) error {
	v.Kind = kind
	switch kind {
	case KindString, KindText, KindPassword:
		s, err := scalarText(node)
		if err != nil {
			return fmt.Errorf("%s value: %w", kind, err)
		}
		v.Str = s

	case KindBool:
		if err := node.Decode(&v.Bool); err != nil {
			b, perr := strconv.ParseBool(strings.TrimSpace(node.Value))
			if perr != nil {
				return fmt.Errorf("bool value: %w", err)
			}
			v.Bool = b
		}

	case KindInteger:
		if err := node.Decode(&v.Int); err != nil {
			i, perr := strconv.ParseInt(strings.TrimSpace(node.Value), 10, 64)
			if perr != nil {
				return fmt.Errorf("integer value: %w", err)
			}
			v.Int = i
		}

	case KindYAML:
		if node.Kind == yaml.ScalarNode {
			s, err := scalarText(node)
			if err != nil {
				return fmt.Errorf("yaml value: %w", err)
			}
			v.Str = s
			return nil
		}
		// Structured values are accepted too; keep their source form.
		src, err := yaml.Marshal(node)
		if err != nil {
			return fmt.Errorf("yaml value: %w", err)
		}
		v.Str = string(src)

	case KindList:
		if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
			v.List = []string{}
			return nil
		}
		if node.Kind != yaml.SequenceNode {
			return fmt.Errorf("list value: want a sequence, got %s", nodeName(node))
		}
		items := make([]string, 0, len(node.Content))
		for _, c := range node.Content {
			s, err := scalarText(c)
			if err != nil {
				return fmt.Errorf("list element: %w", err)
			}
			items = append(items, s)
		}
		v.List = items
	}
	return nil
}

// infer picks a kind from the node itself: native bools and integers keep
// their types, sequences of scalars become lists, and anything structured
// (or a float or other exotic scalar) becomes a yaml fragment so it can be
// spliced natively.
func (v *Variable) infer(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!bool":
			return v.decodeAs(KindBool, node)
		case "!!int":
			return v.decodeAs(KindInteger, node)
		case "!!null":
			*v = StringVar("")
			return nil
		case "!!str", "":
			*v = StringVar(node.Value)
			return nil
		default:
			// Floats, timestamps, binary: pass through as yaml.
			*v = YAMLVar(node.Value)
			return nil
		}

	case yaml.SequenceNode:
		for _, c := range node.Content {
			if c.Kind != yaml.ScalarNode {
				return v.decodeAs(KindYAML, node)
			}
		}
		return v.decodeAs(KindList, node)

	case yaml.MappingNode:
		return v.decodeAs(KindYAML, node)

	case yaml.AliasNode:
		return v.infer(node.Alias)

	default:
		return fmt.Errorf("unsupported variable node %s", nodeName(node))
	}
}

func scalarText(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("want a scalar, got %s", nodeName(n))
	}
	if n.Tag == "!!null" {
		return "", nil
	}
	return n.Value, nil
}

func nodeName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.MappingNode:
		return "a mapping"
	case yaml.AliasNode:
		return "an alias"
	default:
		return "an empty node"
	}
}

// Placeholder returns the token a structured variable expands to in the
// template text. The structured value replaces it after document parsing.
func Placeholder(name string) string {
	return "##" + name + "##"
}

// PlaceholderName extracts the variable name from a placeholder token.
func PlaceholderName(s string) (string, bool) {
	if len(s) > 4 && strings.HasPrefix(s, "##") && strings.HasSuffix(s, "##") {
		return s[2 : len(s)-2], true
	}
	return "", false
}

// TemplateText returns the literal text substituted for {{name}}. Scalar
// kinds serialize so the document language reads them back unchanged: an
// empty password must stay an empty string, "20" must stay a string, and
// bools and integers must coerce natively. Structured kinds expand to a
// quoted placeholder.
func (v Variable) TemplateText(name string) string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindYAML, KindList:
		return `"` + Placeholder(name) + `"`
	default:
		return quoteScalar(v.Str)
	}
}

// StructuredValue returns the variable as a document value. For yaml
// kinds this parses the fragment; the error is the document parse error.
func (v Variable) StructuredValue() (document.Value, error) {
	switch v.Kind {
	case KindBool:
		return document.BoolValue(v.Bool), nil
	case KindInteger:
		return document.IntValue(v.Int), nil
	case KindList:
		elems := make([]document.Value, len(v.List))
		for i, e := range v.List {
			elems[i] = document.StringValue(e)
		}
		return document.Value{Kind: document.KindSequence, Seq: elems}, nil
	case KindYAML:
		return document.Parse([]byte(v.Str))
	default:
		return document.StringValue(v.Str), nil
	}
}

// Truthy reports whether a conditional guarding on this variable holds.
// A yaml fragment that does not parse counts as false; rendering surfaces
// the parse failure separately.
func (v Variable) Truthy() bool {
	val, err := v.StructuredValue()
	if err != nil {
		return false
	}
	return val.Truthy()
}

// Text implements the template context. Structured kinds expand to their
// placeholder tokens.
func (m Mapping) Text(name string) (string, bool) {
	v, ok := m[name]
	if !ok {
		return "", false
	}
	return v.TemplateText(name), true
}

// Truthy implements the template context. Absent names are false.
func (m Mapping) Truthy(name string) bool {
	v, ok := m[name]
	if !ok {
		return false
	}
	return v.Truthy()
}

// Items implements the template context. Only list variables iterate;
// elements are inserted verbatim.
func (m Mapping) Items(name string) ([]string, bool) {
	v, ok := m[name]
	if !ok || v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// Names returns the variable names in sorted order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge overlays the given mappings left to right; later entries win.
func Merge(ms ...Mapping) Mapping {
	out := Mapping{}
	for _, m := range ms {
		for name, v := range m {
			out[name] = v
		}
	}
	return out
}

// ApplyOverride applies a name=value override. An existing variable keeps
// its kind and reparses the value; an unknown name becomes a string.
func (m Mapping) ApplyOverride(arg string) error {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return fmt.Errorf("invalid override %q: want name=value", arg)
	}

	existing, found := m[name]
	if !found {
		m[name] = StringVar(raw)
		return nil
	}

	switch existing.Kind {
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("override %q: %w", name, err)
		}
		existing.Bool = b
	case KindInteger:
		i, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("override %q: %w", name, err)
		}
		existing.Int = i
	case KindList:
		if raw == "" {
			existing.List = []string{}
		} else {
			existing.List = strings.Split(raw, ",")
		}
	default:
		existing.Str = raw
	}
	m[name] = existing
	return nil
}

// Coerce converts v to the given kind. Values already of that kind pass
// through, the scalar string kinds retag freely among themselves, and a
// string source reparses the way ApplyOverride does. Anything else is a
// type mismatch.
func (v Variable) Coerce(kind Kind) (Variable, error) {
	if v.Kind == kind {
		return v, nil
	}

	stringish := func(k Kind) bool {
		return k == KindString || k == KindText || k == KindPassword
	}

	if stringish(v.Kind) {
		switch kind {
		case KindString, KindText, KindPassword:
			return Variable{Kind: kind, Str: v.Str}, nil
		case KindBool:
			b, err := strconv.ParseBool(v.Str)
			if err != nil {
				return Variable{}, fmt.Errorf("want a bool, got %q", v.Str)
			}
			return BoolVar(b), nil
		case KindInteger:
			i, err := strconv.ParseInt(v.Str, 10, 64)
			if err != nil {
				return Variable{}, fmt.Errorf("want an integer, got %q", v.Str)
			}
			return IntegerVar(i), nil
		case KindYAML:
			return YAMLVar(v.Str), nil
		case KindList:
			if v.Str == "" {
				return ListVar(), nil
			}
			return ListVar(strings.Split(v.Str, ",")...), nil
		}
	}

	return Variable{}, fmt.Errorf("want %s, got %s", kind, v.Kind)
}

// quoteScalar renders a string so the document language reads it back as
// the same string: empties, number and boolean lookalikes, and anything
// containing significant punctuation get double quotes.
func quoteScalar(s string) string {
	if s == "" {
		return `""`
	}
	if needsQuoting(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuoting(s string) bool {
	if looksLikeOtherScalar(s) {
		return true
	}
	if s[0] == ' ' || s[0] == '\t' || s[len(s)-1] == ' ' || s[len(s)-1] == '\t' {
		return true
	}
	if strings.HasPrefix(s, "- ") || strings.HasPrefix(s, "? ") || strings.HasPrefix(s, ": ") {
		return true
	}
	switch s[0] {
	case '&', '*', '!', '|', '>', '\'', '"', '%', '@', '`', '#', '[', ']', '{', '}', ',':
		return true
	}
	return strings.ContainsAny(s, ":#\n\t")
}

// looksLikeOtherScalar reports strings the document language would resolve
// to something other than a string.
func looksLikeOtherScalar(s string) bool {
	switch strings.ToLower(s) {
	case "true", "false", "yes", "no", "on", "off", "y", "n", "null", "~", "none",
		".inf", "-.inf", "+.inf", ".nan":
		return true
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseInt(s, 0, 64); err == nil {
		return true
	}
	return false
}
