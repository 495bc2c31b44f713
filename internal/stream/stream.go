// Package stream renders a single stream template against typed variables
// and returns the structured configuration document.
package stream

import (
	"fmt"

	"github.com/streamtpl/streamtpl/internal/document"
	"github.com/streamtpl/streamtpl/internal/template"
	"github.com/streamtpl/streamtpl/internal/vars"
)

// Render expands tmpl against variables, parses the expansion as a
// document, and splices in the structured values of yaml and list
// variables. The result is the stream's configuration mapping with keys
// in template order.
//
// Exactly two error kinds escape: *template.SyntaxError for markup that
// does not parse, and *document.ParseError for an expansion (or an
// embedded yaml fragment) that is not a valid document or whose root is
// not a mapping. Rendering is deterministic and does not mutate
// variables.
func Render(variables vars.Mapping, tmpl string) (document.Mapping, error) {
	structured, err := resolveStructured(variables)
	if err != nil {
		return nil, err
	}

	parsed, err := template.Parse(tmpl)
	if err != nil {
		return nil, err
	}
	expanded := parsed.Execute(variables)

	root, err := document.Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	if len(structured) > 0 {
		root = splice(root, structured)
	}

	switch root.Kind {
	case document.KindMapping:
		return root.Map, nil
	case document.KindNull, document.KindAbsent:
		// An empty template renders an empty stream.
		return document.Mapping{}, nil
	default:
		return nil, &document.ParseError{Err: fmt.Errorf("stream must be a mapping, got %s", root.Kind)}
	}
}

// resolveStructured parses every yaml and list variable up front, so a
// broken fragment fails the render even when the template never
// references it.
func resolveStructured(variables vars.Mapping) (map[string]document.Value, error) {
	var out map[string]document.Value
	for _, name := range variables.Names() {
		v := variables[name]
		if v.Kind != vars.KindYAML && v.Kind != vars.KindList {
			continue
		}
		val, err := v.StructuredValue()
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		if out == nil {
			out = map[string]document.Value{}
		}
		out[name] = val
	}
	return out, nil
}

// splice replaces placeholder strings with their structured values
// anywhere in the tree, including the root itself.
func splice(v document.Value, structured map[string]document.Value) document.Value {
	switch v.Kind {
	case document.KindString:
		if name, ok := vars.PlaceholderName(v.Str); ok {
			if val, found := structured[name]; found {
				return val
			}
		}
		return v
	case document.KindSequence:
		for i, e := range v.Seq {
			v.Seq[i] = splice(e, structured)
		}
		return v
	case document.KindMapping:
		for i, p := range v.Map {
			v.Map[i].Value = splice(p.Value, structured)
		}
		return v
	default:
		return v
	}
}
