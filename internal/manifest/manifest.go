// Package manifest loads and validates stream package manifests: the
// manifest.yml naming a package's streams, their template files, and the
// variables each template accepts.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/streamtpl/streamtpl/internal/vars"
)

// FileName is the manifest's name inside a package directory.
const FileName = "manifest.yml"

// Package describes one stream package: a named set of stream templates
// plus the variable specs they render against.
type Package struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version,omitempty"`
	Title   string   `yaml:"title,omitempty"`
	Streams []Stream `yaml:"streams"`

	dir string
}

// Stream declares a single template file and the variables it accepts.
type Stream struct {
	Name     string    `yaml:"name"`
	Input    string    `yaml:"input,omitempty"`
	Title    string    `yaml:"title,omitempty"`
	Template string    `yaml:"template"`
	Vars     []VarSpec `yaml:"vars,omitempty"`
}

// VarSpec declares one variable: its type, whether a value must be
// supplied, a default, and an optional closed set of allowed values.
type VarSpec struct {
	Name        string    `yaml:"name"`
	Type        string    `yaml:"type,omitempty"` // defaults to string
	Title       string    `yaml:"title,omitempty"`
	Description string    `yaml:"description,omitempty"`
	Required    bool      `yaml:"required,omitempty"`
	Default     yaml.Node `yaml:"default,omitempty"`
	Options     []string  `yaml:"options,omitempty"`
}

// Load reads and validates the manifest in dir.
func Load(dir string) (*Package, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pkg Package
	if err := yaml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	pkg.dir = dir
	if err := pkg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &pkg, nil
}

// Dir returns the package directory the manifest was loaded from.
func (p *Package) Dir() string { return p.dir }

// Stream returns the named stream, or nil if the package has none.
func (p *Package) Stream(name string) *Stream {
	for i := range p.Streams {
		if p.Streams[i].Name == name {
			return &p.Streams[i]
		}
	}
	return nil
}

// TemplatePath returns the path of a stream's template file.
func (p *Package) TemplatePath(s *Stream) string {
	return filepath.Join(p.dir, s.Template)
}

// validate checks structural rules: a package name, uniquely named
// streams, existing template files, and well-formed variable specs.
func (p *Package) validate() error {
	if p.Name == "" {
		return fmt.Errorf("package has no name")
	}
	if len(p.Streams) == 0 {
		return fmt.Errorf("package %q declares no streams", p.Name)
	}

	seen := make(map[string]bool, len(p.Streams))
	for i := range p.Streams {
		s := &p.Streams[i]
		if s.Name == "" {
			return fmt.Errorf("stream #%d has no name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stream %q", s.Name)
		}
		seen[s.Name] = true

		if s.Template == "" {
			return fmt.Errorf("stream %q has no template", s.Name)
		}
		if _, err := os.Stat(p.TemplatePath(s)); err != nil {
			return fmt.Errorf("stream %q: template %s: %w", s.Name, s.Template, err)
		}
		if err := validateVars(s.Vars); err != nil {
			return fmt.Errorf("stream %q: %w", s.Name, err)
		}
	}
	return nil
}

func validateVars(specs []VarSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("variable has no name")
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate variable %q", spec.Name)
		}
		seen[spec.Name] = true

		kind, err := spec.Kind()
		if err != nil {
			return fmt.Errorf("variable %q: %w", spec.Name, err)
		}
		def, hasDefault, err := spec.DefaultVar()
		if err != nil {
			return fmt.Errorf("variable %q: %w", spec.Name, err)
		}

		if len(spec.Options) == 0 {
			continue
		}
		switch kind {
		case vars.KindString, vars.KindText:
		default:
			return fmt.Errorf("variable %q: options need a string type, not %s", spec.Name, kind)
		}
		if hasDefault && !slices.Contains(spec.Options, def.Str) {
			return fmt.Errorf("variable %q: default %q is not an option", spec.Name, def.Str)
		}
	}
	return nil
}

// Kind returns the variable kind the spec declares, defaulting to string.
func (s VarSpec) Kind() (vars.Kind, error) {
	if s.Type == "" {
		return vars.KindString, nil
	}
	return vars.ParseKind(s.Type)
}

// HasDefault reports whether the spec declares a default value. A bare
// or explicit null default counts the same as an omitted key.
func (s VarSpec) HasDefault() bool {
	return !s.Default.IsZero() && s.Default.ShortTag() != "!!null"
}

// DefaultVar realizes the spec's default value, if any.
func (s VarSpec) DefaultVar() (vars.Variable, bool, error) {
	if !s.HasDefault() {
		return vars.Variable{}, false, nil
	}
	kind, err := s.Kind()
	if err != nil {
		return vars.Variable{}, false, err
	}
	v, err := vars.Decode(kind, &s.Default)
	if err != nil {
		return vars.Variable{}, false, fmt.Errorf("default: %w", err)
	}
	return v, true, nil
}

// Resolve materialises the variables for one render of the stream:
// declared defaults first, then the caller's values over them. Values
// for names the stream does not declare pass through untouched, a
// missing required variable is an error, and option lists are enforced.
func (s *Stream) Resolve(values vars.Mapping) (vars.Mapping, error) {
	out := vars.Mapping{}
	declared := make(map[string]bool, len(s.Vars))

	for _, spec := range s.Vars {
		declared[spec.Name] = true
		kind, err := spec.Kind()
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", spec.Name, err)
		}

		v, ok := values[spec.Name]
		if ok {
			v, err = v.Coerce(kind)
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", spec.Name, err)
			}
		} else {
			def, hasDefault, err := spec.DefaultVar()
			if err != nil {
				return nil, fmt.Errorf("variable %q: %w", spec.Name, err)
			}
			if !hasDefault {
				if spec.Required {
					return nil, fmt.Errorf("missing required variable %q", spec.Name)
				}
				continue
			}
			v = def
		}

		if len(spec.Options) > 0 && !slices.Contains(spec.Options, v.Str) {
			return nil, fmt.Errorf("variable %q: value %q is not one of: %s",
				spec.Name, v.Str, strings.Join(spec.Options, ", "))
		}

		out[spec.Name] = v
	}

	for name, v := range values {
		if !declared[name] {
			out[name] = v
		}
	}
	return out, nil
}

// Missing returns the specs of declared variables that neither values
// nor a default would satisfy. Interactive mode prompts for these.
func (s *Stream) Missing(values vars.Mapping) []VarSpec {
	var missing []VarSpec
	for _, spec := range s.Vars {
		if _, ok := values[spec.Name]; ok {
			continue
		}
		if spec.HasDefault() {
			continue
		}
		missing = append(missing, spec)
	}
	return missing
}
