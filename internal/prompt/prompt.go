// Package prompt interactively collects values for variables a render
// still needs.
package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/streamtpl/streamtpl/internal/manifest"
	"github.com/streamtpl/streamtpl/internal/vars"
)

// Asker obtains the value for a single variable spec. The terminal
// implementation runs a huh form; tests substitute their own.
type Asker interface {
	Ask(spec manifest.VarSpec) (vars.Variable, error)
}

// Collect asks for each spec in order and returns the answers.
func Collect(asker Asker, specs []manifest.VarSpec) (vars.Mapping, error) {
	out := vars.Mapping{}
	for _, spec := range specs {
		v, err := asker.Ask(spec)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", spec.Name, err)
		}
		out[spec.Name] = v
	}
	return out, nil
}

// Terminal asks on the controlling terminal, one form per variable.
type Terminal struct{}

func (Terminal) Ask(spec manifest.VarSpec) (vars.Variable, error) {
	kind, err := spec.Kind()
	if err != nil {
		return vars.Variable{}, err
	}
	title := promptTitle(spec)

	if len(spec.Options) > 0 {
		var value string
		err := run(huh.NewSelect[string]().
			Title(title).
			Description(spec.Description).
			Options(huh.NewOptions(spec.Options...)...).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.Variable{Kind: kind, Str: value}, nil
	}

	switch kind {
	case vars.KindBool:
		var value bool
		err := run(huh.NewConfirm().
			Title(title).
			Description(spec.Description).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.BoolVar(value), nil

	case vars.KindInteger:
		var raw string
		err := run(huh.NewInput().
			Title(title).
			Description(spec.Description).
			Validate(validInteger).
			Value(&raw))
		if err != nil {
			return vars.Variable{}, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.IntegerVar(n), nil

	case vars.KindPassword:
		var value string
		err := run(input(spec, title).
			EchoMode(huh.EchoModePassword).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.PasswordVar(value), nil

	case vars.KindText:
		var value string
		err := run(huh.NewText().
			Title(title).
			Description(spec.Description).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.TextVar(value), nil

	case vars.KindYAML:
		var value string
		err := run(huh.NewText().
			Title(title).
			Description(spec.Description).
			Validate(validFragment).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.YAMLVar(value), nil

	case vars.KindList:
		var value string
		err := run(huh.NewText().
			Title(title).
			Description(listDescription(spec)).
			Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.ListVar(splitLines(value)...), nil

	default:
		var value string
		err := run(input(spec, title).Value(&value))
		if err != nil {
			return vars.Variable{}, err
		}
		return vars.StringVar(value), nil
	}
}

func run(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).Run()
}

func input(spec manifest.VarSpec, title string) *huh.Input {
	in := huh.NewInput().Title(title).Description(spec.Description)
	if spec.Required {
		in = in.Validate(nonEmpty)
	}
	return in
}

func promptTitle(spec manifest.VarSpec) string {
	if spec.Title != "" {
		return spec.Title
	}
	return spec.Name
}

func listDescription(spec manifest.VarSpec) string {
	if spec.Description != "" {
		return spec.Description + " (one item per line)"
	}
	return "one item per line"
}

func nonEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("a value is required")
	}
	return nil
}

func validInteger(s string) error {
	if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
		return fmt.Errorf("want an integer")
	}
	return nil
}

func validFragment(s string) error {
	if _, err := vars.YAMLVar(s).StructuredValue(); err != nil {
		return fmt.Errorf("not valid yaml")
	}
	return nil
}

// splitLines turns textarea input into list items, dropping blank lines.
func splitLines(s string) []string {
	var items []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}
