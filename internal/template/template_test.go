package template

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// testContext is a minimal Context for exercising the engine directly.
type testContext struct {
	texts map[string]string
	lists map[string][]string
}

func (c testContext) Text(name string) (string, bool) {
	s, ok := c.texts[name]
	return s, ok
}

func (c testContext) Truthy(name string) bool {
	if s, ok := c.texts[name]; ok {
		return s != ""
	}
	return len(c.lists[name]) > 0
}

func (c testContext) Items(name string) ([]string, bool) {
	items, ok := c.lists[name]
	return items, ok
}

func expand(t *testing.T, src string, ctx Context) string {
	t.Helper()
	tmpl, err := Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	return tmpl.Execute(ctx)
}

func TestExecutePlaceholders(t *testing.T) {
	ctx := testContext{texts: map[string]string{
		"name":         "world",
		"key.patterns": "dotted",
		"empty":        "",
	}}
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "hello {{name}}", "hello world"},
		{"spaces inside braces", "hello {{ name }}", "hello world"},
		{"absent expands to nothing", "val={{missing}}!", "val=!"},
		{"present but empty", "val={{empty}}!", "val=!"},
		{"dotted name is literal", "{{key.patterns}}", "dotted"},
		{"no markup", "plain text", "plain text"},
		{"single braces untouched", "{not a tag}", "{not a tag}"},
		{"adjacent", "{{name}}{{name}}", "worldworld"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expand(t, tt.input, ctx); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExecuteIf(t *testing.T) {
	ctx := testContext{
		texts: map[string]string{"password": "", "host": "example.com"},
		lists: map[string][]string{"paths": {"/a"}, "none": {}},
	}
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"truthy includes body", "{{#if host}}host: {{host}}{{/if}}", "host: example.com"},
		{"empty string is falsy", "{{#if password}}hidden_password: {{password}}{{/if}}", ""},
		{"absent is falsy", "{{#if missing}}x{{/if}}", ""},
		{"non-empty list is truthy", "{{#if paths}}has paths{{/if}}", "has paths"},
		{"empty list is falsy", "{{#if none}}x{{/if}}", ""},
		{"text around block", "a {{#if host}}b{{/if}} c", "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expand(t, tt.input, ctx); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExecuteEach(t *testing.T) {
	ctx := testContext{
		texts: map[string]string{"scalar": "x"},
		lists: map[string][]string{
			"paths": {"/var/log/a.log", "/var/log/b.log"},
			"one":   {"only"},
			"none":  {},
		},
	}
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"two items", "{{#each paths}}[{{this}}]{{/each}}", "[/var/log/a.log][/var/log/b.log]"},
		{"single item inline", "{{#each one}} - {{this}} {{/each}}", " - only "},
		{"empty list", "{{#each none}}x{{/each}}", ""},
		{"absent", "{{#each missing}}x{{/each}}", ""},
		{"scalar is not iterable", "{{#each scalar}}x{{/each}}", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expand(t, tt.input, ctx); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExecuteNestedBlocks(t *testing.T) {
	ctx := testContext{
		texts: map[string]string{"tag": "prod", "empty": ""},
		lists: map[string][]string{"hosts": {"a", "b"}},
	}

	// Outer names stay visible inside a loop; "this" binds the element.
	got := expand(t, "{{#each hosts}}{{this}}={{tag}};{{/each}}", ctx)
	if got != "a=prod;b=prod;" {
		t.Errorf("got %q", got)
	}

	got = expand(t, "{{#each hosts}}{{#if tag}}{{this}}{{/if}}{{/each}}", ctx)
	if got != "ab" {
		t.Errorf("if inside each = %q, want %q", got, "ab")
	}

	got = expand(t, "{{#if tag}}{{#each hosts}}{{this}},{{/each}}{{/if}}", ctx)
	if got != "a,b," {
		t.Errorf("each inside if = %q, want %q", got, "a,b,")
	}

	got = expand(t, "{{#each hosts}}{{#if empty}}x{{/if}}{{/each}}", ctx)
	if got != "" {
		t.Errorf("falsy outer guard inside each = %q, want empty", got)
	}
}

func TestExecuteThis(t *testing.T) {
	ctx := testContext{lists: map[string][]string{"items": {"a", "", "c"}}}

	// {{#if this}} skips empty elements.
	got := expand(t, "{{#each items}}{{#if this}}{{this}}{{/if}}{{/each}}", ctx)
	if got != "ac" {
		t.Errorf("got %q, want %q", got, "ac")
	}

	// Outside a loop, "this" is just an ordinary (here absent) name.
	if got := expand(t, "[{{this}}]", ctx); got != "[]" {
		t.Errorf("top-level this = %q, want %q", got, "[]")
	}
}

func TestStandaloneBlockLines(t *testing.T) {
	ctx := testContext{
		texts: map[string]string{"password": ""},
		lists: map[string][]string{"paths": {"/a", "/b"}},
	}
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			"each tags on own lines leave no blanks",
			"paths:\n{{#each paths}}\n  - {{this}}\n{{/each}}\nnext: 1\n",
			"paths:\n  - /a\n  - /b\nnext: 1\n",
		},
		{
			"indented block tags",
			"paths:\n  {{#each paths}}\n  - {{this}}\n  {{/each}}\n",
			"paths:\n  - /a\n  - /b\n",
		},
		{
			"false if removes its lines entirely",
			"a: 1\n{{#if password}}\nhidden: {{password}}\n{{/if}}\nb: 2\n",
			"a: 1\nb: 2\n",
		},
		{
			"inline tags keep surrounding text",
			"x {{#if paths}}y{{/if}} z",
			"x y z",
		},
		{
			"tag at end of input without newline",
			"{{#if paths}}\nok\n{{/if}}",
			"ok\n",
		},
		{
			"crlf block lines leave no blanks",
			"paths:\r\n{{#each paths}}\r\n  - {{this}}\r\n{{/each}}\r\nnext: 1\r\n",
			"paths:\r\n  - /a\r\n  - /b\r\nnext: 1\r\n",
		},
		{
			"crlf false if removes its lines entirely",
			"a: 1\r\n{{#if password}}\r\nhidden: {{password}}\r\n{{/if}}\r\nb: 2\r\n",
			"a: 1\r\nb: 2\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expand(t, tt.input, ctx); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLine int
		wantMsg  string
	}{
		{"unterminated each", "foo: bar\n{{#each paths}}\n  - {{this}}\n", 2, "unterminated {{#each paths}} block"},
		{"unterminated if", "{{#if x}}body", 1, "unterminated {{#if x}} block"},
		{"missing close braces", "a\nb{{name", 2, "missing }}"},
		{"stray close", "{{/if}}", 1, "unexpected {{/if}} with no open block"},
		{"mismatched close", "{{#if a}}{{/each}}", 1, "mismatched {{/each}}: open block is {{#if a}}"},
		{"mismatched nested", "{{#each a}}{{#if b}}{{/each}}{{/if}}", 1, "mismatched {{/each}}: open block is {{#if b}}"},
		{"empty expression", "{{}}", 1, "empty expression"},
		{"blank expression", "{{   }}", 1, "empty expression"},
		{"unknown helper", "{{#unless x}}{{/unless}}", 1, "unknown block helper {{#unless}}"},
		{"unknown close", "{{#if x}}{{/unless}}", 1, "unknown closing tag {{/unless}}"},
		{"if without name", "{{#if}}x{{/if}}", 1, "malformed {{#if}}"},
		{"each with two names", "{{#each a b}}x{{/each}}", 1, "malformed {{#each}}"},
		{"else unsupported", "{{#if x}}a{{else}}b{{/if}}", 1, "{{else}} is not supported"},
		{"bad name", "{{foo bar}}", 1, `invalid expression "foo bar"`},
		{"triple brace", "{{{x}}}", 1, "invalid expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			if err == nil {
				t.Fatalf("Parse(%q): expected error", tt.input)
			}
			var serr *SyntaxError
			if !errors.As(err, &serr) {
				t.Fatalf("error %T is not *SyntaxError", err)
			}
			if serr.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (err: %v)", serr.Line, tt.wantLine, err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestVariables(t *testing.T) {
	tmpl, err := Parse("{{zebra}} {{#if apple}}{{#each paths}}{{this}}{{inner}}{{/each}}{{/if}} {{zebra}}")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"apple", "inner", "paths", "zebra"}
	if got := tmpl.Variables(); !reflect.DeepEqual(got, want) {
		t.Errorf("Variables() = %v, want %v", got, want)
	}
}

func TestVariablesEmpty(t *testing.T) {
	tmpl, err := Parse("no markup at all")
	if err != nil {
		t.Fatal(err)
	}
	if got := tmpl.Variables(); len(got) != 0 {
		t.Errorf("Variables() = %v, want none", got)
	}
}

func TestExecuteDeterministic(t *testing.T) {
	ctx := testContext{
		texts: map[string]string{"a": "1", "b": "2"},
		lists: map[string][]string{"l": {"x", "y"}},
	}
	tmpl, err := Parse("{{a}}{{#each l}}{{this}}{{b}}{{/each}}")
	if err != nil {
		t.Fatal(err)
	}
	first := tmpl.Execute(ctx)
	for i := 0; i < 10; i++ {
		if got := tmpl.Execute(ctx); got != first {
			t.Fatalf("run %d: got %q, want %q", i, got, first)
		}
	}
}
