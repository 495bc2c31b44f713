// Package template implements the stream template expression language:
// {{name}} placeholders, {{#if name}} conditionals, and {{#each name}}
// iteration with {{this}} bound to the current element. Templates are
// parsed into a block tree once and expanded against a Context.
package template

import (
	"fmt"
	"sort"
	"strings"
)

// thisName is the implicit loop variable inside {{#each}} blocks.
const thisName = "this"

// Context supplies variable data during expansion. Names are matched
// literally, including dots.
type Context interface {
	// Text returns the literal text substituted for {{name}} and whether
	// the variable exists. Absent variables expand to nothing.
	Text(name string) (string, bool)
	// Truthy reports whether {{#if name}} includes its body.
	Truthy(name string) bool
	// Items returns the per-element texts iterated by {{#each name}}.
	// ok is false when the variable is absent or not iterable, in which
	// case the block contributes nothing.
	Items(name string) ([]string, bool)
}

// SyntaxError reports template markup that cannot be parsed: unterminated
// expressions, malformed or unknown tags, and unbalanced blocks.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("template syntax: line %d: %s", e.Line, e.Msg)
}

// Template is a parsed template, ready for expansion.
type Template struct {
	nodes []node
}

type node interface {
	render(b *strings.Builder, ctx Context)
}

type textNode struct {
	text string
}

type varNode struct {
	name string
}

type ifNode struct {
	name string
	body []node
}

type eachNode struct {
	name string
	body []node
}

// Parse builds the block tree for src. The only error it returns is
// *SyntaxError.
func Parse(src string) (*Template, error) {
	tokens, err := scan(src)
	if err != nil {
		return nil, err
	}

	type frame struct {
		kind tokenKind
		name string
		line int
		body []node
	}
	stack := []frame{{}}
	top := func() *frame { return &stack[len(stack)-1] }

	for _, tok := range tokens {
		switch tok.kind {
		case tokenText:
			top().body = append(top().body, textNode{text: tok.text})
		case tokenVar:
			top().body = append(top().body, varNode{name: tok.text})
		case tokenOpenIf, tokenOpenEach:
			stack = append(stack, frame{kind: tok.kind, name: tok.text, line: tok.line})
		case tokenCloseIf, tokenCloseEach:
			open := top()
			if open.kind == 0 {
				return nil, &SyntaxError{Line: tok.line, Msg: fmt.Sprintf("unexpected {{/%s}} with no open block", closeName(tok.kind))}
			}
			if (tok.kind == tokenCloseIf) != (open.kind == tokenOpenIf) {
				return nil, &SyntaxError{
					Line: tok.line,
					Msg:  fmt.Sprintf("mismatched {{/%s}}: open block is {{#%s %s}}", closeName(tok.kind), openName(open.kind), open.name),
				}
			}
			stack = stack[:len(stack)-1]
			var n node
			if tok.kind == tokenCloseIf {
				n = ifNode{name: open.name, body: open.body}
			} else {
				n = eachNode{name: open.name, body: open.body}
			}
			top().body = append(top().body, n)
		}
	}

	if len(stack) > 1 {
		open := top()
		return nil, &SyntaxError{
			Line: open.line,
			Msg:  fmt.Sprintf("unterminated {{#%s %s}} block", openName(open.kind), open.name),
		}
	}
	return &Template{nodes: stack[0].body}, nil
}

func openName(k tokenKind) string {
	if k == tokenOpenEach {
		return "each"
	}
	return "if"
}

func closeName(k tokenKind) string {
	if k == tokenCloseEach {
		return "each"
	}
	return "if"
}

// Execute expands the template against ctx. Expansion cannot fail: absent
// placeholders produce nothing and guarded blocks simply drop out.
func (t *Template) Execute(ctx Context) string {
	var b strings.Builder
	renderAll(&b, t.nodes, ctx)
	return b.String()
}

func renderAll(b *strings.Builder, nodes []node, ctx Context) {
	for _, n := range nodes {
		n.render(b, ctx)
	}
}

func (n textNode) render(b *strings.Builder, _ Context) {
	b.WriteString(n.text)
}

func (n varNode) render(b *strings.Builder, ctx Context) {
	if s, ok := ctx.Text(n.name); ok {
		b.WriteString(s)
	}
}

func (n ifNode) render(b *strings.Builder, ctx Context) {
	if ctx.Truthy(n.name) {
		renderAll(b, n.body, ctx)
	}
}

func (n eachNode) render(b *strings.Builder, ctx Context) {
	items, ok := ctx.Items(n.name)
	if !ok {
		return
	}
	for _, item := range items {
		renderAll(b, n.body, &itemContext{Context: ctx, item: item})
	}
}

// itemContext binds "this" to the current element and resolves every other
// name through the enclosing scope.
type itemContext struct {
	Context
	item string
}

func (c *itemContext) Text(name string) (string, bool) {
	if name == thisName {
		return c.item, true
	}
	return c.Context.Text(name)
}

func (c *itemContext) Truthy(name string) bool {
	if name == thisName {
		return c.item != ""
	}
	return c.Context.Truthy(name)
}

func (c *itemContext) Items(name string) ([]string, bool) {
	if name == thisName {
		return nil, false
	}
	return c.Context.Items(name)
}

// Variables returns the distinct variable names the template references,
// sorted. The implicit loop variable is not reported.
func (t *Template) Variables() []string {
	seen := map[string]bool{}
	collectVars(t.nodes, seen)
	delete(seen, thisName)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectVars(nodes []node, seen map[string]bool) {
	for _, n := range nodes {
		switch t := n.(type) {
		case varNode:
			seen[t.name] = true
		case ifNode:
			seen[t.name] = true
			collectVars(t.body, seen)
		case eachNode:
			seen[t.name] = true
			collectVars(t.body, seen)
		}
	}
}

// --- scanning ----------------------------------------------------------------

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenVar
	tokenOpenIf
	tokenOpenEach
	tokenCloseIf
	tokenCloseEach
)

type token struct {
	kind tokenKind
	text string // literal text, or the variable name
	line int
}

// scan splits src into text runs and tags. A block tag standing alone on
// its line is consumed together with the surrounding indentation and
// newline so block markup leaves no blank lines in the expansion.
func scan(src string) ([]token, error) {
	var tokens []token
	pos := 0
	line := 1

	for pos < len(src) {
		open := strings.Index(src[pos:], "{{")
		if open < 0 {
			tokens = append(tokens, token{kind: tokenText, text: src[pos:], line: line})
			break
		}
		open += pos

		tagLine := line + strings.Count(src[pos:open], "\n")
		end := strings.Index(src[open+2:], "}}")
		if end < 0 {
			return nil, &SyntaxError{Line: tagLine, Msg: "unterminated expression: missing }}"}
		}
		innerEnd := open + 2 + end
		tagEnd := innerEnd + 2

		tok, err := classify(src[open+2:innerEnd], tagLine)
		if err != nil {
			return nil, err
		}

		textEnd := open
		nextPos := tagEnd
		if isBlockTag(tok.kind) {
			if start, after, ok := standalone(src, open, tagEnd); ok {
				textEnd = start
				nextPos = after
			}
		}

		if textEnd > pos {
			tokens = append(tokens, token{kind: tokenText, text: src[pos:textEnd], line: line})
		}
		tokens = append(tokens, tok)

		line += strings.Count(src[pos:nextPos], "\n")
		pos = nextPos
	}
	return tokens, nil
}

func isBlockTag(k tokenKind) bool {
	switch k {
	case tokenOpenIf, tokenOpenEach, tokenCloseIf, tokenCloseEach:
		return true
	}
	return false
}

// standalone reports whether the tag spanning [open, end) is the only
// non-whitespace content on its line. If so it returns the line start and
// the position just past the trailing newline. A \r before that newline
// counts as part of the line ending.
func standalone(src string, open, end int) (start, after int, ok bool) {
	start = open
	for start > 0 && (src[start-1] == ' ' || src[start-1] == '\t') {
		start--
	}
	if start > 0 && src[start-1] != '\n' {
		return 0, 0, false
	}

	after = end
	for after < len(src) && (src[after] == ' ' || src[after] == '\t') {
		after++
	}
	if after < len(src) && src[after] == '\r' {
		after++
	}
	if after < len(src) {
		if src[after] != '\n' {
			return 0, 0, false
		}
		after++
	}
	return start, after, true
}

// classify parses the text between {{ and }}.
func classify(inner string, line int) (token, error) {
	expr := strings.TrimSpace(inner)
	switch {
	case expr == "":
		return token{}, &SyntaxError{Line: line, Msg: "empty expression"}

	case strings.HasPrefix(expr, "#"):
		fields := strings.Fields(expr)
		var kind tokenKind
		switch fields[0] {
		case "#if":
			kind = tokenOpenIf
		case "#each":
			kind = tokenOpenEach
		default:
			return token{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("unknown block helper {{%s}}", fields[0])}
		}
		if len(fields) != 2 || !validName(fields[1]) {
			return token{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("malformed {{%s}}: want a single variable name", fields[0])}
		}
		return token{kind: kind, text: fields[1], line: line}, nil

	case strings.HasPrefix(expr, "/"):
		switch expr {
		case "/if":
			return token{kind: tokenCloseIf, line: line}, nil
		case "/each":
			return token{kind: tokenCloseEach, line: line}, nil
		}
		return token{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("unknown closing tag {{%s}}", expr)}

	case expr == "else":
		// The language has no alternative branches.
		return token{}, &SyntaxError{Line: line, Msg: "{{else}} is not supported"}

	default:
		if !validName(expr) {
			return token{}, &SyntaxError{Line: line, Msg: fmt.Sprintf("invalid expression %q", expr)}
		}
		return token{kind: tokenVar, text: expr, line: line}, nil
	}
}

// validName accepts identifiers made of letters, digits, underscores,
// dashes, and dots. Dotted names are single literal keys, not paths.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return false
		}
	}
	return true
}
