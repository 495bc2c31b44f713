// Package compile renders every stream of a package into the assembled
// agent configuration document.
package compile

import (
	"fmt"
	"io"
	"os"

	"github.com/streamtpl/streamtpl/internal/document"
	"github.com/streamtpl/streamtpl/internal/manifest"
	"github.com/streamtpl/streamtpl/internal/stream"
	"github.com/streamtpl/streamtpl/internal/vars"
)

// Compiler renders package streams. Out receives progress lines when
// Verbose is set; it must not be the same writer the document goes to.
type Compiler struct {
	Verbose bool
	Out     io.Writer
}

// New returns a Compiler writing progress to stderr.
func New(verbose bool) *Compiler {
	return &Compiler{Verbose: verbose, Out: os.Stderr}
}

// CompileAll renders every stream in pkg against values and assembles
// the results under a single streams key, in manifest order.
func (c *Compiler) CompileAll(pkg *manifest.Package, values vars.Mapping) (document.Mapping, error) {
	seq := make([]document.Value, 0, len(pkg.Streams))
	for i := range pkg.Streams {
		doc, err := c.compile(pkg, &pkg.Streams[i], values)
		if err != nil {
			return nil, err
		}
		seq = append(seq, document.Value{Kind: document.KindMapping, Map: doc})
	}
	return document.Mapping{
		{Key: "streams", Value: document.Value{Kind: document.KindSequence, Seq: seq}},
	}, nil
}

// CompileStream renders the single named stream.
func (c *Compiler) CompileStream(pkg *manifest.Package, name string, values vars.Mapping) (document.Mapping, error) {
	s := pkg.Stream(name)
	if s == nil {
		return nil, fmt.Errorf("package %q has no stream %q", pkg.Name, name)
	}
	return c.compile(pkg, s, values)
}

// compile resolves the stream's variables, renders its template, and
// puts the generated stream id first. An id declared by the template
// itself is replaced.
func (c *Compiler) compile(pkg *manifest.Package, s *manifest.Stream, values vars.Mapping) (document.Mapping, error) {
	resolved, err := s.Resolve(values)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", s.Name, err)
	}

	data, err := os.ReadFile(pkg.TemplatePath(s))
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", s.Name, err)
	}

	doc, err := stream.Render(resolved, string(data))
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", s.Name, err)
	}

	id := pkg.Name + "-" + s.Name
	out := document.Mapping{{Key: "id", Value: document.StringValue(id)}}
	for _, p := range doc {
		if p.Key == "id" {
			continue
		}
		out = append(out, p)
	}

	if c.Verbose && c.Out != nil {
		fmt.Fprintf(c.Out, "  -> %s (%d keys)\n", id, len(out))
	}
	return out, nil
}
