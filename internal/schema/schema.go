// Package schema discovers what a snippet produces by evaluating it once on
// a single-pixel tile before any real work is done.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/engine"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/resolve"
	"github.com/specialistvlad/blockcalc/internal/snippet"
)

// Output is the element type and band count of one produced array.
type Output struct {
	Name  string
	DType ndarray.DType
	Bands int
}

func (o Output) String() string {
	return fmt.Sprintf("%s(%s x%d)", o.Name, o.DType, o.Bands)
}

// Schema lists the outputs of a snippet in assignment order.
type Schema []Output

// Lookup returns the output called name.
func (s Schema) Lookup(name string) (Output, bool) {
	for _, o := range s {
		if o.Name == name {
			return o, true
		}
	}
	return Output{}, false
}

// Names returns the output names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, o := range s {
		names[i] = o.Name
	}
	return names
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, o := range s {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

// DryRunTile is the tile a schema is inferred on.
func DryRunTile(overlap int) gridwalk.Tile {
	return gridwalk.Tile{Width: 1, Height: 1, Overlap: overlap}
}

// Infer evaluates eng once on the top-left pixel of the grid, with writer
// calls discarded, and reports every array the evaluation produced. A
// snippet that produces nothing is a configuration error.
func Infer(ctx context.Context, eng *engine.Engine, res *resolve.Resolver, overlap int) (Schema, error) {
	logger := ctxlog.FromContext(ctx)
	tile := DryRunTile(overlap)

	arrays, err := res.Bind(ctx, tile)
	if err != nil {
		return nil, fmt.Errorf("binding inputs for the dry run: %w", err)
	}

	prog := eng.Program()
	writers := make(map[string]engine.Writer)
	for _, name := range prog.WriterTargets() {
		writers[name] = engine.Discard{}
	}

	result, err := eng.Evaluate(ctx, &engine.Namespace{
		Tile:    tile,
		Arrays:  arrays,
		Sources: res.Infos(),
		Writers: writers,
	})
	if err != nil {
		return nil, err
	}

	var s Schema
	for _, name := range result.Order {
		a, ok := result.Outputs[name]
		if !ok {
			continue
		}
		s = append(s, Output{Name: name, DType: a.DType, Bands: a.Bands})
	}
	if len(s) == 0 {
		return nil, calcerr.Configf("snippet", "expression produced no output")
	}
	for _, name := range prog.WriterTargets() {
		if _, ok := s.Lookup(name); !ok {
			return nil, writerTargetError(prog, name)
		}
	}

	logger.Debug("Inferred output schema.", "outputs", s.String())
	return s, nil
}

func writerTargetError(prog *snippet.Program, name string) error {
	for _, st := range prog.Statements {
		if st.Kind == snippet.WriterCall && st.Name == name {
			return calcerr.Scriptf(st.Line, "%s.%s targets %q, which is not an output", st.Handle(), st.Method, name)
		}
	}
	return calcerr.Scriptf(0, "writer handle for %q has no matching output", name)
}
