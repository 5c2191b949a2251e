package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/blockcalc/internal/calcerr"
	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/specialistvlad/blockcalc/internal/snippet"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Namespace is everything one evaluation can see.
type Namespace struct {
	Tile gridwalk.Tile
	// Arrays are the bound inputs keyed by the names the snippet uses.
	Arrays map[string]*ndarray.Array
	// Sources describe the declared inputs for metadata reads.
	Sources map[string]raster.Info
	// Writers are the output handles keyed by output name.
	Writers map[string]Writer
	// Canceled backs is_canceled(). It may be nil.
	Canceled func() bool
}

// Result holds the arrays produced by one evaluation.
type Result struct {
	// Outputs are the array-valued assignments shaped like the tile.
	Outputs map[string]*ndarray.Array
	// Arrays are all array-valued assignments, whatever their shape.
	Arrays map[string]*ndarray.Array
	// Order lists the names of Arrays in assignment order.
	Order []string
}

// Engine evaluates one program. It holds no per-tile state and may be used
// for any number of evaluations.
type Engine struct {
	prog *snippet.Program
}

// New checks that every function prog calls exists.
func New(prog *snippet.Program) (*Engine, error) {
	known := builtins(nil)
	for _, stmt := range prog.Statements {
		exprs := append([]hclsyntax.Expression{stmt.Expr}, stmt.Args...)
		for _, expr := range exprs {
			if expr == nil {
				continue
			}
			diags := hclsyntax.VisitAll(expr, func(n hclsyntax.Node) hcl.Diagnostics {
				call, ok := n.(*hclsyntax.FunctionCallExpr)
				if !ok {
					return nil
				}
				if _, ok := known[call.Name]; ok {
					return nil
				}
				return hcl.Diagnostics{{
					Severity: hcl.DiagError,
					Summary:  "Call to unknown function",
					Detail:   fmt.Sprintf("There is no function named %q.", call.Name),
					Subject:  call.NameRange.Ptr(),
				}}
			})
			if diags.HasErrors() {
				return nil, snippet.DiagnosticsError(diags, stmt.Line)
			}
		}
	}
	return &Engine{prog: prog}, nil
}

// Program returns the program being evaluated.
func (e *Engine) Program() *snippet.Program { return e.prog }

type evaluation struct {
	ctx  context.Context
	ns   *Namespace
	vars map[string]cty.Value
	hctx *hcl.EvalContext
	line int
}

func (ev *evaluation) canceled() bool {
	return ev.ns.Canceled != nil && ev.ns.Canceled()
}

// Evaluate runs the program once against ns. Every failure, including a
// panic inside a built-in, is returned as a *calcerr.ScriptExecutionError.
func (e *Engine) Evaluate(ctx context.Context, ns *Namespace) (res *Result, err error) {
	logger := ctxlog.FromContext(ctx)
	ev := &evaluation{ctx: ctx, ns: ns, vars: make(map[string]cty.Value)}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Snippet evaluation panicked.", "tile", ns.Tile.Index, "panic", r, "stack", string(debug.Stack()))
			res, err = nil, &calcerr.ScriptExecutionError{Line: ev.line, Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	for name, a := range ns.Arrays {
		ev.vars[name] = ArrayVal(a)
	}
	for name, info := range ns.Sources {
		if _, bound := ev.vars[name]; !bound {
			ev.vars[name] = sourceObject(info)
		}
	}
	ev.vars[snippet.TileVar] = tileObject(ns.Tile)
	ev.hctx = &hcl.EvalContext{Variables: ev.vars, Functions: builtins(ev)}

	for _, stmt := range e.prog.Statements {
		ev.line = stmt.Line
		switch stmt.Kind {
		case snippet.Assign:
			v, err := ev.eval(stmt.Expr)
			if err != nil {
				return nil, ev.fail(err)
			}
			ev.vars[stmt.Name] = v
		case snippet.Call:
			if _, err := ev.eval(stmt.Expr); err != nil {
				return nil, ev.fail(err)
			}
		case snippet.WriterCall:
			if err := ev.callWriter(stmt); err != nil {
				return nil, ev.fail(err)
			}
		}
	}

	rows, cols := ns.Tile.Shape()
	res = &Result{Outputs: make(map[string]*ndarray.Array), Arrays: make(map[string]*ndarray.Array)}
	for _, name := range e.prog.Assigned() {
		if _, input := ns.Arrays[name]; input {
			continue
		}
		a, ok := AsArray(ev.vars[name])
		if !ok {
			continue
		}
		res.Arrays[name] = a
		res.Order = append(res.Order, name)
		if a.Rows == rows && a.Cols == cols {
			res.Outputs[name] = a
		}
	}
	logger.Debug("Evaluated snippet for tile.", "tile", ns.Tile.Index, "outputs", len(res.Outputs), "arrays", len(res.Arrays))
	return res, nil
}

// fail attributes err to the statement being evaluated.
func (ev *evaluation) fail(err error) error {
	var se *calcerr.ScriptExecutionError
	if errors.As(err, &se) {
		return err
	}
	var diags hcl.Diagnostics
	if errors.As(err, &diags) {
		return snippet.DiagnosticsError(diags, ev.line)
	}
	return &calcerr.ScriptExecutionError{Line: ev.line, Message: err.Error(), Err: err}
}

func (ev *evaluation) callWriter(stmt snippet.Statement) error {
	w, ok := ev.ns.Writers[stmt.Name]
	if !ok {
		return fmt.Errorf("%s does not name an output of this snippet", stmt.Handle())
	}
	args := make([]cty.Value, len(stmt.Args))
	for i, a := range stmt.Args {
		v, err := ev.eval(a)
		if err != nil {
			return err
		}
		args[i] = v
	}
	if err := callWriter(w, stmt.Method, args); err != nil {
		return fmt.Errorf("%s.%s: %w", stmt.Handle(), stmt.Method, err)
	}
	return nil
}

func (ev *evaluation) eval(expr hclsyntax.Expression) (cty.Value, error) {
	switch e := expr.(type) {
	case *hclsyntax.LiteralValueExpr:
		return e.Val, nil
	case *hclsyntax.ParenthesesExpr:
		return ev.eval(e.Expression)
	case *hclsyntax.TemplateWrapExpr:
		return ev.eval(e.Wrapped)
	case *hclsyntax.ScopeTraversalExpr:
		return ev.traverse(e.Traversal)
	case *hclsyntax.RelativeTraversalExpr:
		src, err := ev.eval(e.Source)
		if err != nil {
			return cty.NilVal, err
		}
		return steps(src, e.Traversal)
	case *hclsyntax.UnaryOpExpr:
		v, err := ev.eval(e.Val)
		if err != nil {
			return cty.NilVal, err
		}
		return unary(e.Op, v)
	case *hclsyntax.BinaryOpExpr:
		lhs, err := ev.eval(e.LHS)
		if err != nil {
			return cty.NilVal, err
		}
		rhs, err := ev.eval(e.RHS)
		if err != nil {
			return cty.NilVal, err
		}
		return binary(e.Op, lhs, rhs)
	case *hclsyntax.ConditionalExpr:
		return ev.conditional(e)
	case *hclsyntax.FunctionCallExpr:
		return ev.call(e)
	case *hclsyntax.IndexExpr:
		coll, err := ev.eval(e.Collection)
		if err != nil {
			return cty.NilVal, err
		}
		key, err := ev.eval(e.Key)
		if err != nil {
			return cty.NilVal, err
		}
		if a, ok := AsArray(coll); ok {
			return selectBand(a, key)
		}
		v, diags := hcl.Index(coll, key, e.SrcRange.Ptr())
		if diags.HasErrors() {
			return cty.NilVal, diags
		}
		return v, nil
	case *hclsyntax.TupleConsExpr:
		if len(e.Exprs) == 0 {
			return cty.EmptyTupleVal, nil
		}
		vals := make([]cty.Value, len(e.Exprs))
		for i, x := range e.Exprs {
			v, err := ev.eval(x)
			if err != nil {
				return cty.NilVal, err
			}
			vals[i] = v
		}
		return cty.TupleVal(vals), nil
	}

	v, diags := expr.Value(ev.hctx)
	if diags.HasErrors() {
		return cty.NilVal, diags
	}
	return v, nil
}

// traverse resolves a name and its attribute or index steps. An attribute
// read on a source name is a metadata read, even when the source is also
// bound as an array.
func (ev *evaluation) traverse(tr hcl.Traversal) (cty.Value, error) {
	root := tr.RootName()
	rest := hcl.Traversal(tr[1:])
	if info, ok := ev.ns.Sources[root]; ok && len(rest) > 0 {
		if _, attr := rest[0].(hcl.TraverseAttr); attr {
			return steps(sourceObject(info), rest)
		}
	}
	v, ok := ev.vars[root]
	if !ok {
		return cty.NilVal, fmt.Errorf("unknown name %q", root)
	}
	return steps(v, rest)
}

func steps(v cty.Value, tr hcl.Traversal) (cty.Value, error) {
	for _, step := range tr {
		if a, ok := AsArray(v); ok {
			var err error
			switch s := step.(type) {
			case hcl.TraverseAttr:
				v, err = arrayAttr(a, s.Name)
			case hcl.TraverseIndex:
				v, err = selectBand(a, s.Key)
			default:
				err = fmt.Errorf("unsupported access on an array")
			}
			if err != nil {
				return cty.NilVal, err
			}
			continue
		}
		var diags hcl.Diagnostics
		if v, diags = step.TraversalStep(v); diags.HasErrors() {
			return cty.NilVal, diags
		}
	}
	return v, nil
}

// selectBand indexes the band axis of a, counting from 0.
func selectBand(a *ndarray.Array, key cty.Value) (cty.Value, error) {
	i, err := integer(key)
	if err != nil {
		return cty.NilVal, fmt.Errorf("band index: %w", err)
	}
	if i < 0 || i >= a.Bands {
		return cty.NilVal, fmt.Errorf("band index %d out of range, array has %d band(s)", i, a.Bands)
	}
	out, err := a.SelectBands([]int{i})
	if err != nil {
		return cty.NilVal, err
	}
	return ArrayVal(out), nil
}

// conditional evaluates both branches of an array condition and merges
// them per pixel. A plain condition evaluates only the chosen branch.
func (ev *evaluation) conditional(e *hclsyntax.ConditionalExpr) (cty.Value, error) {
	cond, err := ev.eval(e.Condition)
	if err != nil {
		return cty.NilVal, err
	}
	if !isArray(cond) {
		b, err := convert.Convert(cond, cty.Bool)
		if err != nil || b.IsNull() {
			return cty.NilVal, fmt.Errorf("condition must be a bool or an array, got %s", typeName(cond))
		}
		if b.True() {
			return ev.eval(e.TrueResult)
		}
		return ev.eval(e.FalseResult)
	}
	t, err := ev.eval(e.TrueResult)
	if err != nil {
		return cty.NilVal, err
	}
	f, err := ev.eval(e.FalseResult)
	if err != nil {
		return cty.NilVal, err
	}
	return where(cond, t, f)
}

func (ev *evaluation) call(e *hclsyntax.FunctionCallExpr) (cty.Value, error) {
	fn, ok := ev.hctx.Functions[e.Name]
	if !ok {
		return cty.NilVal, fmt.Errorf("call to unknown function %q", e.Name)
	}
	args := make([]cty.Value, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := ev.eval(a)
		if err != nil {
			return cty.NilVal, err
		}
		args = append(args, v)
	}
	if e.ExpandFinal && len(args) > 0 {
		last := args[len(args)-1]
		ty := last.Type()
		if !(ty.IsTupleType() || ty.IsListType() || ty.IsSetType()) || last.IsNull() {
			return cty.NilVal, fmt.Errorf("%s: the final argument must be a list or tuple to be expanded with ...", e.Name)
		}
		args = append(args[:len(args)-1], last.AsValueSlice()...)
	}
	v, err := fn.Call(args)
	if err != nil {
		return cty.NilVal, fmt.Errorf("%s: %w", e.Name, err)
	}
	return v, nil
}
