package engine

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/specialistvlad/blockcalc/internal/ctxlog"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

type implFunc func(args []cty.Value) (cty.Value, error)

// newFunc declares a function over dynamically typed parameters, so arrays
// and plain HCL values can be passed to the same built-in.
func newFunc(desc string, params []string, varParam string, impl implFunc) function.Function {
	spec := &function.Spec{
		Description: desc,
		Type:        function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return impl(args)
		},
	}
	for _, p := range params {
		spec.Params = append(spec.Params, function.Parameter{Name: p, Type: cty.DynamicPseudoType})
	}
	if varParam != "" {
		spec.VarParam = &function.Parameter{Name: varParam, Type: cty.DynamicPseudoType}
	}
	return function.New(spec)
}

// orScalar runs arrayImpl when any argument is an array and the plain
// function otherwise.
func orScalar(arrayImpl implFunc, plain function.Function) implFunc {
	return func(args []cty.Value) (cty.Value, error) {
		for _, a := range args {
			if isArray(a) {
				return arrayImpl(args)
			}
		}
		return plain.Call(args)
	}
}

// mathFunc lifts f to arrays. Scalars go through f too.
func mathFunc(desc string, resultType func(ndarray.DType) ndarray.DType, f ndarray.UnaryFunc) function.Function {
	return newFunc(desc, []string{"x"}, "", func(args []cty.Value) (cty.Value, error) {
		if a, ok := AsArray(args[0]); ok {
			return ArrayVal(ndarray.Unary(a, resultType(a.DType), f)), nil
		}
		x, err := scalar(args[0])
		if err != nil {
			return cty.NilVal, err
		}
		return numberVal(f(x))
	})
}

// liftFunc lifts f to arrays and defers scalars to plain.
func liftFunc(desc string, plain function.Function, f ndarray.UnaryFunc) function.Function {
	return newFunc(desc, []string{"x"}, "", orScalar(func(args []cty.Value) (cty.Value, error) {
		a, _ := AsArray(args[0])
		return ArrayVal(ndarray.Unary(a, a.DType, f)), nil
	}, plain))
}

func sameType(d ndarray.DType) ndarray.DType { return d }

func floatType(d ndarray.DType) ndarray.DType { return ndarray.DivisionType(d, d) }

func requireArray(fn string, v cty.Value) (*ndarray.Array, error) {
	a, ok := AsArray(v)
	if !ok {
		return nil, fmt.Errorf("%s needs an array, got %s", fn, typeName(v))
	}
	return a, nil
}

// elementwise combines two values of which at least one is an array.
func elementwise(x, y cty.Value, resultType func(a, b ndarray.DType) ndarray.DType, f ndarray.BinaryFunc) (cty.Value, error) {
	xa, xok := AsArray(x)
	ya, yok := AsArray(y)
	switch {
	case xok && yok:
		out, err := ndarray.Binary(xa, ya, resultType(xa.DType, ya.DType), f)
		if err != nil {
			return cty.NilVal, err
		}
		return ArrayVal(out), nil
	case xok:
		s, err := scalar(y)
		if err != nil {
			return cty.NilVal, err
		}
		return ArrayVal(ndarray.BinaryScalar(xa, s, false, resultType(xa.DType, ndarray.ScalarType(xa.DType, s)), f)), nil
	case yok:
		s, err := scalar(x)
		if err != nil {
			return cty.NilVal, err
		}
		return ArrayVal(ndarray.BinaryScalar(ya, s, true, resultType(ya.DType, ndarray.ScalarType(ya.DType, s)), f)), nil
	}
	xs, err := scalar(x)
	if err != nil {
		return cty.NilVal, err
	}
	ys, err := scalar(y)
	if err != nil {
		return cty.NilVal, err
	}
	return numberVal(f(xs, ys))
}

// extremum folds min or max over its arguments. A single array reduces
// across its bands.
func extremum(desc string, plain function.Function, pick func(x, y float64) float64, reduce func(*ndarray.Array) *ndarray.Array) function.Function {
	return newFunc(desc, []string{"x"}, "more", orScalar(func(args []cty.Value) (cty.Value, error) {
		if len(args) == 1 {
			a, _ := AsArray(args[0])
			return ArrayVal(reduce(a)), nil
		}
		acc := args[0]
		for _, v := range args[1:] {
			var err error
			if acc, err = elementwise(acc, v, ndarray.Promote, pick); err != nil {
				return cty.NilVal, err
			}
		}
		return acc, nil
	}, plain))
}

// where picks whenTrue where cond holds and whenFalse elsewhere. A scalar
// condition picks a whole branch.
func where(cond, whenTrue, whenFalse cty.Value) (cty.Value, error) {
	c, ok := AsArray(cond)
	if !ok {
		s, err := scalar(cond)
		if err != nil {
			return cty.NilVal, fmt.Errorf("condition: %w", err)
		}
		if s != 0 {
			return whenTrue, nil
		}
		return whenFalse, nil
	}
	ref := c
	if a, ok := AsArray(whenTrue); ok {
		ref = a
	} else if a, ok := AsArray(whenFalse); ok {
		ref = a
	}
	t, err := broadcast(whenTrue, ref)
	if err != nil {
		return cty.NilVal, fmt.Errorf("true result: %w", err)
	}
	f, err := broadcast(whenFalse, ref)
	if err != nil {
		return cty.NilVal, fmt.Errorf("false result: %w", err)
	}
	out, err := ndarray.Where(c, t, f)
	if err != nil {
		return cty.NilVal, err
	}
	return ArrayVal(out), nil
}

// masked returns a copy of a that is missing wherever cond holds.
func masked(a *ndarray.Array, cond cty.Value) (*ndarray.Array, error) {
	out := a.Clone()
	c, ok := AsArray(cond)
	if !ok {
		s, err := scalar(cond)
		if err != nil {
			return nil, err
		}
		if s != 0 {
			for i := range out.Data {
				out.SetInvalid(i)
			}
		}
		return out, nil
	}
	if !c.SameSpatial(a) || (c.Bands != 1 && c.Bands != a.Bands) {
		return nil, fmt.Errorf("condition %s does not fit %s", c, a)
	}
	plane := a.Plane()
	for i := range out.Data {
		ci := (i/plane%c.Bands)*plane + i%plane
		if c.IsValid(ci) && c.Data[ci] != 0 {
			out.SetInvalid(i)
		}
	}
	return out, nil
}

func logFunc(ev *evaluation, level string) function.Function {
	return newFunc("Logs its arguments for the current tile.", nil, "values", func(args []cty.Value) (cty.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = describe(a)
		}
		logger := ctxlog.FromContext(ev.ctx).With("tile", ev.ns.Tile.Index)
		msg := strings.Join(parts, " ")
		switch level {
		case "debug":
			logger.Debug(msg)
		case "warn":
			logger.Warn(msg)
		default:
			logger.Info(msg)
		}
		return cty.True, nil
	})
}

// describe renders v for log output.
func describe(v cty.Value) string {
	if a, ok := AsArray(v); ok {
		return a.String()
	}
	if !v.IsKnown() || v.IsNull() {
		return "null"
	}
	switch v.Type() {
	case cty.String:
		return v.AsString()
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return fmt.Sprintf("%g", f)
	case cty.Bool:
		return fmt.Sprintf("%t", v.True())
	}
	return v.GoString()
}

// full builds a constant array. shape is empty, bands, or bands, rows, cols;
// the spatial shape defaults to the tile's.
func (ev *evaluation) full(name string, v float64, shape []cty.Value) (cty.Value, error) {
	dims := make([]int, len(shape))
	for i, a := range shape {
		var err error
		if dims[i], err = integer(a); err != nil {
			return cty.NilVal, err
		}
		if dims[i] <= 0 {
			return cty.NilVal, fmt.Errorf("dimensions must be positive, got %d", dims[i])
		}
	}
	bands, rows, cols := 1, 0, 0
	if ev != nil {
		rows, cols = ev.ns.Tile.Shape()
	}
	switch len(dims) {
	case 0:
	case 1:
		bands = dims[0]
	case 3:
		bands, rows, cols = dims[0], dims[1], dims[2]
	default:
		return cty.NilVal, fmt.Errorf("%s takes bands, or bands, rows, cols", name)
	}
	return ArrayVal(ndarray.Full(scalarType(v), bands, rows, cols, v)), nil
}

// builtins returns the functions available to a snippet. Functions that
// depend on the tile close over ev; ev may be nil when only the names are
// needed.
func builtins(ev *evaluation) map[string]function.Function {
	return map[string]function.Function{
		"abs":   liftFunc("Absolute value.", stdlib.AbsoluteFunc, math.Abs),
		"floor": liftFunc("Largest whole number not above x.", stdlib.FloorFunc, math.Floor),
		"ceil":  liftFunc("Smallest whole number not below x.", stdlib.CeilFunc, math.Ceil),
		"round": mathFunc("Nearest whole number, halves away from zero.", sameType, math.Round),
		"sqrt":  mathFunc("Square root.", floatType, math.Sqrt),
		"exp":   mathFunc("e raised to x.", floatType, math.Exp),
		"log": newFunc("Natural logarithm, or the logarithm in base when given.", []string{"x"}, "base", func(args []cty.Value) (cty.Value, error) {
			if len(args) > 2 {
				return cty.NilVal, fmt.Errorf("log takes at most 2 arguments")
			}
			if len(args) == 1 {
				if a, ok := AsArray(args[0]); ok {
					return ArrayVal(ndarray.Unary(a, floatType(a.DType), math.Log)), nil
				}
				x, err := scalar(args[0])
				if err != nil {
					return cty.NilVal, err
				}
				return numberVal(math.Log(x))
			}
			return orScalar(func(args []cty.Value) (cty.Value, error) {
				return elementwise(args[0], args[1], ndarray.DivisionType, func(x, b float64) float64 { return math.Log(x) / math.Log(b) })
			}, stdlib.LogFunc)(args)
		}),
		"pow": newFunc("x raised to y.", []string{"x", "y"}, "", orScalar(func(args []cty.Value) (cty.Value, error) {
			return elementwise(args[0], args[1], ndarray.DivisionType, math.Pow)
		}, stdlib.PowFunc)),
		"min": extremum("Smallest of the arguments, or the per-pixel minimum across the bands of one array.", stdlib.MinFunc, math.Min, ndarray.MinBands),
		"max": extremum("Largest of the arguments, or the per-pixel maximum across the bands of one array.", stdlib.MaxFunc, math.Max, ndarray.MaxBands),
		"clip": newFunc("Limits x to [lo, hi].", []string{"x", "lo", "hi"}, "", func(args []cty.Value) (cty.Value, error) {
			lo, err := scalar(args[1])
			if err != nil {
				return cty.NilVal, fmt.Errorf("lo: %w", err)
			}
			hi, err := scalar(args[2])
			if err != nil {
				return cty.NilVal, fmt.Errorf("hi: %w", err)
			}
			if lo > hi {
				return cty.NilVal, fmt.Errorf("lo %g is above hi %g", lo, hi)
			}
			clamp := func(x float64) float64 { return math.Max(lo, math.Min(hi, x)) }
			if a, ok := AsArray(args[0]); ok {
				return ArrayVal(ndarray.Unary(a, a.DType, clamp)), nil
			}
			x, err := scalar(args[0])
			if err != nil {
				return cty.NilVal, err
			}
			return numberVal(clamp(x))
		}),
		"where": newFunc("Picks a where cond holds and b elsewhere.", []string{"cond", "a", "b"}, "", func(args []cty.Value) (cty.Value, error) {
			return where(args[0], args[1], args[2])
		}),
		"mask": newFunc("Bool array that is true where x holds data.", []string{"x"}, "", func(args []cty.Value) (cty.Value, error) {
			a, err := requireArray("mask", args[0])
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(a.MaskArray()), nil
		}),
		"fill": newFunc("Replaces missing pixels of x with v.", []string{"x", "v"}, "", func(args []cty.Value) (cty.Value, error) {
			a, err := requireArray("fill", args[0])
			if err != nil {
				return cty.NilVal, err
			}
			v, err := scalar(args[1])
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(a.FillInvalid(v)), nil
		}),
		"masked": newFunc("Marks x missing wherever cond holds.", []string{"x", "cond"}, "", func(args []cty.Value) (cty.Value, error) {
			a, err := requireArray("masked", args[0])
			if err != nil {
				return cty.NilVal, err
			}
			out, err := masked(a, args[1])
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(out), nil
		}),
		"astype": newFunc("Converts x to the named element type.", []string{"x", "dtype"}, "", func(args []cty.Value) (cty.Value, error) {
			a, err := requireArray("astype", args[0])
			if err != nil {
				return cty.NilVal, err
			}
			if args[1].Type() != cty.String || args[1].IsNull() {
				return cty.NilVal, fmt.Errorf("dtype must be a string such as \"float32\"")
			}
			dt, err := ndarray.ParseDType(args[1].AsString())
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(a.AsType(dt)), nil
		}),
		"band": newFunc("Band i of x, counting from 1.", []string{"x", "i"}, "", func(args []cty.Value) (cty.Value, error) {
			a, err := requireArray("band", args[0])
			if err != nil {
				return cty.NilVal, err
			}
			i, err := integer(args[1])
			if err != nil {
				return cty.NilVal, err
			}
			if i < 1 || i > a.Bands {
				return cty.NilVal, fmt.Errorf("band %d out of range, array has %d band(s)", i, a.Bands)
			}
			out, err := a.SelectBands([]int{i - 1})
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(out), nil
		}),
		"stack": newFunc("Concatenates arrays along the band axis.", []string{"first"}, "more", func(args []cty.Value) (cty.Value, error) {
			arrays := make([]*ndarray.Array, len(args))
			for i, v := range args {
				a, err := requireArray("stack", v)
				if err != nil {
					return cty.NilVal, err
				}
				arrays[i] = a
			}
			out, err := ndarray.Stack(arrays...)
			if err != nil {
				return cty.NilVal, err
			}
			return ArrayVal(out), nil
		}),
		"sum_bands":  bandReduce("sum_bands", "Per-pixel sum across bands.", ndarray.SumBands),
		"mean_bands": bandReduce("mean_bands", "Per-pixel mean across bands.", ndarray.MeanBands),
		"focal_sum":  focalFunc("focal_sum", "Sum over the square window of the given radius.", ndarray.FocalSum),
		"focal_mean": focalFunc("focal_mean", "Mean over the square window of the given radius.", ndarray.FocalMean),
		"ndi": newFunc("Normalised difference (a - b) / (a + b).", []string{"a", "b"}, "", func(args []cty.Value) (cty.Value, error) {
			return elementwise(args[0], args[1], ndarray.DivisionType, func(a, b float64) float64 {
				if a+b == 0 {
					return math.NaN()
				}
				return (a - b) / (a + b)
			})
		}),
		"full": newFunc("Array filled with value; bands defaults to 1 and the shape to the tile's.", []string{"value"}, "shape", func(args []cty.Value) (cty.Value, error) {
			v, err := scalar(args[0])
			if err != nil {
				return cty.NilVal, err
			}
			return ev.full("full", v, args[1:])
		}),
		"zeros": newFunc("Array of zeros shaped like full.", nil, "shape", func(args []cty.Value) (cty.Value, error) {
			return ev.full("zeros", 0, args)
		}),
		"ones": newFunc("Array of ones shaped like full.", nil, "shape", func(args []cty.Value) (cty.Value, error) {
			return ev.full("ones", 1, args)
		}),
		"isnan": newFunc("True where x is missing or not a number.", []string{"x"}, "", func(args []cty.Value) (cty.Value, error) {
			if a, ok := AsArray(args[0]); ok {
				out := ndarray.New(ndarray.Bool, a.Bands, a.Rows, a.Cols)
				for i, v := range a.Data {
					if math.IsNaN(v) || !a.IsValid(i) {
						out.Data[i] = 1
					}
				}
				return ArrayVal(out), nil
			}
			x, err := scalar(args[0])
			if err != nil {
				return cty.NilVal, err
			}
			return cty.BoolVal(math.IsNaN(x)), nil
		}),
		"is_canceled": newFunc("Reports whether the run has been asked to stop.", nil, "", func([]cty.Value) (cty.Value, error) {
			return cty.BoolVal(ev != nil && ev.canceled()), nil
		}),
		"log_debug": logFunc(ev, "debug"),
		"log_info":  logFunc(ev, "info"),
		"log_warn":  logFunc(ev, "warn"),

		"format":   stdlib.FormatFunc,
		"upper":    stdlib.UpperFunc,
		"lower":    stdlib.LowerFunc,
		"join":     stdlib.JoinFunc,
		"length":   stdlib.LengthFunc,
		"concat":   stdlib.ConcatFunc,
		"element":  stdlib.ElementFunc,
		"coalesce": stdlib.CoalesceFunc,
		"signum":   stdlib.SignumFunc,
	}
}

func bandReduce(name, desc string, f func(*ndarray.Array) *ndarray.Array) function.Function {
	return newFunc(desc, []string{"x"}, "", func(args []cty.Value) (cty.Value, error) {
		a, err := requireArray(name, args[0])
		if err != nil {
			return cty.NilVal, err
		}
		return ArrayVal(f(a)), nil
	})
}

func focalFunc(name, desc string, f func(*ndarray.Array, int) (*ndarray.Array, error)) function.Function {
	return newFunc(desc, []string{"x", "radius"}, "", func(args []cty.Value) (cty.Value, error) {
		a, err := requireArray(name, args[0])
		if err != nil {
			return cty.NilVal, err
		}
		r, err := integer(args[1])
		if err != nil {
			return cty.NilVal, err
		}
		out, err := f(a, r)
		if err != nil {
			return cty.NilVal, err
		}
		return ArrayVal(out), nil
	})
}

// FunctionNames lists the built-in functions, sorted.
func FunctionNames() []string {
	fns := builtins(nil)
	names := make([]string, 0, len(fns))
	for n := range fns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
