package engine

import (
	"fmt"
	"math"

	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/zclconf/go-cty/cty"
)

type opKind int

const (
	arithmetic opKind = iota
	division
	comparison
	logical
)

type arrayOp struct {
	symbol string
	kind   opKind
	fn     ndarray.BinaryFunc
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var binaryOps = map[*hclsyntax.Operation]arrayOp{
	hclsyntax.OpAdd:      {"+", arithmetic, func(x, y float64) float64 { return x + y }},
	hclsyntax.OpSubtract: {"-", arithmetic, func(x, y float64) float64 { return x - y }},
	hclsyntax.OpMultiply: {"*", arithmetic, func(x, y float64) float64 { return x * y }},
	hclsyntax.OpDivide: {"/", division, func(x, y float64) float64 {
		if y == 0 {
			return math.NaN()
		}
		return x / y
	}},
	hclsyntax.OpModulo: {"%", arithmetic, func(x, y float64) float64 {
		if y == 0 {
			return math.NaN()
		}
		return x - y*math.Floor(x/y)
	}},
	hclsyntax.OpEqual:              {"==", comparison, func(x, y float64) float64 { return boolFloat(x == y) }},
	hclsyntax.OpNotEqual:           {"!=", comparison, func(x, y float64) float64 { return boolFloat(x != y) }},
	hclsyntax.OpGreaterThan:        {">", comparison, func(x, y float64) float64 { return boolFloat(x > y) }},
	hclsyntax.OpGreaterThanOrEqual: {">=", comparison, func(x, y float64) float64 { return boolFloat(x >= y) }},
	hclsyntax.OpLessThan:           {"<", comparison, func(x, y float64) float64 { return boolFloat(x < y) }},
	hclsyntax.OpLessThanOrEqual:    {"<=", comparison, func(x, y float64) float64 { return boolFloat(x <= y) }},
	hclsyntax.OpLogicalAnd:         {"&&", logical, func(x, y float64) float64 { return boolFloat(x != 0 && y != 0) }},
	hclsyntax.OpLogicalOr:          {"||", logical, func(x, y float64) float64 { return boolFloat(x != 0 || y != 0) }},
}

func (op arrayOp) resultType(a, b ndarray.DType) ndarray.DType {
	switch op.kind {
	case division:
		return ndarray.DivisionType(a, b)
	case comparison, logical:
		return ndarray.Bool
	}
	return ndarray.Promote(a, b)
}

func (op arrayOp) scalarResultType(a ndarray.DType, s float64) ndarray.DType {
	switch op.kind {
	case division:
		return ndarray.DivisionType(a, ndarray.ScalarType(a, s))
	case comparison, logical:
		return ndarray.Bool
	}
	return ndarray.ScalarType(a, s)
}

// binary applies op to two evaluated operands. Operands without arrays use
// the HCL operator itself.
func binary(op *hclsyntax.Operation, lhs, rhs cty.Value) (cty.Value, error) {
	la, lok := AsArray(lhs)
	ra, rok := AsArray(rhs)
	if !lok && !rok {
		return op.Impl.Call([]cty.Value{lhs, rhs})
	}
	spec, ok := binaryOps[op]
	if !ok {
		return cty.NilVal, fmt.Errorf("operator is not supported on arrays")
	}

	switch {
	case lok && rok:
		out, err := ndarray.Binary(la, ra, spec.resultType(la.DType, ra.DType), spec.fn)
		if err != nil {
			return cty.NilVal, fmt.Errorf("%s: %w", spec.symbol, err)
		}
		return ArrayVal(out), nil
	case lok:
		s, err := scalar(rhs)
		if err != nil {
			return cty.NilVal, fmt.Errorf("right operand of %s: %w", spec.symbol, err)
		}
		return ArrayVal(ndarray.BinaryScalar(la, s, false, spec.scalarResultType(la.DType, s), spec.fn)), nil
	default:
		s, err := scalar(lhs)
		if err != nil {
			return cty.NilVal, fmt.Errorf("left operand of %s: %w", spec.symbol, err)
		}
		return ArrayVal(ndarray.BinaryScalar(ra, s, true, spec.scalarResultType(ra.DType, s), spec.fn)), nil
	}
}

// negatedType is the type able to hold the negation of every value of d.
func negatedType(d ndarray.DType) ndarray.DType {
	if d.IsFloat() || d == ndarray.Int16 || d == ndarray.Int32 {
		return d
	}
	return ndarray.Promote(d, ndarray.Int16)
}

func unary(op *hclsyntax.Operation, v cty.Value) (cty.Value, error) {
	a, ok := AsArray(v)
	if !ok {
		return op.Impl.Call([]cty.Value{v})
	}
	switch op {
	case hclsyntax.OpNegate:
		return ArrayVal(ndarray.Unary(a, negatedType(a.DType), func(x float64) float64 { return -x })), nil
	case hclsyntax.OpLogicalNot:
		return ArrayVal(ndarray.Unary(a, ndarray.Bool, func(x float64) float64 { return boolFloat(x == 0) })), nil
	}
	return cty.NilVal, fmt.Errorf("operator is not supported on arrays")
}
