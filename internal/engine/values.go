package engine

import (
	"fmt"
	"math"
	"reflect"

	"github.com/specialistvlad/blockcalc/internal/gridwalk"
	"github.com/specialistvlad/blockcalc/internal/ndarray"
	"github.com/specialistvlad/blockcalc/internal/raster"
	"github.com/zclconf/go-cty/cty"
)

// ArrayType is the cty type of an array value.
var ArrayType = cty.Capsule("array", reflect.TypeOf(ndarray.Array{}))

// ArrayVal wraps a as a cty value.
func ArrayVal(a *ndarray.Array) cty.Value { return cty.CapsuleVal(ArrayType, a) }

// AsArray unwraps an array value.
func AsArray(v cty.Value) (*ndarray.Array, bool) {
	if !v.IsKnown() || v.IsNull() || !v.Type().Equals(ArrayType) {
		return nil, false
	}
	return v.EncapsulatedValue().(*ndarray.Array), true
}

func isArray(v cty.Value) bool {
	_, ok := AsArray(v)
	return ok
}

// scalar converts a number or bool to float64.
func scalar(v cty.Value) (float64, error) {
	switch {
	case !v.IsKnown() || v.IsNull():
		return 0, fmt.Errorf("a value is required")
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case v.Type() == cty.Bool:
		if v.True() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("a number is required, got %s", typeName(v))
}

func integer(v cty.Value) (int, error) {
	f, err := scalar(v)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("a whole number is required, got %g", f)
	}
	return int(f), nil
}

func typeName(v cty.Value) string {
	if isArray(v) {
		return "array"
	}
	return v.Type().FriendlyName()
}

// numberVal converts f back to cty, mapping NaN to an error since cty
// numbers cannot represent it.
func numberVal(f float64) (cty.Value, error) {
	if math.IsNaN(f) {
		return cty.NilVal, fmt.Errorf("result is not a number")
	}
	if math.IsInf(f, 0) {
		return cty.NilVal, fmt.Errorf("result is infinite")
	}
	return cty.NumberFloatVal(f), nil
}

// scalarType returns the array type of a bare scalar.
func scalarType(f float64) ndarray.DType {
	if f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
		return ndarray.Int32
	}
	return ndarray.Float64
}

// broadcast returns v as an array with the spatial shape of like. Scalars
// are expanded to a single band.
func broadcast(v cty.Value, like *ndarray.Array) (*ndarray.Array, error) {
	if a, ok := AsArray(v); ok {
		return a, nil
	}
	f, err := scalar(v)
	if err != nil {
		return nil, err
	}
	return ndarray.Full(ndarray.ScalarType(like.DType, f), 1, like.Rows, like.Cols, f), nil
}

// arrayAttr exposes the shape of an array to attribute access.
func arrayAttr(a *ndarray.Array, name string) (cty.Value, error) {
	switch name {
	case "bands":
		return cty.NumberIntVal(int64(a.Bands)), nil
	case "rows":
		return cty.NumberIntVal(int64(a.Rows)), nil
	case "cols":
		return cty.NumberIntVal(int64(a.Cols)), nil
	case "dtype":
		return cty.StringVal(a.DType.String()), nil
	}
	return cty.NilVal, fmt.Errorf("arrays have no attribute %q; use bands, rows, cols or dtype", name)
}

// sourceObject describes a source's metadata to the snippet.
func sourceObject(info raster.Info) cty.Value {
	names := make([]cty.Value, len(info.Bands))
	waves := make([]cty.Value, len(info.Bands))
	dtypes := make([]cty.Value, len(info.Bands))
	for i, b := range info.Bands {
		names[i] = cty.StringVal(b.Name)
		waves[i] = numberOrNull(b.Wavelength)
		dtypes[i] = cty.StringVal(b.DType.String())
	}
	noData := cty.NullVal(cty.Number)
	if len(info.Bands) > 0 && info.Bands[0].NoData != nil {
		noData = numberOrNull(*info.Bands[0].NoData)
	}
	return cty.ObjectVal(map[string]cty.Value{
		"band_count":    cty.NumberIntVal(int64(info.BandCount())),
		"band_names":    listOrEmpty(cty.String, names),
		"wavelengths":   listOrEmpty(cty.Number, waves),
		"dtypes":        listOrEmpty(cty.String, dtypes),
		"no_data_value": noData,
		"categorical":   cty.BoolVal(info.Categorical),
		"width":         cty.NumberIntVal(int64(info.Grid.Width)),
		"height":        cty.NumberIntVal(int64(info.Grid.Height)),
		"crs":           cty.StringVal(info.Grid.CRS),
		"location":      cty.StringVal(info.Location),
	})
}

// numberOrNull converts v, mapping NaN, which cty cannot hold, to null.
func numberOrNull(v float64) cty.Value {
	if math.IsNaN(v) {
		return cty.NullVal(cty.Number)
	}
	return cty.NumberFloatVal(v)
}

func listOrEmpty(elem cty.Type, vals []cty.Value) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(elem)
	}
	return cty.ListVal(vals)
}

// tileObject describes the tile being evaluated.
func tileObject(t gridwalk.Tile) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"index":    cty.NumberIntVal(int64(t.Index)),
		"x_offset": cty.NumberIntVal(int64(t.XOff)),
		"y_offset": cty.NumberIntVal(int64(t.YOff)),
		"width":    cty.NumberIntVal(int64(t.Width)),
		"height":   cty.NumberIntVal(int64(t.Height)),
		"overlap":  cty.NumberIntVal(int64(t.Overlap)),
	})
}
