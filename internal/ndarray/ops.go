package ndarray

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// UnaryFunc maps one element value to another.
type UnaryFunc func(x float64) float64

// BinaryFunc combines two element values.
type BinaryFunc func(x, y float64) float64

// Unary applies f to every element of a. The result keeps a's mask; NaN
// results are marked missing.
func Unary(a *Array, dtype DType, f UnaryFunc) *Array {
	out := New(dtype, a.Bands, a.Rows, a.Cols)
	if a.Valid != nil {
		out.Valid = append([]bool(nil), a.Valid...)
	}
	for i, v := range a.Data {
		out.store(i, f(v))
	}
	return out
}

// store writes v at i, cast to the array type. Values that are not a
// number are kept out of the result by marking them missing.
func (a *Array) store(i int, v float64) {
	if math.IsNaN(v) {
		a.SetInvalid(i)
		a.Data[i] = 0
		if a.DType.IsFloat() {
			a.Data[i] = v
		}
		return
	}
	a.Data[i] = a.DType.Cast(v)
}

// broadcastBands returns the band count of combining a and b. A single-band
// operand is repeated across every band of the other.
func broadcastBands(a, b *Array) (int, error) {
	if !a.SameSpatial(b) {
		return 0, fmt.Errorf("spatial shapes differ: %s vs %s", a, b)
	}
	switch {
	case a.Bands == b.Bands:
		return a.Bands, nil
	case a.Bands == 1:
		return b.Bands, nil
	case b.Bands == 1:
		return a.Bands, nil
	}
	return 0, fmt.Errorf("band counts differ: %s vs %s", a, b)
}

// Binary combines a and b element-wise. An element of the result is valid
// only when both inputs are.
func Binary(a, b *Array, dtype DType, f BinaryFunc) (*Array, error) {
	bands, err := broadcastBands(a, b)
	if err != nil {
		return nil, err
	}
	out := New(dtype, bands, a.Rows, a.Cols)
	plane := a.Plane()
	for band := 0; band < bands; band++ {
		ao := (band % a.Bands) * plane
		bo := (band % b.Bands) * plane
		oo := band * plane
		for p := 0; p < plane; p++ {
			if !a.IsValid(ao+p) || !b.IsValid(bo+p) {
				out.SetInvalid(oo + p)
				continue
			}
			out.store(oo+p, f(a.Data[ao+p], b.Data[bo+p]))
		}
	}
	return out, nil
}

// BinaryScalar combines a with the scalar s. When scalarLeft is set the
// scalar is the first operand of f.
func BinaryScalar(a *Array, s float64, scalarLeft bool, dtype DType, f BinaryFunc) *Array {
	out := New(dtype, a.Bands, a.Rows, a.Cols)
	if a.Valid != nil {
		out.Valid = append([]bool(nil), a.Valid...)
	}
	for i, v := range a.Data {
		if !a.IsValid(i) {
			continue
		}
		if scalarLeft {
			out.store(i, f(s, v))
		} else {
			out.store(i, f(v, s))
		}
	}
	return out
}

// Where picks elements of whenTrue where cond is non-zero and of whenFalse
// elsewhere. Operands may be single-band and are broadcast.
func Where(cond, whenTrue, whenFalse *Array) (*Array, error) {
	bands, err := broadcastBands(cond, whenTrue)
	if err != nil {
		return nil, err
	}
	if bands, err = broadcastBands(&Array{Bands: bands, Rows: cond.Rows, Cols: cond.Cols}, whenFalse); err != nil {
		return nil, err
	}
	dtype := Promote(whenTrue.DType, whenFalse.DType)
	out := New(dtype, bands, cond.Rows, cond.Cols)
	plane := cond.Plane()
	for band := 0; band < bands; band++ {
		for p := 0; p < plane; p++ {
			ci := (band%cond.Bands)*plane + p
			oi := band*plane + p
			if !cond.IsValid(ci) {
				out.SetInvalid(oi)
				continue
			}
			src := whenFalse
			if cond.Data[ci] != 0 {
				src = whenTrue
			}
			si := (band%src.Bands)*plane + p
			if !src.IsValid(si) {
				out.SetInvalid(oi)
				continue
			}
			out.store(oi, src.Data[si])
		}
	}
	return out, nil
}

// reduceBands folds every pixel's valid band values with f. Pixels without
// any valid band are missing in the single-band result.
func reduceBands(a *Array, dtype DType, f func([]float64) float64) *Array {
	out := New(dtype, 1, a.Rows, a.Cols)
	plane := a.Plane()
	buf := make([]float64, 0, a.Bands)
	for p := 0; p < plane; p++ {
		buf = buf[:0]
		for b := 0; b < a.Bands; b++ {
			if i := b*plane + p; a.IsValid(i) {
				buf = append(buf, a.Data[i])
			}
		}
		if len(buf) == 0 {
			out.SetInvalid(p)
			continue
		}
		out.store(p, f(buf))
	}
	return out
}

// SumBands sums the valid values of every pixel across bands.
func SumBands(a *Array) *Array {
	dtype := Float64
	if a.DType == Float32 {
		dtype = Float32
	}
	return reduceBands(a, dtype, floats.Sum)
}

// MeanBands averages the valid values of every pixel across bands.
func MeanBands(a *Array) *Array {
	dtype := Float64
	if a.DType == Float32 {
		dtype = Float32
	}
	return reduceBands(a, dtype, func(v []float64) float64 {
		return floats.Sum(v) / float64(len(v))
	})
}

// MinBands and MaxBands return the per-pixel extreme across bands.
func MinBands(a *Array) *Array { return reduceBands(a, a.DType, floats.Min) }

func MaxBands(a *Array) *Array { return reduceBands(a, a.DType, floats.Max) }

// focal folds the (2r+1)x(2r+1) neighbourhood of every pixel with f. Only
// valid neighbours inside the array take part; the result is missing where
// the centre pixel is missing.
func focal(a *Array, radius int, dtype DType, f func([]float64) float64) (*Array, error) {
	if radius < 0 {
		return nil, fmt.Errorf("focal radius must not be negative, got %d", radius)
	}
	out := New(dtype, a.Bands, a.Rows, a.Cols)
	buf := make([]float64, 0, (2*radius+1)*(2*radius+1))
	for b := 0; b < a.Bands; b++ {
		for r := 0; r < a.Rows; r++ {
			for c := 0; c < a.Cols; c++ {
				oi := a.Index(b, r, c)
				if !a.IsValid(oi) {
					out.SetInvalid(oi)
					continue
				}
				buf = buf[:0]
				for rr := max(r-radius, 0); rr <= min(r+radius, a.Rows-1); rr++ {
					for cc := max(c-radius, 0); cc <= min(c+radius, a.Cols-1); cc++ {
						if i := a.Index(b, rr, cc); a.IsValid(i) {
							buf = append(buf, a.Data[i])
						}
					}
				}
				out.store(oi, f(buf))
			}
		}
	}
	return out, nil
}

// FocalSum sums every pixel's neighbourhood of the given radius.
func FocalSum(a *Array, radius int) (*Array, error) {
	dtype := Float64
	if a.DType == Float32 {
		dtype = Float32
	}
	return focal(a, radius, dtype, floats.Sum)
}

// FocalMean averages every pixel's neighbourhood of the given radius.
func FocalMean(a *Array, radius int) (*Array, error) {
	dtype := Float64
	if a.DType == Float32 {
		dtype = Float32
	}
	return focal(a, radius, dtype, func(v []float64) float64 {
		return floats.Sum(v) / float64(len(v))
	})
}
