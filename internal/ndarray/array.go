// Package ndarray holds the three dimensional [bands, rows, cols] arrays a
// snippet computes with, together with their validity masks.
package ndarray

import (
	"errors"
	"fmt"
	"math"
)

// Array is a band-major block of values. Valid marks which elements hold
// data; a nil Valid means every element is valid.
type Array struct {
	DType DType
	Bands int
	Rows  int
	Cols  int
	Data  []float64
	Valid []bool
}

// New allocates a zeroed, fully valid array.
func New(dtype DType, bands, rows, cols int) *Array {
	return &Array{
		DType: dtype,
		Bands: bands,
		Rows:  rows,
		Cols:  cols,
		Data:  make([]float64, bands*rows*cols),
	}
}

// Full allocates an array with every element set to v.
func Full(dtype DType, bands, rows, cols int, v float64) *Array {
	a := New(dtype, bands, rows, cols)
	v = dtype.Cast(v)
	for i := range a.Data {
		a.Data[i] = v
	}
	return a
}

// Len is the number of elements in the array.
func (a *Array) Len() int { return len(a.Data) }

// Plane is the number of elements in one band.
func (a *Array) Plane() int { return a.Rows * a.Cols }

// Index returns the flat offset of (band, row, col).
func (a *Array) Index(band, row, col int) int {
	return (band*a.Rows+row)*a.Cols + col
}

// At returns the value at (band, row, col).
func (a *Array) At(band, row, col int) float64 { return a.Data[a.Index(band, row, col)] }

// IsValid reports whether the element at flat offset i holds data.
func (a *Array) IsValid(i int) bool { return a.Valid == nil || a.Valid[i] }

// SetInvalid marks the element at flat offset i as missing.
func (a *Array) SetInvalid(i int) {
	if a.Valid == nil {
		a.Valid = make([]bool, len(a.Data))
		for j := range a.Valid {
			a.Valid[j] = true
		}
	}
	a.Valid[i] = false
}

// SameSpatial reports whether b covers the same rows and columns as a.
func (a *Array) SameSpatial(b *Array) bool { return a.Rows == b.Rows && a.Cols == b.Cols }

// String describes the array shape, e.g. "float32[3x10x20]".
func (a *Array) String() string {
	return fmt.Sprintf("%s[%dx%dx%d]", a.DType, a.Bands, a.Rows, a.Cols)
}

// Clone returns a deep copy of a.
func (a *Array) Clone() *Array {
	c := *a
	c.Data = append([]float64(nil), a.Data...)
	if a.Valid != nil {
		c.Valid = append([]bool(nil), a.Valid...)
	}
	return &c
}

// AsType returns a copy of a converted to dtype.
func (a *Array) AsType(dtype DType) *Array {
	c := a.Clone()
	c.DType = dtype
	for i, v := range c.Data {
		c.Data[i] = dtype.Cast(v)
	}
	return c
}

// MaskArray returns a fully valid bool array that is 1 where a holds data.
func (a *Array) MaskArray() *Array {
	m := New(Bool, a.Bands, a.Rows, a.Cols)
	for i := range m.Data {
		if a.IsValid(i) {
			m.Data[i] = 1
		}
	}
	return m
}

// SelectBands returns a new array holding the given 0-based bands in order.
func (a *Array) SelectBands(bands []int) (*Array, error) {
	out := New(a.DType, len(bands), a.Rows, a.Cols)
	plane := a.Plane()
	for j, b := range bands {
		if b < 0 || b >= a.Bands {
			return nil, fmt.Errorf("band index %d out of range [0, %d)", b, a.Bands)
		}
		copy(out.Data[j*plane:(j+1)*plane], a.Data[b*plane:(b+1)*plane])
		if a.Valid != nil {
			if out.Valid == nil {
				out.Valid = make([]bool, out.Len())
				for i := range out.Valid {
					out.Valid[i] = true
				}
			}
			copy(out.Valid[j*plane:(j+1)*plane], a.Valid[b*plane:(b+1)*plane])
		}
	}
	return out, nil
}

// Crop returns the rows [row, row+rows) and columns [col, col+cols) of a.
func (a *Array) Crop(row, col, rows, cols int) (*Array, error) {
	if row < 0 || col < 0 || row+rows > a.Rows || col+cols > a.Cols {
		return nil, fmt.Errorf("crop %dx%d at (%d,%d) exceeds %dx%d", rows, cols, row, col, a.Rows, a.Cols)
	}
	out := New(a.DType, a.Bands, rows, cols)
	if a.Valid != nil {
		out.Valid = make([]bool, out.Len())
	}
	for b := 0; b < a.Bands; b++ {
		for r := 0; r < rows; r++ {
			src := a.Index(b, row+r, col)
			dst := out.Index(b, r, 0)
			copy(out.Data[dst:dst+cols], a.Data[src:src+cols])
			if a.Valid != nil {
				copy(out.Valid[dst:dst+cols], a.Valid[src:src+cols])
			}
		}
	}
	return out, nil
}

// Paste copies src into a with its top-left corner at (row, col). Both
// arrays must have the same band count.
func (a *Array) Paste(src *Array, row, col int) error {
	if src.Bands != a.Bands {
		return fmt.Errorf("paste of %d bands into %d bands", src.Bands, a.Bands)
	}
	if row < 0 || col < 0 || row+src.Rows > a.Rows || col+src.Cols > a.Cols {
		return fmt.Errorf("paste %dx%d at (%d,%d) exceeds %dx%d", src.Rows, src.Cols, row, col, a.Rows, a.Cols)
	}
	for b := 0; b < a.Bands; b++ {
		for r := 0; r < src.Rows; r++ {
			s := src.Index(b, r, 0)
			d := a.Index(b, row+r, col)
			copy(a.Data[d:d+src.Cols], src.Data[s:s+src.Cols])
			if a.Valid != nil || src.Valid != nil {
				for c := 0; c < src.Cols; c++ {
					if src.IsValid(s + c) {
						if a.Valid != nil {
							a.Valid[d+c] = true
						}
					} else {
						a.SetInvalid(d + c)
					}
				}
			}
		}
	}
	return nil
}

// HasInvalid reports whether any element of a is missing.
func (a *Array) HasInvalid() bool {
	for _, ok := range a.Valid {
		if !ok {
			return true
		}
	}
	return false
}

// FillInvalid returns a fully valid copy of a where missing elements carry v.
func (a *Array) FillInvalid(v float64) *Array {
	c := a.Clone()
	v = c.DType.Cast(v)
	for i := range c.Data {
		if !a.IsValid(i) {
			c.Data[i] = v
		}
	}
	c.Valid = nil
	return c
}

// ApplyNoData marks every element equal to noData, and every NaN, missing.
func (a *Array) ApplyNoData(noData *float64) {
	for i, v := range a.Data {
		if math.IsNaN(v) || (noData != nil && v == *noData) {
			a.SetInvalid(i)
		}
	}
}

// Stack concatenates arrays along the band axis.
func Stack(arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, errors.New("stack needs at least one array")
	}
	first := arrays[0]
	bands := 0
	dtype := first.DType
	masked := false
	for _, a := range arrays {
		if !a.SameSpatial(first) {
			return nil, fmt.Errorf("cannot stack %s with %s", a, first)
		}
		bands += a.Bands
		dtype = Promote(dtype, a.DType)
		masked = masked || a.Valid != nil
	}

	out := New(dtype, bands, first.Rows, first.Cols)
	if masked {
		out.Valid = make([]bool, out.Len())
	}
	off := 0
	for _, a := range arrays {
		for i, v := range a.Data {
			out.Data[off+i] = dtype.Cast(v)
			if masked {
				out.Valid[off+i] = a.IsValid(i)
			}
		}
		off += a.Len()
	}
	return out, nil
}
