package ndarray

import (
	"fmt"
	"math"
	"strings"
)

// DType is the element type an array is declared to hold. Values are kept
// as float64 in memory; the DType decides rounding, clamping and the size
// of the element once it is written to a sink.
type DType int

const (
	Invalid DType = iota
	Bool
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
)

// WorkingSize is the number of bytes one element occupies while a tile is
// held in memory: a float64 value and its validity flag.
const WorkingSize = 9

var dtypeNames = map[DType]string{
	Bool:    "bool",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Float64: "float64",
}

func (d DType) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ParseDType parses the lower-case name of a DType, e.g. "float32".
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range dtypeNames {
		if name == s {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("unknown element type %q", s)
}

// Size returns the on-disk size of one element in bytes.
func (d DType) Size() int {
	switch d {
	case Bool, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// IsFloat reports whether d is a floating point type.
func (d DType) IsFloat() bool { return d == Float32 || d == Float64 }

// IsInteger reports whether d is an integer type (bool excluded).
func (d DType) IsInteger() bool { return d >= Uint8 && d <= Uint32 }

func (d DType) signed() bool { return d == Int16 || d == Int32 }

// Range returns the representable range of an integer type.
func (d DType) Range() (lo, hi float64) {
	switch d {
	case Bool:
		return 0, 1
	case Uint8:
		return 0, math.MaxUint8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Uint32:
		return 0, math.MaxUint32
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	}
	return math.Inf(-1), math.Inf(1)
}

// Cast converts v to the value d can represent: integers truncate toward
// zero and saturate, float32 rounds to single precision, bool is v != 0.
// NaN becomes 0 for every non-float type.
func (d DType) Cast(v float64) float64 {
	switch d {
	case Bool:
		if v != 0 && !math.IsNaN(v) {
			return 1
		}
		return 0
	case Float32:
		return float64(float32(v))
	case Float64:
		return v
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := d.Range()
	v = math.Trunc(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Holds reports whether d represents v exactly. NaN is held by the float
// types only.
func (d DType) Holds(v float64) bool {
	if math.IsNaN(v) {
		return d.IsFloat()
	}
	return d.Cast(v) == v
}

// DefaultNoData returns the no-data value of an output of type d that has
// none of its own: NaN for floats, the minimum of signed integers and the
// maximum of unsigned ones. Bool has no spare value.
func (d DType) DefaultNoData() (float64, bool) {
	switch {
	case d.IsFloat():
		return math.NaN(), true
	case d.signed():
		lo, _ := d.Range()
		return lo, true
	case d.IsInteger():
		_, hi := d.Range()
		return hi, true
	}
	return 0, false
}

// Promote returns the smallest type able to hold values of both a and b.
func Promote(a, b DType) DType {
	switch {
	case a == b:
		return a
	case a == Bool:
		return b
	case b == Bool:
		return a
	case a.IsFloat() || b.IsFloat():
		if a == Float64 || b == Float64 {
			return Float64
		}
		other := a
		if a == Float32 {
			other = b
		}
		if other.Size() <= 2 {
			return Float32
		}
		return Float64
	case a.signed() == b.signed():
		if a.Size() >= b.Size() {
			return a
		}
		return b
	}

	s, u := a, b
	if b.signed() {
		s, u = b, a
	}
	if s.Size() > u.Size() {
		return s
	}
	switch u {
	case Uint8:
		return Int16
	case Uint16:
		return Int32
	}
	return Float64
}

// DivisionType returns the type of a true division between a and b.
func DivisionType(a, b DType) DType {
	p := Promote(a, b)
	switch {
	case p == Float32:
		return Float32
	case p == Float64 || p.Size() >= 4:
		return Float64
	}
	return Float32
}

// ScalarType returns the type of mixing an array of type a with a scalar
// of value v. Integral scalars never widen the array type.
func ScalarType(a DType, v float64) DType {
	integral := v == math.Trunc(v) && !math.IsInf(v, 0)
	switch {
	case a.IsFloat():
		return a
	case integral && a != Bool:
		return a
	case integral:
		return Int32
	}
	return Float64
}
