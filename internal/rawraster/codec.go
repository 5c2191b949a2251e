package rawraster

import (
	"encoding/binary"
	"math"

	"github.com/specialistvlad/blockcalc/internal/ndarray"
)

var order = binary.LittleEndian

func decode(dtype ndarray.DType, b []byte) float64 {
	switch dtype {
	case ndarray.Bool, ndarray.Uint8:
		return float64(b[0])
	case ndarray.Int16:
		return float64(int16(order.Uint16(b)))
	case ndarray.Uint16:
		return float64(order.Uint16(b))
	case ndarray.Int32:
		return float64(int32(order.Uint32(b)))
	case ndarray.Uint32:
		return float64(order.Uint32(b))
	case ndarray.Float32:
		return float64(math.Float32frombits(order.Uint32(b)))
	case ndarray.Float64:
		return math.Float64frombits(order.Uint64(b))
	}
	return 0
}

// encode stores v, already cast to dtype, into b.
func encode(dtype ndarray.DType, v float64, b []byte) {
	switch dtype {
	case ndarray.Bool, ndarray.Uint8:
		b[0] = uint8(v)
	case ndarray.Int16:
		order.PutUint16(b, uint16(int16(v)))
	case ndarray.Uint16:
		order.PutUint16(b, uint16(v))
	case ndarray.Int32:
		order.PutUint32(b, uint32(int32(v)))
	case ndarray.Uint32:
		order.PutUint32(b, uint32(v))
	case ndarray.Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case ndarray.Float64:
		order.PutUint64(b, math.Float64bits(v))
	}
}
