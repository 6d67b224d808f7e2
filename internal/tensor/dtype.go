package tensor

import (
	"math"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the numeric representation of tensor values.
type DType int

const (
	Float32 DType = iota
	Float16
	Int64
	Float64
)

// ErrCast is returned when values cannot be represented in the target dtype.
var ErrCast = errors.New("tensor: invalid cast")

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	}
	return "unknown"
}

// RoundHalf rounds v to the nearest IEEE 754 half precision value.
func RoundHalf(v float64) float64 {
	return float64(float16.Fromfloat32(float32(v)).Float32())
}

// RoundHalfSlice rounds every element of xs to half precision in place.
func RoundHalfSlice(xs []float64) {
	for i, v := range xs {
		xs[i] = RoundHalf(v)
	}
}

// Cast returns a copy of t converted to dtype d.
// Casting to Int64 fails if any value is not integral or not finite.
func (t *Tensor) Cast(d DType) (*Tensor, error) {
	out := t.Clone()
	out.DType = d
	switch d {
	case Float64:
	case Float32:
		for i, v := range out.Data {
			out.Data[i] = float64(float32(v))
		}
	case Float16:
		RoundHalfSlice(out.Data)
	case Int64:
		for i, v := range out.Data {
			if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
				return nil, errors.Wrapf(ErrCast, "value %v at index %d is not an integer", v, i)
			}
		}
	default:
		return nil, errors.Wrapf(ErrCast, "unknown dtype %d", int(d))
	}
	return out, nil
}
