// Package tensor provides the dense n-dimensional arrays that flow between
// the data iterator, the layers and the trainer.
package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// Host is the device ordinal of tensors that live in host memory.
const Host = -1

// Tensor is a dense row-major array.
// Values are always stored as float64; DType records the numeric
// representation the values have been rounded to.
type Tensor struct {
	Shape  []int
	Data   []float64
	DType  DType
	Device int
}

// ErrShape is returned when tensor shapes do not line up.
var ErrShape = errors.New("tensor: shape mismatch")

// New allocates a zeroed Float32 host tensor of the given shape.
func New(shape ...int) *Tensor {
	return &Tensor{
		Shape:  append([]int(nil), shape...),
		Data:   make([]float64, Numel(shape)),
		DType:  Float32,
		Device: Host,
	}
}

// FromData wraps data in a host tensor. The slice is not copied.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if n := Numel(shape); n != len(data) {
		return nil, errors.Wrapf(ErrShape, "data has %d values, shape %v needs %d", len(data), shape, n)
	}
	return &Tensor{
		Shape:  append([]int(nil), shape...),
		Data:   data,
		DType:  Float32,
		Device: Host,
	}, nil
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	return t.Shape[i]
}

// Rows returns the size of the leading (batch) dimension.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return t.Shape[0]
}

// RowSize returns the number of elements per entry of the leading dimension.
func (t *Tensor) RowSize() int {
	if len(t.Shape) == 0 {
		return 1
	}
	return Numel(t.Shape[1:])
}

// Row returns a view of the i-th entry of the leading dimension.
func (t *Tensor) Row(i int) []float64 {
	n := t.RowSize()
	return t.Data[i*n : (i+1)*n]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape:  append([]int(nil), t.Shape...),
		Data:   append([]float64(nil), t.Data...),
		DType:  t.DType,
		Device: t.Device,
	}
}

// Like allocates a zeroed tensor with the same shape, dtype and device.
func (t *Tensor) Like() *Tensor {
	out := New(t.Shape...)
	out.DType = t.DType
	out.Device = t.Device
	return out
}

// Reshape returns a view over the same data with a new shape.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	if Numel(shape) != len(t.Data) {
		return nil, errors.Wrapf(ErrShape, "cannot reshape %v into %v", t.Shape, shape)
	}
	return &Tensor{
		Shape:  append([]int(nil), shape...),
		Data:   t.Data,
		DType:  t.DType,
		Device: t.Device,
	}, nil
}

// To returns a copy of t resident on the given device.
func (t *Tensor) To(device int) *Tensor {
	if t.Device == device {
		return t
	}
	out := t.Clone()
	out.Device = device
	return out
}

// Mean returns the arithmetic mean of all values.
func (t *Tensor) Mean() float64 {
	if len(t.Data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range t.Data {
		sum += v
	}
	return sum / float64(len(t.Data))
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, device=%d)", t.Shape, t.DType, t.Device)
}

// Split scatters t along the leading dimension into at most n contiguous
// chunks of nearly equal size. Earlier chunks receive the remainder.
func (t *Tensor) Split(n int) []*Tensor {
	rows := t.Rows()
	if n > rows {
		n = rows
	}
	if n <= 1 {
		return []*Tensor{t}
	}
	rowSize := t.RowSize()
	base, extra := rows/n, rows%n
	chunks := make([]*Tensor, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < extra {
			size++
		}
		shape := append([]int{size}, t.Shape[1:]...)
		chunks = append(chunks, &Tensor{
			Shape:  shape,
			Data:   t.Data[start*rowSize : (start+size)*rowSize],
			DType:  t.DType,
			Device: t.Device,
		})
		start += size
	}
	return chunks
}

// Concat gathers tensors along the leading dimension onto device.
func Concat(parts []*Tensor, device int) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, errors.Wrap(ErrShape, "concat of zero tensors")
	}
	rows := 0
	inner := parts[0].Shape[1:]
	for _, p := range parts {
		if len(p.Shape) != len(parts[0].Shape) || Numel(p.Shape[1:]) != Numel(inner) {
			return nil, errors.Wrapf(ErrShape, "concat %v with %v", parts[0].Shape, p.Shape)
		}
		rows += p.Shape[0]
	}
	out := New(append([]int{rows}, inner...)...)
	out.DType = parts[0].DType
	out.Device = device
	offset := 0
	for _, p := range parts {
		copy(out.Data[offset:], p.Data)
		offset += len(p.Data)
	}
	return out, nil
}
