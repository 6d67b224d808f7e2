package layer

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// Flatten reshapes input to 2D (batch_size, flattened_features).
// This is useful for connecting convolutional layers to dense layers.
type Flatten struct {
	// Original input shape for backward pass
	inputShape []int
}

// NewFlatten creates a new flatten layer.
func NewFlatten() *Flatten {
	return &Flatten{}
}

func (f *Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	f.inputShape = append(f.inputShape[:0], x.Shape...)
	return x.Reshape(x.Rows(), x.RowSize())
}

// Backward reshapes the gradient back to the input shape.
func (f *Flatten) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if f.inputShape == nil {
		return nil, ErrNoForward
	}
	return grad.Reshape(f.inputShape...)
}

func (f *Flatten) Params() []*tensor.Param { return nil }

func (f *Flatten) OutShape(in []int) ([]int, error) {
	return []int{tensor.Numel(in)}, nil
}

func (f *Flatten) Clone() Layer { return NewFlatten() }

func (f *Flatten) Name() string { return "Flatten" }

// GlobalAvgPool2D averages every channel over its spatial extent,
// mapping [N, C, H, W] to [N, C, 1, 1].
type GlobalAvgPool2D struct {
	inputShape []int
}

// NewGlobalAvgPool2D creates a global average pooling layer.
func NewGlobalAvgPool2D() *GlobalAvgPool2D {
	return &GlobalAvgPool2D{}
}

func (g *GlobalAvgPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, errors.Wrapf(tensor.ErrShape, "global avg pool: want 4-d input, got %v", x.Shape)
	}
	n, c := x.Shape[0], x.Shape[1]
	spatial := x.Shape[2] * x.Shape[3]
	out := tensor.New(n, c, 1, 1)
	out.DType = x.DType
	out.Device = x.Device
	for i := 0; i < n*c; i++ {
		sum := 0.0
		for _, v := range x.Data[i*spatial : (i+1)*spatial] {
			sum += v
		}
		out.Data[i] = sum / float64(spatial)
	}
	g.inputShape = append(g.inputShape[:0], x.Shape...)
	return out, nil
}

func (g *GlobalAvgPool2D) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if g.inputShape == nil {
		return nil, ErrNoForward
	}
	gradIn := tensor.New(g.inputShape...)
	gradIn.DType = grad.DType
	gradIn.Device = grad.Device
	spatial := g.inputShape[2] * g.inputShape[3]
	scale := 1 / float64(spatial)
	for i, gv := range grad.Data {
		for s := 0; s < spatial; s++ {
			gradIn.Data[i*spatial+s] = gv * scale
		}
	}
	return gradIn, nil
}

func (g *GlobalAvgPool2D) Params() []*tensor.Param { return nil }

func (g *GlobalAvgPool2D) OutShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.Wrapf(tensor.ErrShape, "global avg pool: want [C H W], got %v", in)
	}
	return []int{in[0], 1, 1}, nil
}

func (g *GlobalAvgPool2D) Clone() Layer { return NewGlobalAvgPool2D() }

func (g *GlobalAvgPool2D) Name() string { return "GlobalAvgPool2D" }
