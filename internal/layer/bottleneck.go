package layer

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/activations"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// BottleneckExpansion is the channel multiplier of the last 1x1 convolution.
const BottleneckExpansion = 4

// Residual computes relu(main(x) + shortcut(x)). An empty shortcut is the
// identity.
type Residual struct {
	main     []Layer
	shortcut []Layer

	sum *tensor.Tensor
}

// NewResidual builds a residual block from explicit paths.
func NewResidual(main, shortcut []Layer) *Residual {
	return &Residual{main: main, shortcut: shortcut}
}

// NewBottleneck builds the 1x1 -> 3x3 -> 1x1 residual block with batch
// normalization. The shortcut becomes a strided 1x1 projection whenever the
// stride or the channel count changes.
func NewBottleneck(inChannels, width, stride int, rng *rand.Rand) *Residual {
	outChannels := width * BottleneckExpansion
	main := []Layer{
		NewConv2D(Conv2DConfig{InChannels: inChannels, OutChannels: width, KernelH: 1, KernelW: 1, NoBias: true}, rng),
		NewBatchNorm2D(width, 1e-5, 0.1),
		NewActivation(activations.ReLU{}),
		NewConv2D(Conv2DConfig{
			InChannels: width, OutChannels: width,
			KernelH: 3, KernelW: 3,
			StrideH: stride, StrideW: stride,
			PadH: 1, PadW: 1,
			NoBias: true,
		}, rng),
		NewBatchNorm2D(width, 1e-5, 0.1),
		NewActivation(activations.ReLU{}),
		NewConv2D(Conv2DConfig{InChannels: width, OutChannels: outChannels, KernelH: 1, KernelW: 1, NoBias: true}, rng),
		NewBatchNorm2D(outChannels, 1e-5, 0.1),
	}
	var shortcut []Layer
	if stride != 1 || inChannels != outChannels {
		shortcut = []Layer{
			NewConv2D(Conv2DConfig{
				InChannels: inChannels, OutChannels: outChannels,
				KernelH: 1, KernelW: 1,
				StrideH: stride, StrideW: stride,
				NoBias: true,
			}, rng),
			NewBatchNorm2D(outChannels, 1e-5, 0.1),
		}
	}
	return NewResidual(main, shortcut)
}

func (r *Residual) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := Forward(r.main, x)
	if err != nil {
		return nil, err
	}
	s := x
	if len(r.shortcut) > 0 {
		if s, err = Forward(r.shortcut, x); err != nil {
			return nil, err
		}
	}
	if h.Len() != s.Len() {
		return nil, errors.Wrapf(tensor.ErrShape, "residual: main %v and shortcut %v differ", h.Shape, s.Shape)
	}
	sum := h.Clone()
	floats.Add(sum.Data, s.Data)
	r.sum = sum

	out := sum.Like()
	relu := activations.ReLU{}
	for i, v := range sum.Data {
		out.Data[i] = relu.Activate(v)
	}
	return out, nil
}

func (r *Residual) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if r.sum == nil {
		return nil, ErrNoForward
	}
	gz := grad.Like()
	gz.Shape = append([]int(nil), r.sum.Shape...)
	relu := activations.ReLU{}
	for i, g := range grad.Data {
		gz.Data[i] = g * relu.Derivative(r.sum.Data[i])
	}

	gMain, err := Backward(r.main, gz)
	if err != nil {
		return nil, err
	}
	gShort := gz
	if len(r.shortcut) > 0 {
		if gShort, err = Backward(r.shortcut, gz); err != nil {
			return nil, err
		}
	}
	floats.Add(gMain.Data, gShort.Data)
	return gMain, nil
}

func (r *Residual) Params() []*tensor.Param {
	return append(Params(r.main), Params(r.shortcut)...)
}

func (r *Residual) OutShape(in []int) ([]int, error) {
	out, err := OutShape(r.main, in)
	if err != nil {
		return nil, err
	}
	short := in
	if len(r.shortcut) > 0 {
		if short, err = OutShape(r.shortcut, in); err != nil {
			return nil, err
		}
	}
	if tensor.Numel(out) != tensor.Numel(short) {
		return nil, errors.Wrapf(tensor.ErrShape, "residual: main %v and shortcut %v differ", out, short)
	}
	return out, nil
}

func (r *Residual) SetTraining(training bool) {
	SetTraining(r.main, training)
	SetTraining(r.shortcut, training)
}

func (r *Residual) SetAutotune(enabled bool) {
	SetAutotune(r.main, enabled)
	SetAutotune(r.shortcut, enabled)
}

// Layers returns the sub-layers of both paths, main path first.
func (r *Residual) Layers() []Layer {
	return append(append([]Layer(nil), r.main...), r.shortcut...)
}

func (r *Residual) Clone() Layer {
	return NewResidual(CloneAll(r.main), CloneAll(r.shortcut))
}

func (r *Residual) Name() string {
	return fmt.Sprintf("Residual(main=%d, shortcut=%d)", len(r.main), len(r.shortcut))
}
