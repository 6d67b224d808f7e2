// Package layer provides batched neural network layer implementations.
//
// Every layer consumes and produces tensors whose leading dimension is the
// batch. Forward saves whatever Backward needs, so a Backward call always
// refers to the most recent Forward. Gradients accumulate into the layer
// parameters until they are cleared.
package layer

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/FlavioCFOliveira/neurobench/internal/activations"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// Layer is a neural network layer.
type Layer interface {
	Forward(x *tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*tensor.Param

	// OutShape maps a per-sample input shape (without the batch dimension)
	// to the per-sample output shape.
	OutShape(in []int) ([]int, error)

	Clone() Layer
	Name() string
}

// Trainable is implemented by layers whose behaviour differs between
// training and evaluation.
type Trainable interface {
	SetTraining(training bool)
}

// Tunable is implemented by layers with several interchangeable algorithms.
type Tunable interface {
	SetAutotune(enabled bool)
}

// ErrNoForward is returned when Backward is called before Forward.
var ErrNoForward = errors.New("layer: backward called before forward")

// Dense is a fully connected layer.
// Weights are stored row-major as [out, in]; the batched products are
// computed with gonum over views of the parameter slices.
type Dense struct {
	weight  *tensor.Param
	bias    *tensor.Param
	act     activations.Activation
	inSize  int
	outSize int

	input  *tensor.Tensor
	preAct []float64
}

// NewDense creates a new dense layer with Xavier/Glorot initialization.
func NewDense(in, out int, act activations.Activation, rng *rand.Rand) *Dense {
	if act == nil {
		act = activations.Linear{}
	}
	d := &Dense{
		weight:  tensor.NewParam("weight", out*in),
		bias:    tensor.NewParam("bias", out),
		act:     act,
		inSize:  in,
		outSize: out,
	}
	scale := math.Sqrt(2.0 / (float64(in) + float64(out)))
	for i := range d.weight.Value {
		d.weight.Value[i] = rng.Float64()*2*scale - scale
	}
	bound := 1 / math.Sqrt(float64(in))
	for i := range d.bias.Value {
		d.bias.Value[i] = rng.Float64()*2*bound - bound
	}
	return d
}

// Forward computes act(x W^T + b) for a batch x of shape [N, in...].
func (d *Dense) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	n := x.Rows()
	if x.RowSize() != d.inSize {
		return nil, errors.Wrapf(tensor.ErrShape, "dense: input row size %d, want %d", x.RowSize(), d.inSize)
	}
	out := tensor.New(n, d.outSize)
	out.DType = x.DType
	out.Device = x.Device

	X := mat.NewDense(n, d.inSize, x.Data)
	W := mat.NewDense(d.outSize, d.inSize, d.weight.Value)
	Y := mat.NewDense(n, d.outSize, out.Data)
	Y.Mul(X, W.T())

	if cap(d.preAct) < len(out.Data) {
		d.preAct = make([]float64, len(out.Data))
	}
	d.preAct = d.preAct[:len(out.Data)]
	for i := 0; i < n; i++ {
		row := out.Row(i)
		floats.Add(row, d.bias.Value)
		copy(d.preAct[i*d.outSize:], row)
		for o, z := range row {
			row[o] = d.act.Activate(z)
		}
	}
	d.input = x
	return out, nil
}

// Backward accumulates dW = dz^T x and db = sum(dz), and returns dz W.
func (d *Dense) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.input == nil {
		return nil, ErrNoForward
	}
	n := d.input.Rows()
	if grad.Len() != n*d.outSize {
		return nil, errors.Wrapf(tensor.ErrShape, "dense: grad has %d values, want %d", grad.Len(), n*d.outSize)
	}

	dz := make([]float64, len(grad.Data))
	for i, g := range grad.Data {
		dz[i] = g * d.act.Derivative(d.preAct[i])
	}
	DZ := mat.NewDense(n, d.outSize, dz)
	X := mat.NewDense(n, d.inSize, d.input.Data)
	W := mat.NewDense(d.outSize, d.inSize, d.weight.Value)

	var gw mat.Dense
	gw.Mul(DZ.T(), X)
	floats.Add(d.weight.Grad, gw.RawMatrix().Data)
	for i := 0; i < n; i++ {
		floats.Add(d.bias.Grad, dz[i*d.outSize:(i+1)*d.outSize])
	}

	gradIn := d.input.Like()
	GI := mat.NewDense(n, d.inSize, gradIn.Data)
	GI.Mul(DZ, W)
	return gradIn, nil
}

func (d *Dense) Params() []*tensor.Param {
	return []*tensor.Param{d.weight, d.bias}
}

func (d *Dense) OutShape(in []int) ([]int, error) {
	if tensor.Numel(in) != d.inSize {
		return nil, errors.Wrapf(tensor.ErrShape, "dense: input %v has %d features, want %d", in, tensor.Numel(in), d.inSize)
	}
	return []int{d.outSize}, nil
}

func (d *Dense) Clone() Layer {
	return &Dense{
		weight:  d.weight.Clone(),
		bias:    d.bias.Clone(),
		act:     d.act,
		inSize:  d.inSize,
		outSize: d.outSize,
	}
}

func (d *Dense) Name() string { return "Dense" }

// SetWeight sets a single weight at (row, col).
func (d *Dense) SetWeight(row, col int, val float64) {
	d.weight.Value[row*d.inSize+col] = val
}

// SetBias sets a single bias.
func (d *Dense) SetBias(idx int, val float64) {
	d.bias.Value[idx] = val
}

// InSize returns the input size of the layer.
func (d *Dense) InSize() int { return d.inSize }

// OutSize returns the output size of the layer.
func (d *Dense) OutSize() int { return d.outSize }

// Activation applies an element-wise activation function.
type Activation struct {
	act   activations.Activation
	input *tensor.Tensor
}

// NewActivation wraps act as a standalone layer.
func NewActivation(act activations.Activation) *Activation {
	return &Activation{act: act}
}

func (a *Activation) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Like()
	for i, v := range x.Data {
		out.Data[i] = a.act.Activate(v)
	}
	a.input = x
	return out, nil
}

func (a *Activation) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if a.input == nil {
		return nil, ErrNoForward
	}
	out := grad.Like()
	for i, g := range grad.Data {
		out.Data[i] = g * a.act.Derivative(a.input.Data[i])
	}
	return out, nil
}

func (a *Activation) Params() []*tensor.Param { return nil }

func (a *Activation) OutShape(in []int) ([]int, error) {
	return append([]int(nil), in...), nil
}

func (a *Activation) Clone() Layer { return &Activation{act: a.act} }

func (a *Activation) Name() string { return "Activation(" + a.act.Name() + ")" }

// Forward runs x through layers in order.
func Forward(layers []Layer, x *tensor.Tensor) (*tensor.Tensor, error) {
	curr := x
	for _, l := range layers {
		next, err := l.Forward(curr)
		if err != nil {
			return nil, errors.Wrapf(err, "%s forward", l.Name())
		}
		curr = next
	}
	return curr, nil
}

// Backward runs grad through layers in reverse order.
func Backward(layers []Layer, grad *tensor.Tensor) (*tensor.Tensor, error) {
	curr := grad
	for i := len(layers) - 1; i >= 0; i-- {
		next, err := layers[i].Backward(curr)
		if err != nil {
			return nil, errors.Wrapf(err, "%s backward", layers[i].Name())
		}
		curr = next
	}
	return curr, nil
}

// OutShape chains OutShape over layers.
func OutShape(layers []Layer, in []int) ([]int, error) {
	curr := in
	for _, l := range layers {
		next, err := l.OutShape(curr)
		if err != nil {
			return nil, err
		}
		curr = next
	}
	return curr, nil
}

// Params collects the parameters of layers in order.
func Params(layers []Layer) []*tensor.Param {
	var params []*tensor.Param
	for _, l := range layers {
		params = append(params, l.Params()...)
	}
	return params
}

// CloneAll deep-copies layers.
func CloneAll(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for i, l := range layers {
		out[i] = l.Clone()
	}
	return out
}

// SetTraining propagates the training flag to every layer that has one.
func SetTraining(layers []Layer, training bool) {
	for _, l := range layers {
		if t, ok := l.(Trainable); ok {
			t.SetTraining(training)
		}
	}
}

// SetAutotune propagates the autotuning flag to every tunable layer.
func SetAutotune(layers []Layer, enabled bool) {
	for _, l := range layers {
		if t, ok := l.(Tunable); ok {
			t.SetAutotune(enabled)
		}
	}
}
