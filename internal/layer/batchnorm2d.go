package layer

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// BatchNorm2D normalizes each channel of [N, C, H, W] input.
// In training mode it uses batch statistics and updates the running
// estimates; in evaluation mode it uses the running estimates.
type BatchNorm2D struct {
	numFeatures int
	eps         float64
	momentum    float64

	gamma *tensor.Param
	beta  *tensor.Param

	runningMean []float64
	runningVar  []float64

	training bool

	// Saved for backward pass
	inputShape []int
	xhat       []float64
	invStd     []float64
}

// NewBatchNorm2D creates a batch normalization layer with gamma=1, beta=0.
func NewBatchNorm2D(numFeatures int, eps, momentum float64) *BatchNorm2D {
	b := &BatchNorm2D{
		numFeatures: numFeatures,
		eps:         eps,
		momentum:    momentum,
		gamma:       tensor.NewParam("gamma", numFeatures),
		beta:        tensor.NewParam("beta", numFeatures),
		runningMean: make([]float64, numFeatures),
		runningVar:  make([]float64, numFeatures),
		training:    true,
	}
	for i := 0; i < numFeatures; i++ {
		b.gamma.Value[i] = 1
		b.runningVar[i] = 1
	}
	return b
}

// SetTraining sets whether the layer is in training mode.
func (b *BatchNorm2D) SetTraining(training bool) {
	b.training = training
}

func (b *BatchNorm2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 || x.Shape[1] != b.numFeatures {
		return nil, errors.Wrapf(tensor.ErrShape, "batchnorm2d: input %v, want [N %d H W]", x.Shape, b.numFeatures)
	}
	n, c := x.Shape[0], x.Shape[1]
	spatial := x.Shape[2] * x.Shape[3]
	count := float64(n * spatial)

	out := x.Like()
	if cap(b.xhat) < len(x.Data) {
		b.xhat = make([]float64, len(x.Data))
	}
	b.xhat = b.xhat[:len(x.Data)]
	if cap(b.invStd) < c {
		b.invStd = make([]float64, c)
	}
	b.invStd = b.invStd[:c]

	for f := 0; f < c; f++ {
		var mean, variance float64
		if b.training {
			sum := 0.0
			for i := 0; i < n; i++ {
				base := (i*c + f) * spatial
				for s := 0; s < spatial; s++ {
					sum += x.Data[base+s]
				}
			}
			mean = sum / count
			sumSq := 0.0
			for i := 0; i < n; i++ {
				base := (i*c + f) * spatial
				for s := 0; s < spatial; s++ {
					d := x.Data[base+s] - mean
					sumSq += d * d
				}
			}
			variance = sumSq / count
			unbiased := variance
			if count > 1 {
				unbiased = sumSq / (count - 1)
			}
			b.runningMean[f] = (1-b.momentum)*b.runningMean[f] + b.momentum*mean
			b.runningVar[f] = (1-b.momentum)*b.runningVar[f] + b.momentum*unbiased
		} else {
			mean = b.runningMean[f]
			variance = b.runningVar[f]
		}

		inv := 1 / math.Sqrt(variance+b.eps)
		b.invStd[f] = inv
		g, bt := b.gamma.Value[f], b.beta.Value[f]
		for i := 0; i < n; i++ {
			base := (i*c + f) * spatial
			for s := 0; s < spatial; s++ {
				xh := (x.Data[base+s] - mean) * inv
				b.xhat[base+s] = xh
				out.Data[base+s] = g*xh + bt
			}
		}
	}
	b.inputShape = append(b.inputShape[:0], x.Shape...)
	return out, nil
}

func (b *BatchNorm2D) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if b.inputShape == nil {
		return nil, ErrNoForward
	}
	if grad.Len() != len(b.xhat) {
		return nil, errors.Wrapf(tensor.ErrShape, "batchnorm2d: grad has %d values, want %d", grad.Len(), len(b.xhat))
	}
	n, c := b.inputShape[0], b.inputShape[1]
	spatial := b.inputShape[2] * b.inputShape[3]
	count := float64(n * spatial)

	gradIn := grad.Like()
	gradIn.Shape = append([]int(nil), b.inputShape...)
	for f := 0; f < c; f++ {
		sumDy, sumDyXh := 0.0, 0.0
		for i := 0; i < n; i++ {
			base := (i*c + f) * spatial
			for s := 0; s < spatial; s++ {
				dy := grad.Data[base+s]
				sumDy += dy
				sumDyXh += dy * b.xhat[base+s]
			}
		}
		b.gamma.Grad[f] += sumDyXh
		b.beta.Grad[f] += sumDy

		scale := b.gamma.Value[f] * b.invStd[f]
		for i := 0; i < n; i++ {
			base := (i*c + f) * spatial
			for s := 0; s < spatial; s++ {
				dy := grad.Data[base+s]
				if b.training {
					gradIn.Data[base+s] = scale / count * (count*dy - sumDy - b.xhat[base+s]*sumDyXh)
				} else {
					gradIn.Data[base+s] = scale * dy
				}
			}
		}
	}
	return gradIn, nil
}

func (b *BatchNorm2D) Params() []*tensor.Param {
	return []*tensor.Param{b.gamma, b.beta}
}

func (b *BatchNorm2D) OutShape(in []int) ([]int, error) {
	if len(in) != 3 || in[0] != b.numFeatures {
		return nil, errors.Wrapf(tensor.ErrShape, "batchnorm2d: input %v, want [%d H W]", in, b.numFeatures)
	}
	return append([]int(nil), in...), nil
}

func (b *BatchNorm2D) Clone() Layer {
	return &BatchNorm2D{
		numFeatures: b.numFeatures,
		eps:         b.eps,
		momentum:    b.momentum,
		gamma:       b.gamma.Clone(),
		beta:        b.beta.Clone(),
		runningMean: append([]float64(nil), b.runningMean...),
		runningVar:  append([]float64(nil), b.runningVar...),
		training:    b.training,
	}
}

func (b *BatchNorm2D) Name() string {
	return fmt.Sprintf("BatchNorm2D(%d)", b.numFeatures)
}

// RunningMean returns the running mean estimate per channel.
func (b *BatchNorm2D) RunningMean() []float64 { return b.runningMean }

// RunningVar returns the running variance estimate per channel.
func (b *BatchNorm2D) RunningVar() []float64 { return b.runningVar }
