// Package loss provides training criteria over batched logits.
package loss

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// ErrTarget is returned when targets do not match the logits.
var ErrTarget = errors.New("loss: invalid target")

// Criterion is a loss function over a batch.
// Backward returns the gradient with respect to the logits of the most
// recent Forward call.
type Criterion interface {
	Forward(logits, target *tensor.Tensor) (float64, error)
	Backward() (*tensor.Tensor, error)
	Clone() Criterion
	Name() string
}

// CrossEntropy is softmax cross-entropy averaged over the batch.
// Targets are either class indices of shape [N] or per-class distributions
// of shape [N, K], such as one-hot rows.
type CrossEntropy struct {
	// Saved for backward pass
	logits  *tensor.Tensor
	probs   []float64
	indices []int
	soft    []float64
}

// NewCrossEntropy returns a cross-entropy criterion.
func NewCrossEntropy() *CrossEntropy {
	return &CrossEntropy{}
}

// Forward computes mean_i(-sum_k t_ik * log softmax(x_i)_k).
func (c *CrossEntropy) Forward(logits, target *tensor.Tensor) (float64, error) {
	if len(logits.Shape) != 2 {
		return 0, errors.Wrapf(tensor.ErrShape, "cross entropy: logits %v, want [N K]", logits.Shape)
	}
	n, k := logits.Shape[0], logits.Shape[1]
	if n == 0 {
		return 0, errors.Wrap(tensor.ErrShape, "cross entropy: empty batch")
	}

	c.indices, c.soft = nil, nil
	switch {
	case len(target.Shape) == 1 && target.Shape[0] == n:
		c.indices = make([]int, n)
		for i, v := range target.Data {
			if v != math.Trunc(v) || v < 0 || int(v) >= k {
				return 0, errors.Wrapf(ErrTarget, "class %v at row %d outside [0, %d)", v, i, k)
			}
			c.indices[i] = int(v)
		}
	case len(target.Shape) == 2 && target.Shape[0] == n && target.Shape[1] == k:
		c.soft = target.Data
	default:
		return 0, errors.Wrapf(ErrTarget, "target shape %v does not match logits %v", target.Shape, logits.Shape)
	}

	if cap(c.probs) < len(logits.Data) {
		c.probs = make([]float64, len(logits.Data))
	}
	c.probs = c.probs[:len(logits.Data)]

	total := 0.0
	for i := 0; i < n; i++ {
		row := logits.Row(i)
		lse := floats.LogSumExp(row)
		p := c.probs[i*k : (i+1)*k]
		for j, z := range row {
			p[j] = math.Exp(z - lse)
		}
		if c.indices != nil {
			total += lse - row[c.indices[i]]
			continue
		}
		t := c.soft[i*k : (i+1)*k]
		for j, z := range row {
			if t[j] != 0 {
				total -= t[j] * (z - lse)
			}
		}
	}
	c.logits = logits
	return total / float64(n), nil
}

// Backward returns (softmax(x) - t) / N.
func (c *CrossEntropy) Backward() (*tensor.Tensor, error) {
	if c.logits == nil {
		return nil, errors.New("loss: backward called before forward")
	}
	n, k := c.logits.Shape[0], c.logits.Shape[1]
	grad := c.logits.Like()
	copy(grad.Data, c.probs)
	scale := 1 / float64(n)
	for i := 0; i < n; i++ {
		row := grad.Data[i*k : (i+1)*k]
		if c.indices != nil {
			row[c.indices[i]]--
		} else {
			floats.Sub(row, c.soft[i*k:(i+1)*k])
		}
		floats.Scale(scale, row)
	}
	return grad, nil
}

func (c *CrossEntropy) Clone() Criterion { return NewCrossEntropy() }

func (c *CrossEntropy) Name() string { return "CrossEntropy" }
