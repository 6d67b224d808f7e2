package net

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/loss"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// Classifier fuses a model with its criterion so that a replicated unit
// computes its own loss. Forward takes (x, t) and returns a one-element
// tensor holding the loss.
type Classifier struct {
	model     Module
	criterion loss.Criterion
}

// NewClassifier wraps model and criterion.
func NewClassifier(model Module, criterion loss.Criterion) *Classifier {
	return &Classifier{model: model, criterion: criterion}
}

func (c *Classifier) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, errors.Wrapf(ErrInputs, "classifier takes inputs and targets, got %d tensors", len(inputs))
	}
	out, err := c.model.Forward(inputs[0])
	if err != nil {
		return nil, err
	}
	l, err := c.criterion.Forward(out, inputs[1])
	if err != nil {
		return nil, errors.Wrapf(err, "%s", c.criterion.Name())
	}
	res := tensor.New(1)
	res.Data[0] = l
	res.Device = out.Device
	return res, nil
}

// Backward scales the criterion gradient by grad[0] and runs it through the model.
func (c *Classifier) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if grad.Len() != 1 {
		return nil, errors.Wrapf(tensor.ErrShape, "classifier: loss grad has %d values, want 1", grad.Len())
	}
	g, err := c.criterion.Backward()
	if err != nil {
		return nil, err
	}
	if scale := grad.Data[0]; scale != 1 {
		for i := range g.Data {
			g.Data[i] *= scale
		}
	}
	return c.model.Backward(g)
}

func (c *Classifier) Params() []*tensor.Param { return c.model.Params() }

func (c *Classifier) SetTraining(training bool) { c.model.SetTraining(training) }

func (c *Classifier) SetAutotune(enabled bool) { c.model.SetAutotune(enabled) }

func (c *Classifier) SetHalf(enabled bool) { c.model.SetHalf(enabled) }

func (c *Classifier) To(device int) {
	if p, ok := c.model.(Placeable); ok {
		p.To(device)
	}
}

func (c *Classifier) Device() int {
	if p, ok := c.model.(Placeable); ok {
		return p.Device()
	}
	return tensor.Host
}

func (c *Classifier) Clone() Module {
	return NewClassifier(c.model.Clone(), c.criterion.Clone())
}

// Model returns the wrapped model.
func (c *Classifier) Model() Module { return c.model }
