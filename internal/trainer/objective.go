package trainer

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/loss"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// objective computes the training loss from a unit and drives its backward pass.
type objective interface {
	Forward(unit net.Module, x, t *tensor.Tensor) error
	// Reduce collapses the forward output to the scalar loss.
	Reduce() float64
	Backward(unit net.Module) error
}

// criterionObjective applies the criterion to the unit's output.
type criterionObjective struct {
	criterion loss.Criterion
	loss      float64
}

func (o *criterionObjective) Forward(unit net.Module, x, t *tensor.Tensor) error {
	out, err := unit.Forward(x)
	if err != nil {
		return err
	}
	l, err := o.criterion.Forward(out, t)
	if err != nil {
		return errors.Wrapf(err, "%s", o.criterion.Name())
	}
	o.loss = l
	return nil
}

func (o *criterionObjective) Reduce() float64 { return o.loss }

func (o *criterionObjective) Backward(unit net.Module) error {
	grad, err := o.criterion.Backward()
	if err != nil {
		return err
	}
	_, err = unit.Backward(grad)
	return err
}

// fusedObjective runs a unit that already returns one loss per replica and
// averages them.
type fusedObjective struct {
	losses *tensor.Tensor
}

func (o *fusedObjective) Forward(unit net.Module, x, t *tensor.Tensor) error {
	losses, err := unit.Forward(x, t)
	if err != nil {
		return err
	}
	if losses.Len() == 0 {
		return errors.New("trainer: unit returned no losses")
	}
	o.losses = losses
	return nil
}

func (o *fusedObjective) Reduce() float64 {
	return floats.Sum(o.losses.Data) / float64(o.losses.Len())
}

// Backward seeds every replica loss with the gradient of the mean.
func (o *fusedObjective) Backward(unit net.Module) error {
	grad := o.losses.Like()
	for i := range grad.Data {
		grad.Data[i] = 1 / float64(o.losses.Len())
	}
	_, err := unit.Backward(grad)
	return err
}
