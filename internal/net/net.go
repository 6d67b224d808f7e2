// Package net provides the trainable units driven by the trainer: sequential
// networks, networks fused with their criterion, and data-parallel replicas.
package net

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/layer"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

var (
	// ErrDevice is returned when an input does not live on the module's device.
	ErrDevice = errors.New("net: tensor on wrong device")
	// ErrInputs is returned when a module receives the wrong number of inputs.
	ErrInputs = errors.New("net: wrong number of inputs")
)

// Module is a unit that can be run forward and backward.
// Models take one input and return logits; fused units take inputs and
// targets and return one loss value per replica.
type Module interface {
	Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error)
	Backward(grad *tensor.Tensor) (*tensor.Tensor, error)
	Params() []*tensor.Param

	SetTraining(training bool)
	SetAutotune(enabled bool)
	SetHalf(enabled bool)

	Clone() Module
}

// Placeable is implemented by modules that can be moved to a device.
type Placeable interface {
	To(device int)
	Device() int
}

// Place moves m to device when it supports placement.
func Place(m Module, device int) error {
	p, ok := m.(Placeable)
	if !ok {
		return errors.Errorf("net: %T cannot be placed on a device", m)
	}
	p.To(device)
	return nil
}

// Network is a sequential stack of layers over per-sample input shape inShape.
type Network struct {
	layers  []layer.Layer
	inShape []int
	device  int
	half    bool
}

// New creates a network and checks that the layer shapes line up.
func New(inShape []int, layers ...layer.Layer) (*Network, error) {
	if _, err := layer.OutShape(layers, inShape); err != nil {
		return nil, errors.Wrap(err, "net: layers do not fit the input shape")
	}
	return &Network{
		layers:  layers,
		inShape: append([]int(nil), inShape...),
		device:  tensor.Host,
	}, nil
}

// Forward runs x through every layer. In half precision the parameters,
// the input and every intermediate activation are rounded to float16.
func (n *Network) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Wrapf(ErrInputs, "network takes 1 input, got %d", len(inputs))
	}
	x := inputs[0]
	if x.Device != n.device {
		return nil, errors.Wrapf(ErrDevice, "input on device %d, network on %d", x.Device, n.device)
	}
	if n.half {
		for _, p := range n.Params() {
			tensor.RoundHalfSlice(p.Value)
		}
		if x.DType != tensor.Float16 {
			var err error
			if x, err = x.Cast(tensor.Float16); err != nil {
				return nil, err
			}
		}
	}

	curr := x
	for _, l := range n.layers {
		next, err := l.Forward(curr)
		if err != nil {
			return nil, errors.Wrapf(err, "%s forward", l.Name())
		}
		if n.half {
			tensor.RoundHalfSlice(next.Data)
			next.DType = tensor.Float16
		}
		curr = next
	}
	return curr, nil
}

// Backward propagates grad through every layer in reverse order.
func (n *Network) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	return layer.Backward(n.layers, grad)
}

func (n *Network) Params() []*tensor.Param { return layer.Params(n.layers) }

func (n *Network) SetTraining(training bool) { layer.SetTraining(n.layers, training) }

func (n *Network) SetAutotune(enabled bool) { layer.SetAutotune(n.layers, enabled) }

// SetHalf switches float16 arithmetic on or off. Enabling it rounds the
// parameters immediately.
func (n *Network) SetHalf(enabled bool) {
	n.half = enabled
	if enabled {
		for _, p := range n.Params() {
			tensor.RoundHalfSlice(p.Value)
		}
	}
}

// Half reports whether the network computes in float16.
func (n *Network) Half() bool { return n.half }

func (n *Network) To(device int) { n.device = device }

func (n *Network) Device() int { return n.device }

func (n *Network) Clone() Module {
	return &Network{
		layers:  layer.CloneAll(n.layers),
		inShape: append([]int(nil), n.inShape...),
		device:  n.device,
		half:    n.half,
	}
}

// Layers returns the network layers.
func (n *Network) Layers() []layer.Layer { return n.layers }

// InShape returns the per-sample input shape.
func (n *Network) InShape() []int { return n.inShape }

// NumParams returns the number of scalar parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.Params() {
		total += len(p.Value)
	}
	return total
}

// Summary writes a table of layers, output shapes and parameter counts.
func (n *Network) Summary(w io.Writer) error {
	rule := strings.Repeat("_", 65)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "%-30s %-20s %-10s\n", "Layer (type)", "Output Shape", "Param #")
	fmt.Fprintln(w, strings.Repeat("=", 65))

	shape := n.inShape
	for i, l := range n.layers {
		next, err := l.OutShape(shape)
		if err != nil {
			return err
		}
		shape = next
		count := 0
		for _, p := range l.Params() {
			count += len(p.Value)
		}
		fmt.Fprintf(w, "%-30s %-20s %-10d\n", fmt.Sprintf("%s_%d", l.Name(), i), fmt.Sprint(shape), count)
	}
	fmt.Fprintln(w, strings.Repeat("=", 65))
	fmt.Fprintf(w, "Total params: %d\n", n.NumParams())
	fmt.Fprintln(w, rule)
	return nil
}
