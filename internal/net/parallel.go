package net

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/device"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// DataParallel replicates a module across devices.
//
// Each Forward copies the master parameters into the replicas, scatters
// every input along the batch dimension, runs the replicas on their own
// device streams and gathers the outputs on the first device. Backward
// scatters the output gradient the same way and sums the replica gradients
// into the master parameters. The master itself serves as the first
// replica.
type DataParallel struct {
	master   Module
	replicas []Module
	devices  []device.Device

	// rows per replica of the most recent Forward output
	outRows []int
}

// NewDataParallel places m on devices[0] and a clone on every other device.
func NewDataParallel(m Module, devices []device.Device) (*DataParallel, error) {
	if len(devices) == 0 {
		return nil, errors.New("net: data parallel needs at least one device")
	}
	replicas := make([]Module, len(devices))
	for i, d := range devices {
		r := m
		if i > 0 {
			r = m.Clone()
		}
		if err := Place(r, d.Ordinal()); err != nil {
			return nil, err
		}
		replicas[i] = r
	}
	return &DataParallel{master: m, replicas: replicas, devices: devices}, nil
}

// Forward gathers replica outputs on the first device. When inputs have
// fewer rows than there are devices, only the leading replicas run.
func (d *DataParallel) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(inputs) == 0 {
		return nil, errors.Wrap(ErrInputs, "data parallel needs at least one input")
	}
	n := len(d.replicas)
	if rows := inputs[0].Rows(); rows < n {
		n = rows
	}
	scattered := make([][]*tensor.Tensor, len(inputs))
	for i, x := range inputs {
		if x.Rows() != inputs[0].Rows() {
			return nil, errors.Wrapf(tensor.ErrShape, "input %d has %d rows, input 0 has %d", i, x.Rows(), inputs[0].Rows())
		}
		scattered[i] = x.Split(n)
	}

	masterParams := d.master.Params()
	for r := 1; r < n; r++ {
		broadcast(masterParams, d.replicas[r].Params())
	}

	outs := make([]*tensor.Tensor, n)
	for r := 0; r < n; r++ {
		r := r
		dev := d.devices[r]
		dev.Launch(func() error {
			chunk := make([]*tensor.Tensor, len(inputs))
			for i := range inputs {
				chunk[i] = scattered[i][r].To(dev.Ordinal())
			}
			out, err := d.replicas[r].Forward(chunk...)
			if err != nil {
				return err
			}
			outs[r] = out
			return nil
		})
	}
	if err := device.SynchronizeAll(d.devices[:n]); err != nil {
		return nil, err
	}

	d.outRows = make([]int, n)
	for r, out := range outs {
		d.outRows[r] = out.Rows()
	}
	return tensor.Concat(outs, d.devices[0].Ordinal())
}

// Backward returns the input gradient gathered on the first device.
func (d *DataParallel) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if d.outRows == nil {
		return nil, errors.New("net: data parallel backward called before forward")
	}
	chunks, err := splitRows(grad, d.outRows)
	if err != nil {
		return nil, err
	}

	n := len(d.outRows)
	gradIns := make([]*tensor.Tensor, n)
	for r := 0; r < n; r++ {
		r := r
		dev := d.devices[r]
		dev.Launch(func() error {
			if r > 0 {
				tensor.ZeroGrads(d.replicas[r].Params())
			}
			g, err := d.replicas[r].Backward(chunks[r].To(dev.Ordinal()))
			if err != nil {
				return err
			}
			gradIns[r] = g
			return nil
		})
	}
	if err := device.SynchronizeAll(d.devices[:n]); err != nil {
		return nil, err
	}

	masterParams := d.master.Params()
	for r := 1; r < n; r++ {
		for i, p := range d.replicas[r].Params() {
			floats.Add(masterParams[i].Grad, p.Grad)
		}
	}
	return tensor.Concat(gradIns, d.devices[0].Ordinal())
}

func broadcast(src, dst []*tensor.Param) {
	for i, p := range dst {
		copy(p.Value, src[i].Value)
	}
}

func splitRows(t *tensor.Tensor, rows []int) ([]*tensor.Tensor, error) {
	total := 0
	for _, r := range rows {
		total += r
	}
	if t.Rows() != total {
		return nil, errors.Wrapf(tensor.ErrShape, "grad has %d rows, forward produced %d", t.Rows(), total)
	}
	rowSize := t.RowSize()
	chunks := make([]*tensor.Tensor, len(rows))
	start := 0
	for i, r := range rows {
		shape := []int{r}
		if len(t.Shape) > 1 {
			shape = append(shape, t.Shape[1:]...)
		}
		chunks[i] = &tensor.Tensor{
			Shape:  shape,
			Data:   t.Data[start*rowSize : (start+r)*rowSize],
			DType:  t.DType,
			Device: t.Device,
		}
		start += r
	}
	return chunks, nil
}

// Params returns the master parameters.
func (d *DataParallel) Params() []*tensor.Param { return d.master.Params() }

func (d *DataParallel) SetTraining(training bool) {
	for _, r := range d.replicas {
		r.SetTraining(training)
	}
}

func (d *DataParallel) SetAutotune(enabled bool) {
	for _, r := range d.replicas {
		r.SetAutotune(enabled)
	}
}

func (d *DataParallel) SetHalf(enabled bool) {
	for _, r := range d.replicas {
		r.SetHalf(enabled)
	}
}

// Clone replicates a copy of the master over the same devices.
func (d *DataParallel) Clone() Module {
	master := d.master.Clone()
	replicas := make([]Module, len(d.replicas))
	replicas[0] = master
	for i := 1; i < len(replicas); i++ {
		r := master.Clone()
		r.(Placeable).To(d.devices[i].Ordinal())
		replicas[i] = r
	}
	return &DataParallel{master: master, replicas: replicas, devices: d.devices}
}
