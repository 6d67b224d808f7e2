// Package trainer runs the timed training loop and reports per-iteration
// and total wall-clock timings.
package trainer

import (
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/device"
	"github.com/FlavioCFOliveira/neurobench/internal/loss"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
	"github.com/FlavioCFOliveira/neurobench/internal/opt"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

var (
	// ErrOptimizerNotSet is returned by Run before SetOptimizer succeeded.
	ErrOptimizerNotSet = errors.New("trainer: optimizer not set")
	// ErrInvalidOptions is returned by New for unusable options.
	ErrInvalidOptions = errors.New("trainer: invalid options")
)

// Mode selects train or eval behaviour of the model layers.
type Mode string

const (
	Train Mode = "train"
	Eval  Mode = "eval"
)

// TimeOption selects which phase of a step is timed.
type TimeOption string

const (
	TimeTotal    TimeOption = "total"
	TimeForward  TimeOption = "forward"
	TimeBackward TimeOption = "backward"
)

// DefaultStreamDepth is the number of queued work items per device stream.
const DefaultStreamDepth = 16

// Options configures a Trainer.
type Options struct {
	Mode Mode
	// BenchmarkMode enables per-shape convolution algorithm autotuning.
	BenchmarkMode bool
	// Half runs devices in float16. Ignored on the host.
	Half bool
	// ParallelLoss folds the criterion into the replicated unit.
	ParallelLoss bool
	TimeOptions  TimeOption
	StreamDepth  int
}

// DefaultOptions returns train mode with total step timing.
func DefaultOptions() Options {
	return Options{
		Mode:        Train,
		TimeOptions: TimeTotal,
		StreamDepth: DefaultStreamDepth,
	}
}

// Validate checks the enumerated fields.
func (o Options) Validate() error {
	if o.Mode != Train && o.Mode != Eval {
		return errors.Wrapf(ErrInvalidOptions, "mode %q", o.Mode)
	}
	switch o.TimeOptions {
	case TimeTotal, TimeForward, TimeBackward:
	default:
		return errors.Wrapf(ErrInvalidOptions, "time_options %q", o.TimeOptions)
	}
	return nil
}

// Report holds per-step timings in seconds, in batch order, and the total
// wall-clock time of the run.
type Report struct {
	TimeSeries []float64 `json:"time_series"`
	Total      float64   `json:"total"`
}

// Trainer owns a model, its criterion and optimizer, and the execution
// strategy chosen at construction.
type Trainer struct {
	opts      Options
	ngpu      int
	unit      net.Module
	objective objective
	exec      execution
	optimizer opt.Optimizer
	callbacks []Callback
}

// New prepares model for training on ngpu devices. ngpu 0 runs on the host,
// 1 on a single device and more replicates the model across devices.
func New(model net.Module, criterion loss.Criterion, ngpu int, opts Options) (*Trainer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if ngpu < 0 {
		return nil, errors.Wrapf(ErrInvalidOptions, "ngpu = %d", ngpu)
	}
	if opts.StreamDepth <= 0 {
		opts.StreamDepth = DefaultStreamDepth
	}

	if opts.BenchmarkMode {
		model.SetAutotune(true)
	}

	t := &Trainer{opts: opts, ngpu: ngpu, unit: model}
	if opts.ParallelLoss {
		t.unit = net.NewClassifier(model, criterion)
		t.objective = &fusedObjective{}
	} else {
		t.objective = &criterionObjective{criterion: criterion}
	}

	switch {
	case ngpu == 0:
		t.exec = newHostExecution()
	case ngpu == 1:
		exec, err := newSingleDeviceExecution(t.unit, opts.StreamDepth)
		if err != nil {
			return nil, err
		}
		t.exec = exec
	default:
		exec, dp, err := newReplicatedExecution(t.unit, ngpu, opts.StreamDepth)
		if err != nil {
			return nil, err
		}
		t.exec, t.unit = exec, dp
	}

	if opts.Half {
		if t.exec.Half() {
			t.unit.SetHalf(true)
		} else {
			log.Printf("trainer: half precision ignored execution=%s", t.exec.Name())
		}
	}
	t.unit.SetTraining(opts.Mode == Train)
	return t, nil
}

// SetOptimizer binds a new optimizer of optType to the unit's parameters.
func (t *Trainer) SetOptimizer(optType string, conf opt.Config) error {
	o, err := opt.New(optType, conf, t.unit.Params())
	if err != nil {
		return err
	}
	t.optimizer = o
	return nil
}

// AddCallback registers cb for subsequent runs.
func (t *Trainer) AddCallback(cb Callback) {
	t.callbacks = append(t.callbacks, cb)
}

// Execution names the chosen execution strategy.
func (t *Trainer) Execution() string { return t.exec.Name() }

// Unit returns the module the trainer drives.
func (t *Trainer) Unit() net.Module { return t.unit }

// Run trains on every batch of src and returns the timings. Any failure
// aborts the run; no partial report is returned.
func (t *Trainer) Run(src data.Source) (Report, error) {
	if t.optimizer == nil {
		return Report{}, ErrOptimizerNotSet
	}
	for _, cb := range t.callbacks {
		cb.OnRunBegin(src.Len())
	}

	series := make([]float64, 0, src.Len())
	totalStart := time.Now()
	for step := 0; ; step++ {
		b, err := src.Next()
		if errors.Is(err, data.ErrExhausted) {
			break
		}
		if err != nil {
			return Report{}, errors.Wrapf(err, "batch %d", step)
		}

		elapsed, l, err := t.step(b)
		if err != nil {
			return Report{}, errors.Wrapf(err, "step %d", step)
		}
		series = append(series, elapsed.Seconds())
		if d, ok := src.(data.Describer); ok {
			d.Describe(fmt.Sprintf("%10s :%10.7fs/it", t.opts.TimeOptions, elapsed.Seconds()))
		}
		for _, cb := range t.callbacks {
			cb.OnStepEnd(step, elapsed, l)
		}
	}
	if err := t.exec.Synchronize(); err != nil {
		return Report{}, err
	}

	report := Report{TimeSeries: series, Total: time.Since(totalStart).Seconds()}
	for _, cb := range t.callbacks {
		cb.OnRunEnd(report)
	}
	return report, nil
}

// step queues one iteration and waits for it. It returns the duration of
// the timed phase and the reduced loss.
func (t *Trainer) step(b data.Batch) (time.Duration, float64, error) {
	var start, end *device.Event
	timed := t.opts.TimeOptions
	if timed == TimeTotal {
		start = t.exec.Record()
	}

	x, err := b.X.Cast(tensor.Float32)
	if err != nil {
		return 0, 0, errors.Wrap(err, "inputs")
	}
	target, err := b.T.Cast(tensor.Int64)
	if err != nil {
		return 0, 0, errors.Wrap(err, "targets")
	}
	if t.opts.Half && t.exec.Half() {
		if x, err = x.Cast(tensor.Float16); err != nil {
			return 0, 0, errors.Wrap(err, "inputs")
		}
	}

	var xd, td *tensor.Tensor
	var l float64
	t.exec.Launch(func() error {
		xd = x.To(t.exec.InputDevice())
		td = target.To(t.exec.TargetDevice())
		return nil
	})
	t.exec.Launch(func() error {
		t.optimizer.ZeroGrad()
		return nil
	})

	if timed == TimeForward {
		start = t.exec.Record()
	}
	t.exec.Launch(func() error { return t.objective.Forward(t.unit, xd, td) })
	if timed == TimeForward {
		end = t.exec.Record()
	}
	t.exec.Launch(func() error {
		l = t.objective.Reduce()
		return nil
	})

	if timed == TimeBackward {
		start = t.exec.Record()
	}
	t.exec.Launch(func() error { return t.objective.Backward(t.unit) })
	if timed == TimeBackward {
		end = t.exec.Record()
	}
	t.exec.Launch(func() error {
		t.optimizer.Step()
		return nil
	})
	if timed == TimeTotal {
		end = t.exec.Record()
	}

	if err := t.exec.Synchronize(); err != nil {
		return 0, 0, err
	}
	return start.ElapsedTime(end), l, nil
}

// Close releases the devices.
func (t *Trainer) Close() error {
	return t.exec.Close()
}
