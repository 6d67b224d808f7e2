package trainer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/FlavioCFOliveira/neurobench/internal/loss"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
	"github.com/FlavioCFOliveira/neurobench/internal/opt"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

const (
	forwardDelay  = 20 * time.Millisecond
	backwardDelay = 80 * time.Millisecond
)

// sleepyModule takes a fixed time per pass and emits zero logits.
type sleepyModule struct {
	param  *tensor.Param
	device int
}

func newSleepyModule() *sleepyModule {
	return &sleepyModule{param: tensor.NewParam("w", 1), device: tensor.Host}
}

func (m *sleepyModule) Forward(inputs ...*tensor.Tensor) (*tensor.Tensor, error) {
	time.Sleep(forwardDelay)
	out := tensor.New(inputs[0].Rows(), labels)
	out.Device = m.device
	return out, nil
}

func (m *sleepyModule) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	time.Sleep(backwardDelay)
	return grad, nil
}

func (m *sleepyModule) Params() []*tensor.Param { return []*tensor.Param{m.param} }
func (m *sleepyModule) SetTraining(bool)        {}
func (m *sleepyModule) SetAutotune(bool)        {}
func (m *sleepyModule) SetHalf(bool)            {}
func (m *sleepyModule) To(device int)           { m.device = device }
func (m *sleepyModule) Device() int             { return m.device }

func (m *sleepyModule) Clone() net.Module {
	c := newSleepyModule()
	c.device = m.device
	return c
}

func TestRunTimesSelectedPhase(t *testing.T) {
	// lower bound is the phase's own delay; upper bound excludes the other phase
	windows := map[TimeOption][2]time.Duration{
		TimeForward:  {forwardDelay, forwardDelay + backwardDelay},
		TimeBackward: {backwardDelay, backwardDelay + forwardDelay},
		TimeTotal:    {forwardDelay + backwardDelay, 2 * (forwardDelay + backwardDelay)},
	}
	const steps = 3

	for _, ngpu := range []int{0, 1, 2} {
		for to, window := range windows {
			opts := DefaultOptions()
			opts.TimeOptions = to
			tr, err := New(newSleepyModule(), loss.NewCrossEntropy(), ngpu, opts)
			require.NoError(t, err)
			require.NoError(t, tr.SetOptimizer("SGD", opt.Config{LR: 0.01}))

			r, err := tr.Run(source(t, steps, 4))
			require.NoError(t, err, "%s ngpu=%d", to, ngpu)
			require.NoError(t, tr.Close())

			require.Len(t, r.TimeSeries, steps)
			for i, v := range r.TimeSeries {
				require.GreaterOrEqual(t, v, window[0].Seconds(), "%s ngpu=%d step %d", to, ngpu, i)
				require.Less(t, v, window[1].Seconds(), "%s ngpu=%d step %d", to, ngpu, i)
			}
			require.GreaterOrEqual(t, r.Total, floats.Sum(r.TimeSeries), "%s ngpu=%d", to, ngpu)
		}
	}
}
