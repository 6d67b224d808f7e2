package trainer

import (
	"github.com/FlavioCFOliveira/neurobench/internal/device"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// execution decides where the unit lives, where batches are copied and how
// step work is queued and timed. It is chosen once per trainer.
type execution interface {
	Name() string

	// InputDevice and TargetDevice are the ordinals batches are moved to.
	InputDevice() int
	TargetDevice() int

	// Half reports whether float16 inputs are supported.
	Half() bool

	Launch(fn func() error)
	Record() *device.Event
	Synchronize() error
	Close() error
}

// hostExecution runs everything synchronously on the calling goroutine and
// times it with the host clock.
type hostExecution struct {
	host *device.Host
}

func newHostExecution() *hostExecution {
	return &hostExecution{host: device.NewHost()}
}

func (e *hostExecution) Name() string           { return "host" }
func (e *hostExecution) InputDevice() int       { return tensor.Host }
func (e *hostExecution) TargetDevice() int      { return tensor.Host }
func (e *hostExecution) Half() bool             { return false }
func (e *hostExecution) Launch(fn func() error) { e.host.Launch(fn) }
func (e *hostExecution) Record() *device.Event  { return e.host.Record() }
func (e *hostExecution) Synchronize() error     { return e.host.Synchronize() }
func (e *hostExecution) Close() error           { return e.host.Close() }

// singleDeviceExecution queues the whole step on one accelerator stream and
// times it with events on that stream.
type singleDeviceExecution struct {
	dev device.Device
}

func newSingleDeviceExecution(unit net.Module, depth int) (*singleDeviceExecution, error) {
	devs, err := device.Open(1, depth)
	if err != nil {
		return nil, err
	}
	if err := net.Place(unit, devs[0].Ordinal()); err != nil {
		devs[0].Close()
		return nil, err
	}
	return &singleDeviceExecution{dev: devs[0]}, nil
}

func (e *singleDeviceExecution) Name() string           { return "single-device" }
func (e *singleDeviceExecution) InputDevice() int       { return e.dev.Ordinal() }
func (e *singleDeviceExecution) TargetDevice() int      { return e.dev.Ordinal() }
func (e *singleDeviceExecution) Half() bool             { return true }
func (e *singleDeviceExecution) Launch(fn func() error) { e.dev.Launch(fn) }
func (e *singleDeviceExecution) Record() *device.Event  { return e.dev.Record() }
func (e *singleDeviceExecution) Synchronize() error     { return e.dev.Synchronize() }
func (e *singleDeviceExecution) Close() error           { return e.dev.Close() }

// replicatedExecution wraps the unit in DataParallel. The step is driven
// from the calling goroutine, which scatters work to the replica streams;
// inputs stay on the host until scattered while targets go to the first
// device. Timing uses events on the first device.
type replicatedExecution struct {
	driver  *device.Host
	devices []device.Device
}

func newReplicatedExecution(unit net.Module, ngpu, depth int) (*replicatedExecution, *net.DataParallel, error) {
	devs, err := device.Open(ngpu, depth)
	if err != nil {
		return nil, nil, err
	}
	dp, err := net.NewDataParallel(unit, devs)
	if err != nil {
		device.CloseAll(devs)
		return nil, nil, err
	}
	return &replicatedExecution{driver: device.NewHost(), devices: devs}, dp, nil
}

func (e *replicatedExecution) Name() string           { return "replicated" }
func (e *replicatedExecution) InputDevice() int       { return tensor.Host }
func (e *replicatedExecution) TargetDevice() int      { return e.devices[0].Ordinal() }
func (e *replicatedExecution) Half() bool             { return true }
func (e *replicatedExecution) Launch(fn func() error) { e.driver.Launch(fn) }
func (e *replicatedExecution) Record() *device.Event  { return e.devices[0].Record() }

func (e *replicatedExecution) Synchronize() error {
	if err := device.SynchronizeAll(e.devices); err != nil {
		return err
	}
	return e.driver.Synchronize()
}

func (e *replicatedExecution) Close() error { return device.CloseAll(e.devices) }
