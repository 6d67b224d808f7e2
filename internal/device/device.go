// Package device models where tensors live and where work runs.
//
// The host runs work synchronously on the calling goroutine. An accelerator
// owns a stream: a FIFO of work items drained by a dedicated goroutine, so
// Launch returns immediately and ordering is only guaranteed within one
// stream. The first failure on a device is sticky: later work on it is
// skipped and every subsequent Synchronize reports the same error.
package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// ErrClosed is returned for work launched on a closed device.
var ErrClosed = errors.New("device: closed")

// Device executes work items in submission order.
type Device interface {
	// Ordinal is tensor.Host for the host or the accelerator index.
	Ordinal() int

	// Launch enqueues fn. Its error, if any, becomes the device's sticky error.
	Launch(fn func() error)

	// Record enqueues an event that is marked with the time it is reached.
	Record() *Event

	// Synchronize blocks until all launched work has run and returns the
	// sticky error.
	Synchronize() error

	// Err returns the sticky error without waiting.
	Err() error

	Close() error
	String() string
}

// Event marks a point in a device's work queue.
type Event struct {
	done chan struct{}
	at   time.Time
}

func newEvent() *Event {
	return &Event{done: make(chan struct{})}
}

func (e *Event) fire() {
	e.at = time.Now()
	close(e.done)
}

// Synchronize blocks until the event has been reached.
func (e *Event) Synchronize() {
	<-e.done
}

// Query reports whether the event has been reached.
func (e *Event) Query() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// ElapsedTime waits for both events and returns the time between them.
func (e *Event) ElapsedTime(end *Event) time.Duration {
	e.Synchronize()
	end.Synchronize()
	return end.at.Sub(e.at)
}

// stickyErr holds the first error reported on a device.
type stickyErr struct {
	mu  sync.Mutex
	err error
}

func (s *stickyErr) set(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *stickyErr) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Host runs work immediately on the caller's goroutine.
type Host struct {
	sticky stickyErr
}

// NewHost returns the host device.
func NewHost() *Host {
	return &Host{}
}

func (h *Host) Ordinal() int { return tensor.Host }

func (h *Host) Launch(fn func() error) {
	if h.sticky.get() != nil {
		return
	}
	if err := fn(); err != nil {
		h.sticky.set(err)
	}
}

func (h *Host) Record() *Event {
	e := newEvent()
	e.fire()
	return e
}

func (h *Host) Synchronize() error { return h.sticky.get() }

func (h *Host) Err() error { return h.sticky.get() }

func (h *Host) Close() error { return nil }

func (h *Host) String() string { return "host" }

// Accelerator is a device backed by a worker goroutine draining a stream.
type Accelerator struct {
	ordinal int
	work    chan func()
	exited  chan struct{}

	mu     sync.Mutex // guards closed and sends on work
	closed bool

	sticky stickyErr
}

// NewAccelerator starts the stream of device ordinal. depth is the number of
// work items that can be queued before Launch blocks.
func NewAccelerator(ordinal, depth int) *Accelerator {
	if depth < 1 {
		depth = 1
	}
	a := &Accelerator{
		ordinal: ordinal,
		work:    make(chan func(), depth),
		exited:  make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *Accelerator) loop() {
	defer close(a.exited)
	for fn := range a.work {
		fn()
	}
}

func (a *Accelerator) enqueue(fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.work <- fn
	return true
}

func (a *Accelerator) Ordinal() int { return a.ordinal }

func (a *Accelerator) Launch(fn func() error) {
	ok := a.enqueue(func() {
		if a.sticky.get() != nil {
			return
		}
		if err := a.run(fn); err != nil {
			a.sticky.set(errors.Wrapf(err, "%s", a))
		}
	})
	if !ok {
		a.sticky.set(errors.Wrapf(ErrClosed, "%s", a))
	}
}

// run executes fn, turning a panic into an error so the stream survives.
func (a *Accelerator) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic in stream: %v", r)
		}
	}()
	return fn()
}

func (a *Accelerator) Record() *Event {
	e := newEvent()
	if !a.enqueue(e.fire) {
		e.fire()
	}
	return e
}

func (a *Accelerator) Synchronize() error {
	e := a.Record()
	e.Synchronize()
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if err := a.sticky.get(); err != nil {
		return err
	}
	if closed {
		return errors.Wrapf(ErrClosed, "%s", a)
	}
	return nil
}

func (a *Accelerator) Err() error { return a.sticky.get() }

// Close drains the stream and stops its goroutine. It is safe to call twice.
func (a *Accelerator) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.work)
	}
	a.mu.Unlock()
	<-a.exited
	return nil
}

func (a *Accelerator) String() string { return fmt.Sprintf("accel:%d", a.ordinal) }

// Open starts n accelerators with ordinals 0..n-1.
func Open(n, depth int) ([]Device, error) {
	if n < 1 {
		return nil, errors.Errorf("device: cannot open %d accelerators", n)
	}
	devs := make([]Device, n)
	for i := range devs {
		devs[i] = NewAccelerator(i, depth)
	}
	return devs, nil
}

// SynchronizeAll waits on every device concurrently and returns the first
// error in device order.
func SynchronizeAll(devs []Device) error {
	errs := make([]error, len(devs))
	var wg sync.WaitGroup
	for i, d := range devs {
		wg.Add(1)
		go func(i int, d Device) {
			defer wg.Done()
			errs[i] = d.Synchronize()
		}(i, d)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// CloseAll closes every device.
func CloseAll(devs []Device) error {
	var first error
	for _, d := range devs {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
