package trainer

import (
	"log"
	"time"
)

// Callback observes a run. Methods are called on the goroutine that calls
// Run, after the step has been synchronized.
type Callback interface {
	OnRunBegin(steps int)
	OnStepEnd(step int, elapsed time.Duration, loss float64)
	OnRunEnd(report Report)
}

// BaseCallback implements Callback with no-ops for embedding.
type BaseCallback struct{}

func (BaseCallback) OnRunBegin(int)                       {}
func (BaseCallback) OnStepEnd(int, time.Duration, float64) {}
func (BaseCallback) OnRunEnd(Report)                       {}

// Logger logs throughput every Interval steps.
type Logger struct {
	BaseCallback
	BatchSize int
	Interval  int

	window window
}

// NewLogger returns a Logger that reports every interval steps.
func NewLogger(batchSize, interval int) *Logger {
	if interval < 1 {
		interval = 1
	}
	return &Logger{BatchSize: batchSize, Interval: interval}
}

func (l *Logger) OnRunBegin(steps int) {
	l.window = window{}
	log.Printf("run begin steps=%d batch_size=%d", steps, l.BatchSize)
}

func (l *Logger) OnStepEnd(step int, elapsed time.Duration, loss float64) {
	l.window.record(l.BatchSize, elapsed, loss)
	if (step+1)%l.Interval != 0 {
		return
	}
	snap := l.window.snapshot()
	log.Printf("step=%d samples_per_sec=%.1f step_ms=%.3f loss=%.4f",
		step+1, snap.samplesPerSec, snap.avgStepMS, snap.lastLoss)
}

func (l *Logger) OnRunEnd(report Report) {
	log.Printf("run end steps=%d total_s=%.3f", len(report.TimeSeries), report.Total)
}

// window accumulates step timings between log lines.
type window struct {
	samples  int
	elapsed  time.Duration
	steps    int
	lastLoss float64
}

type windowSnapshot struct {
	samplesPerSec float64
	avgStepMS     float64
	lastLoss      float64
}

func (w *window) record(batchSize int, elapsed time.Duration, loss float64) {
	w.samples += batchSize
	w.elapsed += elapsed
	w.steps++
	w.lastLoss = loss
}

// snapshot returns the aggregate and resets the window.
func (w *window) snapshot() windowSnapshot {
	var snap windowSnapshot
	if w.elapsed > 0 {
		snap.samplesPerSec = float64(w.samples) / w.elapsed.Seconds()
	}
	if w.steps > 0 {
		snap.avgStepMS = w.elapsed.Seconds() * 1000 / float64(w.steps)
	}
	snap.lastLoss = w.lastLoss
	*w = window{}
	return snap
}
