package storage

import (
	"encoding/csv"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/trainer"
)

// StepLogger is a trainer callback that writes one CSV row per step.
type StepLogger struct {
	trainer.BaseCallback
	Filename string

	file   *os.File
	writer *csv.Writer
}

// NewStepLogger returns a logger writing steps.csv in the run directory.
func (r *Run) NewStepLogger() *StepLogger {
	return &StepLogger{Filename: r.Path(StepsFile)}
}

func (c *StepLogger) OnRunBegin(int) {
	if err := c.open(); err != nil {
		log.Printf("steps csv disabled: %v", err)
	}
}

func (c *StepLogger) open() error {
	file, err := os.OpenFile(c.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "open %s", c.Filename)
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.writer.Write([]string{"step", "seconds", "loss"})
	c.writer.Flush()
	return c.writer.Error()
}

func (c *StepLogger) OnStepEnd(step int, elapsed time.Duration, loss float64) {
	if c.writer == nil {
		return
	}
	record := []string{
		strconv.Itoa(step),
		strconv.FormatFloat(elapsed.Seconds(), 'f', 9, 64),
		strconv.FormatFloat(loss, 'f', 6, 64),
	}
	if err := c.writer.Write(record); err != nil {
		log.Printf("steps csv: write step=%d: %v", step, err)
	}
	c.writer.Flush()
}

func (c *StepLogger) OnRunEnd(trainer.Report) {
	if err := c.Close(); err != nil {
		log.Printf("steps csv: %v", err)
	}
}

// Close flushes and closes the file. It is safe to call more than once.
func (c *StepLogger) Close() error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	err := c.writer.Error()
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	c.file, c.writer = nil, nil
	return err
}
