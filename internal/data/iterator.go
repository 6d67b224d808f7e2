// Package data generates the synthetic batches fed to the benchmark.
package data

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

var (
	// ErrExhausted signals the normal end of an iterator.
	ErrExhausted = errors.New("data: iterator exhausted")
	// ErrNotImplemented is returned for data types without a generator.
	ErrNotImplemented = errors.New("data: not implemented")
	// ErrInvalidConfig is returned by New for unusable configurations.
	ErrInvalidConfig = errors.New("data: invalid config")
)

// DataType selects the layout of generated inputs.
type DataType string

const (
	Image    DataType = "image"
	Sequence DataType = "sequence"
)

// TargetType selects how labels are encoded.
type TargetType string

const (
	OneHot TargetType = "one-hot"
	Index  TargetType = "index"
)

// Config describes the batches an Iterator yields.
type Config struct {
	DataType DataType
	// ImageShape is (channel, width, height).
	ImageShape [3]int
	// SequenceShape is the feature size of sequence data.
	SequenceShape int
	NIteration    int
	BatchSize     int
	LabelSize     int
	TargetType    TargetType
	// Seed of the generator; 0 seeds from the clock.
	Seed int64
}

// Validate reports the first unusable field.
func (c Config) Validate() error {
	switch c.DataType {
	case Image:
		for i, d := range c.ImageShape {
			if d < 1 {
				return errors.Wrapf(ErrInvalidConfig, "image_shape[%d] = %d", i, d)
			}
		}
	case Sequence:
		if c.SequenceShape < 1 {
			return errors.Wrapf(ErrInvalidConfig, "sequence_shape = %d", c.SequenceShape)
		}
	default:
		return errors.Wrapf(ErrInvalidConfig, "data_type %q", c.DataType)
	}
	if c.TargetType != OneHot && c.TargetType != Index {
		return errors.Wrapf(ErrInvalidConfig, "target_type %q", c.TargetType)
	}
	if c.BatchSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "batch_size = %d", c.BatchSize)
	}
	if c.LabelSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "label_size = %d", c.LabelSize)
	}
	if c.NIteration < 0 {
		return errors.Wrapf(ErrInvalidConfig, "niteration = %d", c.NIteration)
	}
	return nil
}

// Batch is one (inputs, targets) pair.
type Batch struct {
	X *tensor.Tensor
	T *tensor.Tensor
}

// Source yields batches until it returns ErrExhausted.
type Source interface {
	Next() (Batch, error)
	Len() int
}

// Describer is implemented by sources that can show a status line.
type Describer interface {
	Describe(desc string)
}

// Iterator yields exactly NIteration random batches. It is not restartable.
type Iterator struct {
	cfg Config
	rng *rand.Rand
	i   int
}

// New validates cfg and returns an iterator over it.
func New(cfg Config) (*Iterator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Iterator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}, nil
}

// Next returns the next batch. Image inputs have shape
// (batch, channel, width, height) with values in [0, 1); targets are class
// indices of shape (batch,) or one-hot rows of shape (batch, label_size).
func (it *Iterator) Next() (Batch, error) {
	if it.i == it.cfg.NIteration {
		return Batch{}, ErrExhausted
	}
	it.i++

	if it.cfg.DataType != Image {
		return Batch{}, errors.Wrapf(ErrNotImplemented, "%s batches", it.cfg.DataType)
	}

	b, shape := it.cfg.BatchSize, it.cfg.ImageShape
	x := tensor.New(b, shape[0], shape[1], shape[2])
	x.DType = tensor.Float64
	for i := range x.Data {
		x.Data[i] = it.rng.Float64()
	}

	var t *tensor.Tensor
	switch it.cfg.TargetType {
	case OneHot:
		t = tensor.New(b, it.cfg.LabelSize)
		t.DType = tensor.Float64
		for i := 0; i < b; i++ {
			t.Data[i*it.cfg.LabelSize+it.rng.Intn(it.cfg.LabelSize)] = 1
		}
	default:
		t = tensor.New(b)
		t.DType = tensor.Int64
		for i := range t.Data {
			t.Data[i] = float64(it.rng.Intn(it.cfg.LabelSize))
		}
	}
	return Batch{X: x, T: t}, nil
}

// Len returns the total number of batches, independent of progress.
func (it *Iterator) Len() int { return it.cfg.NIteration }

// Config returns the iterator configuration.
func (it *Iterator) Config() Config { return it.cfg }
