package data

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

func imageConfig() Config {
	return Config{
		DataType:      Image,
		ImageShape:    [3]int{3, 28, 28},
		SequenceShape: 28,
		NIteration:    5,
		BatchSize:     10,
		LabelSize:     3000,
		TargetType:    Index,
		Seed:          1,
	}
}

func TestIteratorYieldsExactlyNIteration(t *testing.T) {
	it, err := New(imageConfig())
	require.NoError(t, err)
	require.Equal(t, 5, it.Len())

	for i := 0; i < 5; i++ {
		b, err := it.Next()
		require.NoError(t, err)
		require.Equal(t, []int{10, 3, 28, 28}, b.X.Shape)
		require.Equal(t, []int{10}, b.T.Shape)
		require.Equal(t, tensor.Int64, b.T.DType)
		for _, v := range b.X.Data {
			require.True(t, v >= 0 && v < 1, "input %v outside [0, 1)", v)
		}
		for _, v := range b.T.Data {
			require.True(t, v >= 0 && v < 3000, "label %v outside [0, 3000)", v)
		}
		require.Equal(t, 5, it.Len(), "Len must not depend on progress")
	}

	_, err = it.Next()
	require.ErrorIs(t, err, ErrExhausted)
	_, err = it.Next()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestIteratorOneHotTargets(t *testing.T) {
	cfg := imageConfig()
	cfg.TargetType = OneHot
	cfg.LabelSize = 7
	it, err := New(cfg)
	require.NoError(t, err)

	b, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, []int{10, 7}, b.T.Shape)
	for i := 0; i < 10; i++ {
		sum := 0.0
		for _, v := range b.T.Row(i) {
			require.True(t, v == 0 || v == 1)
			sum += v
		}
		require.Equal(t, 1.0, sum, "row %d must have exactly one hot entry", i)
	}
}

func TestIteratorZeroIterations(t *testing.T) {
	cfg := imageConfig()
	cfg.NIteration = 0
	it, err := New(cfg)
	require.NoError(t, err)
	require.Equal(t, 0, it.Len())
	_, err = it.Next()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestIteratorSeedIsDeterministic(t *testing.T) {
	a, err := New(imageConfig())
	require.NoError(t, err)
	b, err := New(imageConfig())
	require.NoError(t, err)

	ba, _ := a.Next()
	bb, _ := b.Next()
	require.Equal(t, ba.X.Data, bb.X.Data)
	require.Equal(t, ba.T.Data, bb.T.Data)
}

func TestIteratorSequenceNotImplemented(t *testing.T) {
	cfg := imageConfig()
	cfg.DataType = Sequence
	it, err := New(cfg)
	require.NoError(t, err)
	_, err = it.Next()
	require.ErrorIs(t, err, ErrNotImplemented)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown data type", func(c *Config) { c.DataType = "audio" }},
		{"unknown target type", func(c *Config) { c.TargetType = "soft" }},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }},
		{"zero labels", func(c *Config) { c.LabelSize = 0 }},
		{"negative iterations", func(c *Config) { c.NIteration = -1 }},
		{"zero channel", func(c *Config) { c.ImageShape[0] = 0 }},
		{"zero sequence features", func(c *Config) { c.DataType = Sequence; c.SequenceShape = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := imageConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
