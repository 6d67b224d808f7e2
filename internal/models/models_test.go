package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/layer"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

func smallOptions() Options {
	opts := DefaultOptions()
	opts.LabelSize = 11
	opts.CNNChannels = 4
	opts.CNNHidden = 8
	opts.ResNetLayers = []int{1, 1, 1, 1}
	opts.ResNetWidth = 2
	opts.Seed = 3
	return opts
}

func TestCNNShapes(t *testing.T) {
	n, err := Build(Native, CNN, smallOptions())
	require.NoError(t, err)

	var flatten []int
	shape := n.InShape()
	for _, l := range n.Layers() {
		next, err := l.OutShape(shape)
		require.NoError(t, err)
		if _, ok := l.(*layer.Flatten); ok {
			flatten = next
		}
		shape = next
	}
	// 28 wide: 26 -> 24 -> pool 12 -> 10 -> 8 -> pool 4 -> 3 -> 3
	require.Equal(t, []int{4 * 3}, flatten)
	require.Equal(t, []int{11}, shape)

	x := tensor.New(2, 3, 28, 28)
	out, err := n.Forward(x)
	require.NoError(t, err)
	require.Equal(t, []int{2, 11}, out.Shape)
}

func TestCNNDefaultFlattenWidth(t *testing.T) {
	opts := DefaultOptions()
	opts.CNNHidden = 4
	opts.LabelSize = 2
	opts.Seed = 1
	n, err := NewCNN(opts)
	require.NoError(t, err)

	dense := n.Layers()[9].(*layer.Dense)
	require.Equal(t, 540, dense.InSize())
}

func TestResNetShapes(t *testing.T) {
	opts := smallOptions()
	n, err := Build(Native, ResNet, opts)
	require.NoError(t, err)

	blocks := 0
	for _, l := range n.Layers() {
		if _, ok := l.(*layer.Residual); ok {
			blocks++
		}
	}
	require.Equal(t, 4, blocks)

	// last stage width 2<<3 = 16, expanded by 4
	last := n.Layers()[len(n.Layers())-1].(*layer.Dense)
	require.Equal(t, 64, last.InSize())

	out, err := n.Forward(tensor.New(2, 3, 28, 28))
	require.NoError(t, err)
	require.Equal(t, []int{2, 11}, out.Shape)
}

func TestResNetRejectsBadStages(t *testing.T) {
	opts := smallOptions()
	opts.ResNetLayers = []int{1, 1}
	_, err := NewResNet(opts)
	require.Error(t, err)

	opts.ResNetLayers = []int{1, 0, 1, 1}
	_, err = NewResNet(opts)
	require.Error(t, err)
}

func TestBuildDispatch(t *testing.T) {
	tests := []struct {
		name string
		fw   Framework
		arch Arch
		data data.DataType
		err  error
	}{
		{"torch", Torch, CNN, data.Image, ErrNotImplemented},
		{"tensorflow", TensorFlow, ResNet, data.Image, ErrNotImplemented},
		{"unknown framework", Framework("theano"), CNN, data.Image, ErrUnknown},
		{"lstm", Native, LSTM, data.Image, ErrNotImplemented},
		{"vgg", Native, VGG16, data.Image, ErrNotImplemented},
		{"unknown arch", Native, Arch("MLP"), data.Image, ErrUnknown},
		{"sequence data", Native, CNN, data.Sequence, ErrNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := smallOptions()
			opts.DataType = tt.data
			_, err := Build(tt.fw, tt.arch, opts)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParse(t *testing.T) {
	for _, f := range Frameworks {
		got, err := ParseFramework(string(f))
		require.NoError(t, err)
		require.Equal(t, f, got)
	}
	for _, a := range Archs {
		got, err := ParseArch(string(a))
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
	_, err := ParseFramework("Torch")
	require.ErrorIs(t, err, ErrUnknown)
	_, err = ParseArch("cnn")
	require.ErrorIs(t, err, ErrUnknown)
}

func TestVersion(t *testing.T) {
	require.NotEmpty(t, Version())
}
