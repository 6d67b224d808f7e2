// Package models builds the benchmarked networks and dispatches on the
// requested framework.
package models

import (
	"fmt"
	"math/rand"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/data"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
)

var (
	// ErrNotImplemented is returned for recognised but unbuilt combinations.
	ErrNotImplemented = errors.New("models: not implemented")
	// ErrUnknown is returned for framework or architecture names outside the enums.
	ErrUnknown = errors.New("models: unknown name")
)

// Framework names the engine a model is built for.
type Framework string

const (
	Native     Framework = "native"
	Torch      Framework = "torch"
	MXNet      Framework = "mxnet"
	Chainer    Framework = "chainer"
	Caffe2     Framework = "caffe2"
	CNTK       Framework = "cntk"
	TensorFlow Framework = "tensorflow"
	DyNet      Framework = "dynet"
	NNabla     Framework = "nnabla"
	Neon       Framework = "neon"
)

// Frameworks lists every recognised framework.
var Frameworks = []Framework{Native, Torch, MXNet, Chainer, Caffe2, CNTK, TensorFlow, DyNet, NNabla, Neon}

// ParseFramework validates s against Frameworks.
func ParseFramework(s string) (Framework, error) {
	for _, f := range Frameworks {
		if string(f) == s {
			return f, nil
		}
	}
	return "", errors.Wrapf(ErrUnknown, "framework %q", s)
}

// Arch names a network architecture.
type Arch string

const (
	CNN     Arch = "CNN"
	DNN     Arch = "DNN"
	RNN     Arch = "RNN"
	LSTM    Arch = "LSTM"
	BLSTM   Arch = "BLSTM"
	GRU     Arch = "GRU"
	AlexNet Arch = "AlexNet"
	ResNet  Arch = "ResNet"
	VGG16   Arch = "VGG16"
)

// Archs lists every recognised architecture.
var Archs = []Arch{CNN, DNN, RNN, LSTM, BLSTM, GRU, AlexNet, ResNet, VGG16}

// ParseArch validates s against Archs.
func ParseArch(s string) (Arch, error) {
	for _, a := range Archs {
		if string(a) == s {
			return a, nil
		}
	}
	return "", errors.Wrapf(ErrUnknown, "dnn_arch %q", s)
}

// Options carries everything a builder needs besides the architecture.
type Options struct {
	DataType data.DataType
	// ImageShape is (channel, width, height).
	ImageShape    [3]int
	SequenceShape int
	LabelSize     int
	RNNLayers     int

	// CNNChannels and CNNHidden are the conv and dense widths of CNN.
	CNNChannels int
	CNNHidden   int

	// ResNetLayers is the number of bottleneck blocks per stage.
	ResNetLayers []int
	ResNetWidth  int

	// Seed of the weight initializer; 0 seeds from the clock.
	Seed int64
}

// DefaultOptions returns the widths of the reference models.
func DefaultOptions() Options {
	return Options{
		DataType:     data.Image,
		ImageShape:   [3]int{3, 28, 28},
		LabelSize:    3000,
		RNNLayers:    4,
		CNNChannels:  180,
		CNNHidden:    2048,
		ResNetLayers: []int{3, 4, 6, 3},
		ResNetWidth:  64,
	}
}

func (o Options) rng() *rand.Rand {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Builder constructs the network for arch.
type Builder func(arch Arch, opts Options) (*net.Network, error)

var builders = map[Framework]Builder{
	Native: buildNative,
}

// Build dispatches to the builder registered for fw.
func Build(fw Framework, arch Arch, opts Options) (*net.Network, error) {
	builder, ok := builders[fw]
	if !ok {
		if _, err := ParseFramework(string(fw)); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrNotImplemented, "framework %s", fw)
	}
	return builder(arch, opts)
}

func buildNative(arch Arch, opts Options) (*net.Network, error) {
	if opts.DataType != data.Image {
		return nil, errors.Wrapf(ErrNotImplemented, "%s models for %s data", arch, opts.DataType)
	}
	if opts.LabelSize < 1 {
		return nil, errors.Errorf("models: label size %d", opts.LabelSize)
	}
	switch arch {
	case CNN:
		return NewCNN(opts)
	case ResNet:
		return NewResNet(opts)
	}
	if _, err := ParseArch(string(arch)); err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(ErrNotImplemented, "architecture %s", arch)
}

// Version describes the engine that builds and runs native models.
func Version() string {
	parts := []string{runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" {
			parts = append([]string{v}, parts...)
		}
		for _, dep := range info.Deps {
			if strings.HasPrefix(dep.Path, "gonum.org/v1/gonum") {
				parts = append(parts, fmt.Sprintf("gonum %s", dep.Version))
			}
		}
	}
	return strings.Join(parts, " ")
}
