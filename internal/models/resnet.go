package models

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/activations"
	"github.com/FlavioCFOliveira/neurobench/internal/layer"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
)

// NewResNet builds a bottleneck ResNet. With the default options this is
// ResNet-50: a strided 7x7 stem, four stages of [3 4 6 3] blocks with base
// widths 64..512, global average pooling and a linear classifier.
func NewResNet(opts Options) (*net.Network, error) {
	if len(opts.ResNetLayers) != 4 {
		return nil, errors.Errorf("models: resnet needs 4 stage depths, got %v", opts.ResNetLayers)
	}
	width := opts.ResNetWidth
	if width < 1 {
		return nil, errors.Errorf("models: resnet width %d", width)
	}
	rng := opts.rng()

	layers := []layer.Layer{
		layer.NewConv2D(layer.Conv2DConfig{
			InChannels:  opts.ImageShape[0],
			OutChannels: width,
			KernelH:     7,
			KernelW:     7,
			StrideH:     2,
			StrideW:     2,
			PadH:        3,
			PadW:        3,
			NoBias:      true,
		}, rng),
		layer.NewBatchNorm2D(width, 1e-5, 0.1),
		layer.NewActivation(activations.ReLU{}),
		layer.NewMaxPool2D(3, 3, 2, 2, 1, 1, false),
	}

	inChannels := width
	for stage, blocks := range opts.ResNetLayers {
		if blocks < 1 {
			return nil, errors.Errorf("models: resnet stage %d has %d blocks", stage, blocks)
		}
		w := width << stage
		stride := 2
		if stage == 0 {
			stride = 1
		}
		for b := 0; b < blocks; b++ {
			layers = append(layers, layer.NewBottleneck(inChannels, w, stride, rng))
			inChannels = w * layer.BottleneckExpansion
			stride = 1
		}
	}

	layers = append(layers,
		layer.NewGlobalAvgPool2D(),
		layer.NewFlatten(),
		layer.NewDense(inChannels, opts.LabelSize, nil, rng),
	)
	return net.New(opts.ImageShape[:], layers...)
}
