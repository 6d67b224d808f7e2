package models

import (
	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/activations"
	"github.com/FlavioCFOliveira/neurobench/internal/layer"
	"github.com/FlavioCFOliveira/neurobench/internal/net"
	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// NewCNN builds the benchmark CNN. The first convolution spans the full
// width dimension, so the remaining stack runs over 1 x N feature maps:
//
//	conv(W,3) conv(1,3) pool(1,2) conv(1,3) conv(1,3) pool(1,2) conv(1,2) conv(1,1)
//	dense(hidden) dense(hidden) dense(labels)
//
// Every convolution and hidden dense layer is followed by ReLU.
func NewCNN(opts Options) (*net.Network, error) {
	channel, xdim := opts.ImageShape[0], opts.ImageShape[1]
	ch, hidden := opts.CNNChannels, opts.CNNHidden
	if ch < 1 || hidden < 1 {
		return nil, errors.Errorf("models: cnn widths %d/%d", ch, hidden)
	}
	rng := opts.rng()
	relu := activations.ReLU{}

	conv := func(in, kh, kw int) layer.Layer {
		return layer.NewConv2D(layer.Conv2DConfig{
			InChannels:  in,
			OutChannels: ch,
			KernelH:     kh,
			KernelW:     kw,
			Activation:  relu,
		}, rng)
	}
	pool := func() layer.Layer {
		return layer.NewMaxPool2D(1, 2, 2, 2, 0, 0, true)
	}

	features := []layer.Layer{
		conv(channel, xdim, 3),
		conv(ch, 1, 3),
		pool(),
		conv(ch, 1, 3),
		conv(ch, 1, 3),
		pool(),
		conv(ch, 1, 2),
		conv(ch, 1, 1),
		layer.NewFlatten(),
	}
	inShape := opts.ImageShape[:]
	flat, err := layer.OutShape(features, inShape)
	if err != nil {
		return nil, err
	}

	head := []layer.Layer{
		layer.NewDense(tensor.Numel(flat), hidden, relu, rng),
		layer.NewDense(hidden, hidden, relu, rng),
		layer.NewDense(hidden, opts.LabelSize, nil, rng),
	}
	return net.New(inShape, append(features, head...)...)
}
