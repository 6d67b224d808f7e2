package layer

import (
	"fmt"
	"math"

	"github.com/pkg/errors"

	"github.com/FlavioCFOliveira/neurobench/internal/tensor"
)

// MaxPool2D implements 2D max pooling.
// Downsamples by taking the maximum over sliding windows.
// Stores argmax indices for correct gradient flow during backward pass.
type MaxPool2D struct {
	kernelH, kernelW int
	strideH, strideW int
	padH, padW       int
	ceilMode         bool

	inputShape []int
	argmax     []int // flat input index of the max for each output position
}

// NewMaxPool2D creates a new 2D max pooling layer.
// A non-positive stride defaults to the kernel size. Padding is implicit
// negative infinity. With ceilMode the output size is rounded up, as long
// as the last window starts inside the (left-padded) input.
func NewMaxPool2D(kernelH, kernelW, strideH, strideW, padH, padW int, ceilMode bool) *MaxPool2D {
	if strideH <= 0 {
		strideH = kernelH
	}
	if strideW <= 0 {
		strideW = kernelW
	}
	return &MaxPool2D{
		kernelH:  kernelH,
		kernelW:  kernelW,
		strideH:  strideH,
		strideW:  strideW,
		padH:     padH,
		padW:     padW,
		ceilMode: ceilMode,
	}
}

func poolOutputSize(in, kernel, stride, pad int, ceilMode bool) int {
	span := in + 2*pad - kernel
	if span < 0 {
		return 0
	}
	var out int
	if ceilMode {
		out = int(math.Ceil(float64(span)/float64(stride))) + 1
		if (out-1)*stride >= in+pad {
			out--
		}
	} else {
		out = span/stride + 1
	}
	return out
}

// computeOutputSize calculates the output spatial dimensions
func (m *MaxPool2D) computeOutputSize(h, w int) (int, int) {
	return poolOutputSize(h, m.kernelH, m.strideH, m.padH, m.ceilMode),
		poolOutputSize(w, m.kernelW, m.strideW, m.padW, m.ceilMode)
}

func (m *MaxPool2D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, errors.Wrapf(tensor.ErrShape, "maxpool2d: want 4-d input, got %v", x.Shape)
	}
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	outH, outW := m.computeOutputSize(h, w)
	if outH <= 0 || outW <= 0 {
		return nil, errors.Wrapf(tensor.ErrShape, "maxpool2d: window %dx%d does not fit input %dx%d", m.kernelH, m.kernelW, h, w)
	}

	out := tensor.New(n, c, outH, outW)
	out.DType = x.DType
	out.Device = x.Device
	if cap(m.argmax) < len(out.Data) {
		m.argmax = make([]int, len(out.Data))
	}
	m.argmax = m.argmax[:len(out.Data)]

	for plane := 0; plane < n*c; plane++ {
		inBase := plane * h * w
		outBase := plane * outH * outW
		for oh := 0; oh < outH; oh++ {
			for ow := 0; ow < outW; ow++ {
				best := math.Inf(-1)
				bestIdx := -1
				for kh := 0; kh < m.kernelH; kh++ {
					inH := oh*m.strideH + kh - m.padH
					if inH < 0 || inH >= h {
						continue
					}
					for kw := 0; kw < m.kernelW; kw++ {
						inW := ow*m.strideW + kw - m.padW
						if inW < 0 || inW >= w {
							continue
						}
						idx := inBase + inH*w + inW
						if v := x.Data[idx]; bestIdx < 0 || v > best {
							best, bestIdx = v, idx
						}
					}
				}
				pos := outBase + oh*outW + ow
				out.Data[pos] = best
				m.argmax[pos] = bestIdx
			}
		}
	}
	m.inputShape = append(m.inputShape[:0], x.Shape...)
	return out, nil
}

// Backward routes each output gradient to the input position that won the max.
func (m *MaxPool2D) Backward(grad *tensor.Tensor) (*tensor.Tensor, error) {
	if m.inputShape == nil {
		return nil, ErrNoForward
	}
	if grad.Len() != len(m.argmax) {
		return nil, errors.Wrapf(tensor.ErrShape, "maxpool2d: grad has %d values, want %d", grad.Len(), len(m.argmax))
	}
	gradIn := tensor.New(m.inputShape...)
	gradIn.DType = grad.DType
	gradIn.Device = grad.Device
	for pos, idx := range m.argmax {
		if idx >= 0 {
			gradIn.Data[idx] += grad.Data[pos]
		}
	}
	return gradIn, nil
}

func (m *MaxPool2D) Params() []*tensor.Param { return nil }

func (m *MaxPool2D) OutShape(in []int) ([]int, error) {
	if len(in) != 3 {
		return nil, errors.Wrapf(tensor.ErrShape, "maxpool2d: want [C H W], got %v", in)
	}
	outH, outW := m.computeOutputSize(in[1], in[2])
	if outH <= 0 || outW <= 0 {
		return nil, errors.Wrapf(tensor.ErrShape, "maxpool2d: window %dx%d does not fit input %dx%d", m.kernelH, m.kernelW, in[1], in[2])
	}
	return []int{in[0], outH, outW}, nil
}

func (m *MaxPool2D) Clone() Layer {
	return NewMaxPool2D(m.kernelH, m.kernelW, m.strideH, m.strideW, m.padH, m.padW, m.ceilMode)
}

func (m *MaxPool2D) Name() string {
	return fmt.Sprintf("MaxPool2D(%dx%d)", m.kernelH, m.kernelW)
}
